// Package bindingfile lets a host declare list bindings in a YAML file
// instead of calling the API. The file is re-read whenever it changes and
// the difference against the previous version is applied as Link and
// Unlink calls. Bindings created through the API are never touched.
package bindingfile
