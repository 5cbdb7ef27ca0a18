// Package provider defines the contract between the reconciler and remote
// task providers. An Adapter translates between the local task model and a
// provider's native representation and change-detection primitive.
//
// Adapters perform network I/O only. They never write to the local store;
// the reconciler owns every local mutation.
package provider
