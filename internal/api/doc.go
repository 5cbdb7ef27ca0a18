// Package api handles incoming HTTP requests, request validation and
// response formatting. It adapts HTTP to the task, binding and sync
// services: editing tasks, linking lists, triggering and observing sync
// passes, and reporting geofence transitions from the device.
package api
