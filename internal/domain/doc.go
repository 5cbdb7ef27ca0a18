// Package domain contains the entities shared by the sync and scheduling
// engine: tasks with their per-provider remote references, list bindings,
// deletion tombstones and pending alarm/geofence triggers. It has no
// infrastructure dependencies beyond uuid.
package domain
