// Package jobs implements the external job runner that alarm and geofence
// triggers are handed to.
//
// Jobs are persisted through store.JobStore under a unique key, so
// scheduling the same key twice is a no-op. A poll loop claims due time
// jobs and feeds them through a bounded Queue to a WorkerPool; region jobs
// are claimed when ReportRegionEvent reports a matching transition.
// Delivery to the Handler is at-least-once: jobs interrupted by a crash are
// reset to pending on the next Start, and jobs stuck in processing are
// requeued by a monitor.
package jobs
