// Package alarm keeps each task's reminder and geofence triggers in step
// with the task. Every change to the fields that drive triggers moves the
// task to a new trigger generation; jobs scheduled for older generations
// are cancelled, and any that still fire are suppressed.
package alarm
