// Package service contains the application use cases that sit between the
// HTTP API and the sync engine: editing tasks through the change tracker,
// linking and unlinking remote lists, and keeping alarms in step with
// what sync passes changed.
//
// Services receive their dependencies through constructor injection and
// depend on store interfaces, never on SQL implementations.
package service
