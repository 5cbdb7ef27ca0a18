// Package events provides types and interfaces for an event-driven architecture.
//
// Sync passes and fired alarms are published as Events. Components react to
// them without the publisher knowing who listens: the Broadcaster fans
// events out to stream subscribers, the RefreshHandler recounts open tasks
// after a list changed, and the alarm refresher reschedules triggers of
// tasks a sync pass touched.
//
// The primary components are:
// - Event: a typed, JSON-payload notification about one list
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
