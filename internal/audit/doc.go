// Package audit carries lifecycle events from the engine to an external sink.
// The Dispatcher decouples emission from delivery so a slow or failing sink
// never fails the primary operation. Every event that cannot be delivered is
// counted and logged.
package audit
