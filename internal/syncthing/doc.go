// Package syncthing keeps the in-process model of a supervised Syncthing
// instance.
//
// Lifecycle
//
// Manager owns the single lifecycle State:
//
//	stopped  -> starting
//	starting -> running | stopped
//	running  -> stopping | stopped
//	stopping -> stopped
//
// Every change goes through one transition function that checks this table
// under the state lock. Requesting the current state again is a no-op. A
// process that never finished starting can not be reported as running: the
// startup-complete signal is only honoured while starting, and loaded data is
// committed only if no newer process start happened while it was loading.
//
// Model
//
// Folders and devices live in registry maps that are swapped as a whole on
// reload and mutated per record otherwise. Readers get value snapshots
// (Folder, Device) and never a handle into the registry.
//
// Notifications
//
// State changes are announced on a Bus. Lifecycle transitions enqueue their
// notification while still holding the state lock, so the queue order is the
// order the transitions were applied. Enqueueing never blocks and never runs
// a handler: one dispatcher goroutine delivers notifications in order, off
// every Manager lock, so handlers may call back into Manager freely.
package syncthing
