// Package tracker holds the state-tracking core of stolenwatch.
//
// A Poller owns a Cache of the last connection time observed for every
// tagged device. Each cycle it fetches a fresh Snapshot, classifies each
// device as a new power-on event or not (Diff), resolves the location of new
// events, checks it against the geofence and hands qualifying events to the
// alert dispatcher. The cache entry of every device in the snapshot is
// overwritten after the device has been handled, whatever the outcome, so a
// given connection timestamp is classified as new at most once.
//
// # Ownership
//
// The Cache is not safe for concurrent use. Only the goroutine running
// Poller.Run (or the caller of Seed/RunCycle) may touch it.
//
// # Failure policy
//
// Every error inside a cycle (credential, snapshot, panics) is logged and the
// loop waits for the next tick. Location failures only skip the device.
// There is no retry queue: the next scheduled poll is the retry.
package tracker
