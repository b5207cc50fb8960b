// Package dedupe provides delivery markers backed by a time-based cache,
// used to keep store-and-forward notification delivery at-most-once per
// subscriber within a configurable window.
package dedupe
