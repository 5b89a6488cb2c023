// Package trigger tracks engagement triggers that are still "live" for
// late-attribution tagging.
//
// Every trigger shown to the user is recorded with a time-to-live. Reading
// the active list drops expired entries and writes the compacted list back in
// the same atomic kv.Store update, so the persisted list always equals what
// the last reader saw. Outbound events are stamped with that list at enqueue
// time.
package trigger
