// Package notify renders update events and delivers them to every destination.
//
// Each destination is attempted exactly once per event. A failed destination
// is logged and skipped; it never blocks the others and never undoes the
// persisted update. Platforms are pluggable via Sender.
package notify
