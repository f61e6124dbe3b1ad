// Package abool re-exports github.com/tevino/abool's atomic boolean under
// qrysm's own import path, the way theQRL/qrysm/v4/async/abool wraps it
// upstream (see beacon-chain/sync/pending_attestations_queue_test.go for a
// call site: abool.New()).
package abool

import "github.com/tevino/abool"

// AtomicBool is a lock-free boolean safe for concurrent use.
type AtomicBool = abool.AtomicBool

// New returns a new AtomicBool, initialized to false.
func New() *AtomicBool {
	return abool.New()
}

// NewBool returns a new AtomicBool initialized to val.
func NewBool(val bool) *AtomicBool {
	return abool.NewBool(val)
}
