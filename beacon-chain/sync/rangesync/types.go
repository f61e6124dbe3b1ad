package rangesync

import (
	"bytes"
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/theQRL/qrysm/beacon-chain/p2p/peers"
	"github.com/theQRL/qrysm/consensus-types/primitives"
)

// SignedBlock is the only capability range sync needs from a downloaded
// block: its hash-tree-root, used to build a batch's attempt identity
// (spec.md §4.1). Range sync never inspects block contents; that stays a
// concern of the external block processor (spec.md §6).
type SignedBlock interface {
	HashTreeRoot() ([32]byte, error)
}

// ChainTarget identifies the head a peer claims as canonical.
type ChainTarget struct {
	Slot primitives.Slot
	Root [32]byte
}

// Equal reports whether two targets carry the same slot and root.
func (t ChainTarget) Equal(o ChainTarget) bool {
	return t.Slot == o.Slot && bytes.Equal(t.Root[:], o.Root[:])
}

// rootGreaterThan reports whether t's root is lexicographically greater
// than o's, used to break ties among equally-popular targets in favor of
// the greatest root (spec.md §3, §4.4).
func (t ChainTarget) rootGreaterThan(o ChainTarget) bool {
	return bytes.Compare(t.Root[:], o.Root[:]) > 0
}

// SyncType classifies a peer relative to the local chain (spec.md §3).
type SyncType int

const (
	// SyncTypeFinalized syncs up to a peer's advertised finalized
	// checkpoint.
	SyncTypeFinalized SyncType = iota
	// SyncTypeHead performs a short-range sync to a peer's advertised
	// head.
	SyncTypeHead
)

func (s SyncType) String() string {
	switch s {
	case SyncTypeFinalized:
		return "finalized"
	case SyncTypeHead:
		return "head"
	default:
		return "unknown"
	}
}

// Request is a beacon_blocks_by_range request: deliver blocks with slots
// in [StartSlot, StartSlot+Count) at the given Step, matching the shape
// of qrysm's zondpb.BeaconBlocksByRangeRequest (see
// beacon-chain/sync/rpc_send_request_test.go).
type Request struct {
	StartSlot primitives.Slot
	Count     uint64
	Step      uint64
}

// ChainSegmentError is returned by BlockProcessor.ProcessChainSegment when
// not all blocks in a segment were imported. ImportedBlocks records how
// many blocks succeeded before the failure, per spec.md §6.
type ChainSegmentError struct {
	ImportedBlocks int
	Err            error
}

func (e *ChainSegmentError) Error() string {
	return e.Err.Error()
}

func (e *ChainSegmentError) Unwrap() error {
	return e.Err
}

// BlockProcessor applies a fully ordered chain segment to the local
// chain. It is the external collaborator named in spec.md §6.
type BlockProcessor interface {
	ProcessChainSegment(ctx context.Context, blocks []SignedBlock) error
}

// BlockRangeFetcher performs one beacon_blocks_by_range round trip
// against a single peer. It is the external collaborator named in
// spec.md §6.
type BlockRangeFetcher interface {
	DownloadBeaconBlocksByRange(ctx context.Context, p peer.ID, req Request) ([]SignedBlock, error)
}

// PeerReporter is a fire-and-forget peer-scoring sink, injected rather
// than reached as a global singleton (spec.md §9 design notes).
type PeerReporter interface {
	ReportPeer(p peer.ID, action peers.ToleranceAction, reason string)
}

// Clock produces the current slot, used only to bound candidate chains,
// never as part of the sync state machine itself (spec.md §6).
type Clock interface {
	CurrentSlot() primitives.Slot
}

// EndListener is notified exactly once when a SyncChain terminates.
type EndListener func(err error)

// Peer report reasons, named exactly as spec.md §6 requires.
const (
	ReasonInvalidBatchSelf        = "SyncChainInvalidBatchSelf"
	ReasonInvalidBatchOther       = "SyncChainInvalidBatchOther"
	ReasonMaxProcessingAttempts   = "SyncChainMaxProcessingAttempts"
)
