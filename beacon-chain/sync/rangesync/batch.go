package rangesync

import (
	"crypto/sha256"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/theQRL/qrysm/consensus-types/primitives"
	"github.com/theQRL/qrysm/time/slots"
)

// batchHashDomain domain-separates a batch's attempt hash from any other
// use of sha256 over block roots elsewhere in the client.
const batchHashDomain = "RANGE_SYNC_BATCH_HASH"

// BatchState is the discriminant of a Batch's tagged-variant state
// machine (spec.md §3, §4.1). Go has no sum types, so the payload fields
// that are only meaningful in some states (peer, blocks, attempt) live
// directly on Batch; each transition method validates the discriminant
// before touching them, the way a tagged variant would validate its tag.
type BatchState int

const (
	// BatchAwaitingDownload has no peer or blocks assigned yet.
	BatchAwaitingDownload BatchState = iota
	// BatchDownloading has peer assigned, blocks not yet received.
	BatchDownloading
	// BatchAwaitingProcessing has peer and blocks, not yet handed to the
	// processor.
	BatchAwaitingProcessing
	// BatchProcessing has an attempt (peer, hash) in flight with the
	// external processor.
	BatchProcessing
	// BatchAwaitingValidation has a completed attempt, waiting for the
	// owning chain to advance past it.
	BatchAwaitingValidation
)

func (s BatchState) String() string {
	switch s {
	case BatchAwaitingDownload:
		return "AwaitingDownload"
	case BatchDownloading:
		return "Downloading"
	case BatchAwaitingProcessing:
		return "AwaitingProcessing"
	case BatchProcessing:
		return "Processing"
	case BatchAwaitingValidation:
		return "AwaitingValidation"
	default:
		return "Unknown"
	}
}

// Attempt is the (peer, hash-of-blocks) witness of one download that
// reached processing (spec.md GLOSSARY).
type Attempt struct {
	Peer peer.ID
	Hash [32]byte
}

// Batch is one unit of work covering EPOCHS_PER_BATCH consecutive epochs
// (spec.md §3, §4.1). It is a passive value type: all mutation happens
// through its state-machine methods, driven by the owning SyncChain, per
// the design note against cyclic Batch<->SyncChain references.
type Batch struct {
	startEpoch primitives.Epoch
	request    Request

	maxDownloadAttempts   int
	maxProcessingAttempts int

	state  BatchState
	peer   peer.ID
	blocks []SignedBlock
	attempt Attempt

	failedDownloadAttempts   []peer.ID
	failedProcessingAttempts []Attempt
}

// NewBatch constructs a Batch anchored at startEpoch, aligned per
// spec.md's "+1 slot offset" rationale: the first slot of the epoch is
// assumed already held by the previous batch, so requests start one slot
// into the epoch.
func NewBatch(startEpoch primitives.Epoch, cfg *Config) *Batch {
	startSlot := slots.EpochStart(startEpoch) + primitives.Slot(cfg.BatchSlotOffset)
	count := cfg.EpochsPerBatch * slots.PerEpoch()
	return &Batch{
		startEpoch: startEpoch,
		request: Request{
			StartSlot: startSlot,
			Count:     count,
			Step:      1,
		},
		maxDownloadAttempts:   cfg.MaxDownloadAttempts,
		maxProcessingAttempts: cfg.MaxProcessingAttempts,
		state:                 BatchAwaitingDownload,
	}
}

// StartEpoch returns the epoch this batch was anchored at.
func (b *Batch) StartEpoch() primitives.Epoch {
	return b.startEpoch
}

// State returns the batch's current state-machine discriminant.
func (b *Batch) State() BatchState {
	return b.state
}

// Request returns the beacon_blocks_by_range request this batch will
// issue, or has issued, to a peer.
func (b *Batch) Request() Request {
	return b.request
}

// Peer returns the peer currently holding this batch (downloading,
// awaiting processing, processing, or awaiting validation) and whether
// one is assigned.
func (b *Batch) Peer() (peer.ID, bool) {
	if b.state == BatchAwaitingDownload {
		return "", false
	}
	return b.peer, true
}

// Blocks returns the blocks currently held by the batch (valid in
// AwaitingProcessing and Processing).
func (b *Batch) Blocks() []SignedBlock {
	return b.blocks
}

// CurrentAttempt returns the batch's in-flight or completed attempt,
// valid in Processing and AwaitingValidation.
func (b *Batch) CurrentAttempt() (Attempt, bool) {
	if b.state != BatchProcessing && b.state != BatchAwaitingValidation {
		return Attempt{}, false
	}
	return b.attempt, true
}

// FailedDownloadAttempts returns a copy of the peers that failed to
// download this batch.
func (b *Batch) FailedDownloadAttempts() []peer.ID {
	out := make([]peer.ID, len(b.failedDownloadAttempts))
	copy(out, b.failedDownloadAttempts)
	return out
}

// FailedProcessingAttempts returns a copy of the attempts that failed
// processing or validation for this batch.
func (b *Batch) FailedProcessingAttempts() []Attempt {
	out := make([]Attempt, len(b.failedProcessingAttempts))
	copy(out, b.failedProcessingAttempts)
	return out
}

// GetFailedPeers returns the unique set of peers that have already
// failed this batch, either at download or at processing/validation
// (spec.md §4.2: excluded from retry selection).
func (b *Batch) GetFailedPeers() []peer.ID {
	seen := make(map[peer.ID]struct{})
	var out []peer.ID
	for _, p := range b.failedDownloadAttempts {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, a := range b.failedProcessingAttempts {
		if _, ok := seen[a.Peer]; !ok {
			seen[a.Peer] = struct{}{}
			out = append(out, a.Peer)
		}
	}
	return out
}

// InBuffer reports whether this batch occupies a slot in the batch
// buffer: currently downloading or holding blocks awaiting processing
// (spec.md §4.4 includeNextBatch, GLOSSARY "batch buffer").
func (b *Batch) InBuffer() bool {
	return b.state == BatchDownloading || b.state == BatchAwaitingProcessing
}

func (b *Batch) stateErr(method string) error {
	return wrapError(KindWrongBatchState, ErrWrongBatchState,
		fmt.Sprintf("%s called on batch %d in state %s", method, b.startEpoch, b.state))
}

// StartDownloading transitions AwaitingDownload -> Downloading{peer}.
func (b *Batch) StartDownloading(p peer.ID) error {
	if b.state != BatchAwaitingDownload {
		return b.stateErr("StartDownloading")
	}
	b.state = BatchDownloading
	b.peer = p
	b.blocks = nil
	return nil
}

// DownloadingSuccess transitions Downloading -> AwaitingProcessing{peer,
// blocks}.
func (b *Batch) DownloadingSuccess(blocks []SignedBlock) error {
	if b.state != BatchDownloading {
		return b.stateErr("DownloadingSuccess")
	}
	b.state = BatchAwaitingProcessing
	b.blocks = blocks
	return nil
}

// DownloadingError transitions Downloading -> AwaitingDownload, recording
// the peer as a failed download attempt. Returns ErrMaxDownloadAttempts
// once the per-batch-lifetime cap is reached (spec.md §9 open question,
// resolved as per-batch-lifetime).
func (b *Batch) DownloadingError() error {
	if b.state != BatchDownloading {
		return b.stateErr("DownloadingError")
	}
	b.failedDownloadAttempts = append(b.failedDownloadAttempts, b.peer)
	b.state = BatchAwaitingDownload
	b.peer = ""
	b.blocks = nil
	if len(b.failedDownloadAttempts) >= b.maxDownloadAttempts {
		return ErrMaxDownloadAttempts
	}
	return nil
}

// StartProcessing transitions AwaitingProcessing -> Processing{attempt},
// computing the attempt's hash-of-blocks identity, and returns the blocks
// to hand to the external processor.
func (b *Batch) StartProcessing() ([]SignedBlock, error) {
	if b.state != BatchAwaitingProcessing {
		return nil, b.stateErr("StartProcessing")
	}
	hash, err := hashOfBlocks(b.blocks)
	if err != nil {
		return nil, wrap(err, "hash batch blocks")
	}
	b.attempt = Attempt{Peer: b.peer, Hash: hash}
	b.state = BatchProcessing
	return b.blocks, nil
}

// ProcessingSuccess transitions Processing -> AwaitingValidation{attempt}.
func (b *Batch) ProcessingSuccess() error {
	if b.state != BatchProcessing {
		return b.stateErr("ProcessingSuccess")
	}
	b.state = BatchAwaitingValidation
	return nil
}

// ProcessingError transitions Processing -> AwaitingDownload, recording
// the attempt as a failed processing attempt. Returns
// ErrMaxProcessingAttempts once the cap is reached.
func (b *Batch) ProcessingError() error {
	if b.state != BatchProcessing {
		return b.stateErr("ProcessingError")
	}
	b.failedProcessingAttempts = append(b.failedProcessingAttempts, b.attempt)
	b.state = BatchAwaitingDownload
	b.peer = ""
	b.blocks = nil
	b.attempt = Attempt{}
	if len(b.failedProcessingAttempts) >= b.maxProcessingAttempts {
		return ErrMaxProcessingAttempts
	}
	return nil
}

// ValidationError transitions AwaitingValidation -> AwaitingDownload,
// recording the attempt as failed. Used to force re-download of a
// suspicious prefix (spec.md §4.4 processor loop, step 5). Returns
// ErrMaxProcessingAttempts once the cap is reached.
func (b *Batch) ValidationError() error {
	if b.state != BatchAwaitingValidation {
		return b.stateErr("ValidationError")
	}
	b.failedProcessingAttempts = append(b.failedProcessingAttempts, b.attempt)
	b.state = BatchAwaitingDownload
	b.peer = ""
	b.blocks = nil
	b.attempt = Attempt{}
	if len(b.failedProcessingAttempts) >= b.maxProcessingAttempts {
		return ErrMaxProcessingAttempts
	}
	return nil
}

// ValidationSuccess marks the batch validated, returning the winning
// attempt for peer-scoring. The caller (SyncChain.advanceChainLocked) removes
// the batch from its map after this call; Batch does not track its own
// removal.
func (b *Batch) ValidationSuccess() (Attempt, error) {
	if b.state != BatchAwaitingValidation {
		return Attempt{}, b.stateErr("ValidationSuccess")
	}
	return b.attempt, nil
}

// hashOfBlocks computes a domain-separated hash over the ordered
// hash-tree-roots of blocks, so two peers returning the same blocks
// collapse to the same attempt identity (spec.md §4.1).
func hashOfBlocks(blocks []SignedBlock) ([32]byte, error) {
	h := sha256.New()
	h.Write([]byte(batchHashDomain))
	for _, blk := range blocks {
		root, err := blk.HashTreeRoot()
		if err != nil {
			return [32]byte{}, err
		}
		h.Write(root[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
