package rangesync

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"github.com/theQRL/qrysm/async/abool"
	"github.com/theQRL/qrysm/beacon-chain/p2p/peers"
	"github.com/theQRL/qrysm/consensus-types/primitives"
	"github.com/theQRL/qrysm/time/slots"
	"go.opencensus.io/trace"
)

// ChainStatus is a SyncChain's coarse lifecycle state (spec.md §3).
type ChainStatus int

const (
	// ChainStopped has been constructed but not started.
	ChainStopped ChainStatus = iota
	// ChainSyncing is actively downloading and processing batches.
	ChainSyncing
	// ChainSynced reached its target and completed successfully.
	ChainSynced
	// ChainError hit an unrecoverable error.
	ChainError
)

func (s ChainStatus) String() string {
	switch s {
	case ChainStopped:
		return "Stopped"
	case ChainSyncing:
		return "Syncing"
	case ChainSynced:
		return "Synced"
	case ChainError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Callbacks bundles the external collaborators a SyncChain drives,
// injected rather than reached as globals (spec.md §4.4 `fns`, §9 design
// note on avoiding a peer-scoring singleton).
type Callbacks struct {
	Processor BlockProcessor
	Fetcher   BlockRangeFetcher
	Reporter  PeerReporter
	Clock     Clock
	OnEnd     EndListener
}

type dispatch struct {
	batch *Batch
	peer  peer.ID
}

// SyncChain owns one candidate target root: its ordered batches, its
// peerset, and the downloader/processor loops that drive it to Synced or
// Error (spec.md §4.4).
type SyncChain struct {
	cfg *Config
	cb  Callbacks

	syncType SyncType

	mu               sync.Mutex
	startEpoch       primitives.Epoch
	processorTarget  primitives.Epoch
	downloaderTarget primitives.Epoch
	batches          *batchMap
	peerset          map[peer.ID]ChainTarget
	target           *ChainTarget
	status           ChainStatus
	validatedEpochs  uint64

	// syncingFlag mirrors status == ChainSyncing as a lock-free read, for
	// hot-path callers (RangeSync's chain-selection loop, status probes)
	// that only need a quick yes/no without contending the chain's own
	// mutex.
	syncingFlag *abool.AtomicBool

	rng *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	processorTrigger chan struct{}
	processorDone    chan struct{}
	endOnce          sync.Once
	loopOnce         sync.Once
}

// NewSyncChain constructs a chain anchored at startEpoch. It does not
// start; call StartSyncing to ignite the downloader and processor loops.
func NewSyncChain(startEpoch primitives.Epoch, syncType SyncType, cb Callbacks, cfg *Config) *SyncChain {
	ctx, cancel := context.WithCancel(context.Background())
	c := &SyncChain{
		cfg:              cfg,
		cb:               cb,
		syncType:         syncType,
		startEpoch:       startEpoch,
		processorTarget:  startEpoch,
		downloaderTarget: startEpoch,
		batches:          newBatchMap(),
		peerset:          make(map[peer.ID]ChainTarget),
		status:           ChainStopped,
		syncingFlag:      abool.New(),
		rng:              rand.New(rand.NewSource(randSeed())),
		ctx:              ctx,
		cancel:           cancel,
		processorTrigger: make(chan struct{}, 1),
		processorDone:    make(chan struct{}),
	}
	return c
}

func randSeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// SyncType returns the fixed sync type this chain was constructed with.
func (c *SyncChain) SyncType() SyncType {
	return c.syncType
}

// Status returns the chain's current lifecycle status.
func (c *SyncChain) Status() ChainStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsSyncing is a lock-free convenience for Status() == ChainSyncing.
func (c *SyncChain) IsSyncing() bool {
	return c.syncingFlag.IsSet()
}

// StartEpoch returns the chain's current validated-epoch boundary.
func (c *SyncChain) StartEpoch() primitives.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startEpoch
}

// ValidatedEpochs returns the monotonic count of epochs this chain has
// validated so far (spec.md §3, P5).
func (c *SyncChain) ValidatedEpochs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validatedEpochs
}

// Target returns the chain's currently selected target, if any.
func (c *SyncChain) Target() (ChainTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == nil {
		return ChainTarget{}, false
	}
	return *c.target, true
}

// PeerCount returns the number of peers currently claiming this chain.
func (c *SyncChain) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peerset)
}

// Peers returns a snapshot of the chain's current peerset.
func (c *SyncChain) Peers() map[peer.ID]ChainTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[peer.ID]ChainTarget, len(c.peerset))
	for p, t := range c.peerset {
		out[p] = t
	}
	return out
}

// AddPeer adds p claiming target to this chain's peerset and recomputes
// the selected target. Adding the same (peer, target) pair twice is a
// no-op (spec.md §8 idempotence law).
func (c *SyncChain) AddPeer(p peer.ID, target ChainTarget) {
	c.mu.Lock()
	if existing, ok := c.peerset[p]; ok && existing.Equal(target) {
		c.mu.Unlock()
		return
	}
	c.peerset[p] = target
	c.recomputeTargetLocked()
	c.mu.Unlock()
	c.runDownloader()
}

// RemovePeer drops p from this chain's peerset and recomputes the
// selected target.
func (c *SyncChain) RemovePeer(p peer.ID) {
	c.mu.Lock()
	if _, ok := c.peerset[p]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.peerset, p)
	c.recomputeTargetLocked()
	c.mu.Unlock()
}

// recomputeTargetLocked selects the ChainTarget claimed by the most
// peers, breaking ties by lexicographically greatest root (spec.md §4.4).
// Callers must hold c.mu.
func (c *SyncChain) recomputeTargetLocked() {
	if len(c.peerset) == 0 {
		c.target = nil
		return
	}
	counts := make(map[ChainTarget]int, len(c.peerset))
	for _, t := range c.peerset {
		counts[t]++
	}
	var best ChainTarget
	bestCount := 0
	first := true
	for t, cnt := range counts {
		if first || cnt > bestCount || (cnt == bestCount && t.rootGreaterThan(best)) {
			best, bestCount, first = t, cnt, false
		}
	}
	c.target = &best
}

// StartSyncing ignites the chain's downloader and processor loops,
// aligning startEpoch to the local finalized epoch's batch boundary
// (spec.md §4.4).
func (c *SyncChain) StartSyncing(localFinalizedEpoch primitives.Epoch) error {
	c.mu.Lock()
	switch c.status {
	case ChainSyncing:
		c.mu.Unlock()
		return nil
	case ChainSynced, ChainError:
		c.mu.Unlock()
		return ErrStartAfterEnded
	}
	epb := c.cfg.EpochsPerBatch
	aligned := c.startEpoch
	if localFinalizedEpoch > c.startEpoch {
		steps := uint64(localFinalizedEpoch-c.startEpoch) / epb
		aligned = c.startEpoch.Add(steps * epb)
	}
	c.advanceChainLocked(aligned)
	c.status = ChainSyncing
	c.syncingFlag.Set()
	c.mu.Unlock()

	c.loopOnce.Do(func() { go c.processorLoop() })
	c.triggerProcessor()
	c.runDownloader()
	return nil
}

// Stop pauses a Syncing chain back to Stopped without tearing down its
// batches, peerset, or processor goroutine, so it can be resumed later
// with StartSyncing (spec.md §4.5 head-chain rotation: "stopped, not
// removed"). It is a no-op on a chain that isn't Syncing.
func (c *SyncChain) Stop() {
	c.mu.Lock()
	if c.status != ChainSyncing {
		c.mu.Unlock()
		return
	}
	c.status = ChainStopped
	c.syncingFlag.UnSet()
	c.mu.Unlock()
}

// Remove aborts the chain's processor loop and any pending in-flight
// downloads' shared context, silently: no peer reports, no onEnd(err)
// (spec.md §5 Cancellation).
func (c *SyncChain) Remove() {
	c.cancel()
}

// Done returns a channel closed once the processor loop has exited,
// either because the chain reached Synced/Error or because it was
// removed. Callers that need to wait out a teardown (tests, RangeSync's
// own shutdown path) can select on it.
func (c *SyncChain) Done() <-chan struct{} {
	return c.processorDone
}

// runDownloader is the idempotent scan-and-dispatch step of the
// downloader loop (spec.md §4.4). It is pure scheduling and needs no
// channel of its own (spec.md §9 design note); it is safe to call from
// any goroutine and is re-entered on every "trigger" (peer add, download
// completion, chain start).
func (c *SyncChain) runDownloader() {
	c.mu.Lock()
	if c.status != ChainSyncing {
		c.mu.Unlock()
		return
	}

	var dispatches []dispatch

	// Retry: every AwaitingDownload batch gets the best non-failed peer or,
	// when every peer has already failed it, an idle one of those.
	for _, b := range c.batches.Slice() {
		if b.State() != BatchAwaitingDownload {
			continue
		}
		p, ok := BestRetryPeer(c.peersetSliceLocked(), b, c.batches.Slice())
		if !ok {
			idle := IdlePeers(c.peersetSliceLocked(), c.batches.Slice(), c.rng)
			if len(idle) == 0 {
				continue
			}
			p = idle[0]
		}
		if err := b.StartDownloading(p); err != nil {
			log.WithError(err).Error("failed to start downloading batch on retry")
			continue
		}
		dispatches = append(dispatches, dispatch{b, p})
	}

	// Fill: every idle peer gets a freshly created batch, until the
	// buffer is full or the chain's target is reached.
	idle := IdlePeers(c.peersetSliceLocked(), c.batches.Slice(), c.rng)
	for _, p := range idle {
		b, ok := c.includeNextBatchLocked()
		if !ok {
			break
		}
		if err := b.StartDownloading(p); err != nil {
			log.WithError(err).Error("failed to start downloading freshly included batch")
			continue
		}
		dispatches = append(dispatches, dispatch{b, p})
	}

	c.mu.Unlock()

	for _, d := range dispatches {
		go c.sendBatch(d.batch, d.peer)
	}
}

func (c *SyncChain) peersetSliceLocked() []peer.ID {
	out := make([]peer.ID, 0, len(c.peerset))
	for p := range c.peerset {
		out = append(out, p)
	}
	return out
}

// includeNextBatchLocked creates and inserts the next batch to download,
// or returns false when the batch buffer is full or the computed batch
// would start past the chain's target (spec.md §4.4). Callers must hold
// c.mu.
func (c *SyncChain) includeNextBatchLocked() (*Batch, bool) {
	batches := c.batches.Slice()
	inBuffer := 0
	for _, b := range batches {
		if b.InBuffer() {
			inBuffer++
		}
	}
	if inBuffer >= c.cfg.BatchBufferSize {
		return nil, false
	}
	if c.target == nil {
		return nil, false
	}
	startEpoch := toBeDownloadedStartEpoch(batches, c.startEpoch, c.cfg.EpochsPerBatch)
	requestStart := slots.EpochStart(startEpoch) + primitives.Slot(c.cfg.BatchSlotOffset)
	if requestStart > c.target.Slot {
		return nil, false
	}
	if _, exists := c.batches.Get(startEpoch); exists {
		log.WithFields(logrus.Fields{"epoch": startEpoch}).
			Error("invariant violation: batch already exists at computed download epoch")
		return nil, false
	}
	b := NewBatch(startEpoch, c.cfg)
	c.batches.Insert(b)
	c.downloaderTarget = startEpoch.Add(c.cfg.EpochsPerBatch)
	return b, true
}

// sendBatch performs one beacon_blocks_by_range round trip and applies
// its outcome to batch's state machine (spec.md §4.4).
func (c *SyncChain) sendBatch(batch *Batch, p peer.ID) {
	req := batch.Request()
	ctx, span := trace.StartSpan(c.ctx, "rangesync.SyncChain.sendBatch")
	defer span.End()

	blocks, err := c.cb.Fetcher.DownloadBeaconBlocksByRange(ctx, p, req)
	if c.ctx.Err() != nil {
		return // aborted: unwind silently, per spec.md §5.
	}
	if err != nil {
		batchDownloadAttempts.WithLabelValues("error").Inc()
		c.mu.Lock()
		terr := batch.DownloadingError()
		c.mu.Unlock()
		if terr != nil {
			c.fail(terr)
			return
		}
		c.runDownloader()
		return
	}
	batchDownloadAttempts.WithLabelValues("success").Inc()
	c.mu.Lock()
	_ = batch.DownloadingSuccess(blocks)
	c.mu.Unlock()
	c.triggerProcessor()
	c.runDownloader()
}

func (c *SyncChain) triggerProcessor() {
	select {
	case c.processorTrigger <- struct{}{}:
	default:
	}
}

// processorLoop is the chain's single-flight processor task: it wakes on
// a trigger, drains and processes batches until idle, then waits for the
// next trigger (spec.md §9 design note: a bounded channel of unit
// messages stands in for the source's single-flight async iterator).
func (c *SyncChain) processorLoop() {
	defer close(c.processorDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.processorTrigger:
			for {
				select {
				case <-c.ctx.Done():
					return
				default:
				}
				if !c.processorStep() {
					break
				}
			}
		}
	}
}

// processorStep runs one iteration of the processor loop body (spec.md
// §4.4). It returns true if the caller should immediately run another
// iteration (more work may be ready), false if it should go back to
// waiting for a trigger.
func (c *SyncChain) processorStep() bool {
	c.mu.Lock()
	if c.status != ChainSyncing {
		c.mu.Unlock()
		return false
	}
	batches := c.batches.Slice()
	if err := validateBatchesStatus(batches); err != nil {
		c.mu.Unlock()
		c.fail(err)
		return false
	}
	if c.target == nil {
		c.mu.Unlock()
		return false
	}
	target := *c.target
	processedEpoch := toBeProcessedStartEpoch(batches, c.startEpoch, c.cfg.EpochsPerBatch)
	c.processorTarget = processedEpoch
	if slots.EpochStart(processedEpoch) >= target.Slot {
		c.mu.Unlock()
		c.setSynced()
		return false
	}
	batch, ok := getNextBatchToProcess(batches)
	if !ok {
		c.mu.Unlock()
		return false
	}
	blocks, err := batch.StartProcessing()
	c.mu.Unlock()
	if err != nil {
		c.fail(err)
		return false
	}

	_, span := trace.StartSpan(c.ctx, "rangesync.SyncChain.processChainSegment")
	procErr := c.cb.Processor.ProcessChainSegment(c.ctx, blocks)
	span.End()

	if c.ctx.Err() != nil {
		return false // aborted: unwind silently.
	}

	c.mu.Lock()
	if procErr == nil {
		batchProcessingAttempts.WithLabelValues("success").Inc()
		_ = batch.ProcessingSuccess()
		if len(blocks) > 0 {
			c.advanceChainLocked(batch.StartEpoch().Add(c.cfg.EpochsPerBatch))
		}
		c.mu.Unlock()
		c.triggerDownloaderAsync()
		return true
	}

	batchProcessingAttempts.WithLabelValues("error").Inc()
	imported := 0
	if segErr, ok := procErr.(*ChainSegmentError); ok {
		imported = segErr.ImportedBlocks
	}
	terr := batch.ProcessingError()
	if imported > 0 {
		c.advanceChainLocked(batch.StartEpoch())
	}
	// Force re-download of the suspicious prefix: every batch before the
	// one that just failed processing is re-queued (spec.md §4.4 step 5).
	// The failed batch itself is left out of advanceChain so it survives
	// for retry instead of being counted as validated.
	for _, b := range c.batches.Slice() {
		if b.StartEpoch() >= batch.StartEpoch() {
			continue
		}
		if b.State() == BatchAwaitingValidation {
			_ = b.ValidationError()
		}
	}
	c.mu.Unlock()

	if terr != nil {
		c.fail(terr)
		return false
	}
	c.triggerDownloaderAsync()
	return true
}

// triggerDownloaderAsync re-enters the downloader without blocking the
// processor loop on it.
func (c *SyncChain) triggerDownloaderAsync() {
	go c.runDownloader()
}

// advanceChainLocked moves startEpoch forward, removing every batch that
// falls behind it and reporting peers whose failed attempts disagreed
// with the batch that ultimately validated (spec.md §4.4). Callers must
// hold c.mu.
func (c *SyncChain) advanceChainLocked(newStartEpoch primitives.Epoch) {
	if newStartEpoch <= c.startEpoch {
		return
	}
	var epochsValidated uint64
	for _, b := range c.batches.Slice() {
		if b.StartEpoch() >= newStartEpoch {
			continue
		}
		if b.State() == BatchAwaitingValidation {
			attempt, err := b.ValidationSuccess()
			if err == nil {
				for _, fa := range b.FailedProcessingAttempts() {
					if fa.Hash == attempt.Hash {
						continue
					}
					if fa.Peer == attempt.Peer {
						c.reportPeer(fa.Peer, peers.MidTolerance, ReasonInvalidBatchSelf)
					} else {
						c.reportPeer(fa.Peer, peers.LowTolerance, ReasonInvalidBatchOther)
					}
				}
			}
		}
		c.validatedEpochs += c.cfg.EpochsPerBatch
		epochsValidated += c.cfg.EpochsPerBatch
		c.batches.Remove(b.StartEpoch())
	}
	c.startEpoch = newStartEpoch
	if epochsValidated > 0 {
		validatedEpochsTotal.WithLabelValues(c.syncType.String()).Add(float64(epochsValidated))
	}
}

func (c *SyncChain) reportPeer(p peer.ID, action peers.ToleranceAction, reason string) {
	if c.cb.Reporter != nil {
		c.cb.Reporter.ReportPeer(p, action, reason)
	}
	peerReportsTotal.WithLabelValues(reason).Inc()
}

func (c *SyncChain) setSynced() {
	c.mu.Lock()
	if c.status != ChainSyncing {
		c.mu.Unlock()
		return
	}
	c.status = ChainSynced
	c.syncingFlag.UnSet()
	c.mu.Unlock()
	c.finish(nil)
}

// fail transitions the chain to Error and invokes onEnd(err) exactly
// once. MaxProcessingAttempts additionally reports the chain's whole
// peerset LowTolerance (spec.md §7).
func (c *SyncChain) fail(err error) {
	c.mu.Lock()
	if c.status == ChainSynced || c.status == ChainError {
		c.mu.Unlock()
		return
	}
	c.status = ChainError
	c.syncingFlag.UnSet()
	peerset := c.peersetSliceLocked()
	c.mu.Unlock()

	if IsKind(err, KindMaxProcessingAttempts) {
		for _, p := range peerset {
			c.reportPeer(p, peers.LowTolerance, ReasonMaxProcessingAttempts)
		}
	}
	log.WithError(err).WithField("syncType", c.syncType).Error("sync chain failed")
	c.finish(err)
}

func (c *SyncChain) finish(err error) {
	// The chain has ended: release the processor loop (closing Done) and
	// any in-flight downloads.
	c.cancel()
	c.endOnce.Do(func() {
		if c.cb.OnEnd != nil {
			c.cb.OnEnd(err)
		}
	})
}
