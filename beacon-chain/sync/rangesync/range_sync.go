package rangesync

import (
	"sort"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/theQRL/qrysm/consensus-types/primitives"
	"github.com/theQRL/qrysm/time/slots"
)

// PeerStatus is the peer status event RangeSync classifies and routes
// (spec.md §4.5).
type PeerStatus struct {
	FinalizedEpoch primitives.Epoch
	FinalizedRoot  [32]byte
	HeadSlot       primitives.Slot
	HeadRoot       [32]byte
}

// LocalStatusProvider exposes the local chain's checkpoints range sync
// needs to classify peers and anchor new chains (spec.md §3, §4.5). It is
// a narrow read-only view; range sync never mutates local chain state
// itself (spec.md §1 out of scope: block-by-block execution).
type LocalStatusProvider interface {
	FinalizedEpoch() primitives.Epoch
	HeadSlot() primitives.Slot
	// HeadEpoch anchors a Head-sync chain. Per spec.md §9's open
	// question on what to anchor at when a peer's finalized root
	// coincides with a non-finalized local block, this package follows
	// the spec's own recommendation and always anchors head chains at
	// the local head epoch.
	HeadEpoch() primitives.Epoch
	// HasBlock reports whether root is known locally.
	HasBlock(root [32]byte) bool
}

// Classify implements the pure classification function of spec.md §4.5 /
// §3: given the local checkpoints and one peer's advertised status,
// decide whether (and how) that peer is relevant to range sync.
func Classify(local LocalStatusProvider, status PeerStatus) (SyncType, bool) {
	if status.FinalizedEpoch > local.FinalizedEpoch() && !local.HasBlock(status.FinalizedRoot) {
		return SyncTypeFinalized, true
	}
	if local.HasBlock(status.FinalizedRoot) && status.HeadSlot > local.HeadSlot() {
		return SyncTypeHead, true
	}
	return SyncTypeFinalized, false
}

type chainKey struct {
	syncType SyncType
	root     [32]byte
}

// ChainSummary is a read-only snapshot of one managed chain, for health
// checks and debug surfaces (a natural complement to onEnd not named
// explicitly by spec.md, added per SPEC_FULL.md §4).
type ChainSummary struct {
	SyncType        SyncType
	Target          ChainTarget
	HasTarget       bool
	Status          ChainStatus
	ValidatedEpochs uint64
	PeerCount       int
}

// RangeSync manages many SyncChains, classifying peers into finalized vs
// head sync types and selecting which chains are actively syncing under
// a parallelism budget (spec.md §4.5).
type RangeSync struct {
	cfg   *Config
	cb    Callbacks
	local LocalStatusProvider

	onChainEnd func(SyncType, error)

	mu     sync.Mutex
	chains map[chainKey]*SyncChain
}

// NewRangeSync constructs a RangeSync manager. onChainEnd, if non-nil, is
// invoked (outside any internal lock) every time a managed chain
// terminates, after RangeSync has already removed it and re-run
// selection.
func NewRangeSync(local LocalStatusProvider, cb Callbacks, cfg *Config, onChainEnd func(SyncType, error)) *RangeSync {
	return &RangeSync{
		cfg:        cfg,
		cb:         cb,
		local:      local,
		onChainEnd: onChainEnd,
		chains:     make(map[chainKey]*SyncChain),
	}
}

// AddPeerStatus classifies p's advertised status and routes it to the
// appropriate chain, creating one if needed, then re-runs chain
// selection (spec.md §4.5).
func (r *RangeSync) AddPeerStatus(p peer.ID, status PeerStatus) {
	syncType, ok := Classify(r.local, status)
	if !ok {
		r.RemovePeer(p)
		return
	}
	var target ChainTarget
	if syncType == SyncTypeFinalized {
		target = ChainTarget{Slot: slots.EpochStart(status.FinalizedEpoch), Root: status.FinalizedRoot}
	} else {
		target = ChainTarget{Slot: status.HeadSlot, Root: status.HeadRoot}
	}
	r.boundTarget(&target)
	r.route(p, syncType, target)
	r.reselect()
}

// RemovePeer drops p from every chain it belongs to, removing any chain
// that is left with no peers, then re-runs chain selection.
func (r *RangeSync) RemovePeer(p peer.ID) {
	r.mu.Lock()
	chains := make([]*SyncChain, 0, len(r.chains))
	keys := make([]chainKey, 0, len(r.chains))
	for k, c := range r.chains {
		chains = append(chains, c)
		keys = append(keys, k)
	}
	r.mu.Unlock()

	var toRemove []chainKey
	for i, c := range chains {
		c.RemovePeer(p)
		if c.PeerCount() == 0 {
			toRemove = append(toRemove, keys[i])
		}
	}
	if len(toRemove) > 0 {
		r.mu.Lock()
		for _, k := range toRemove {
			if c, ok := r.chains[k]; ok {
				delete(r.chains, k)
				c.Remove()
			}
		}
		r.mu.Unlock()
	}
	r.reselect()
}

func (r *RangeSync) route(p peer.ID, syncType SyncType, target ChainTarget) *SyncChain {
	key := chainKey{syncType: syncType, root: target.Root}

	r.mu.Lock()
	chain, ok := r.chains[key]
	if !ok {
		anchor := r.anchorEpoch(syncType)
		chain = NewSyncChain(anchor, syncType, r.chainCallbacks(key), r.cfg)
		r.chains[key] = chain
	}
	r.mu.Unlock()

	chain.AddPeer(p, target)
	return chain
}

// boundTarget clamps a candidate target's slot to the current wall-clock
// slot, so a peer advertising a status from the future never anchors a
// chain beyond what could possibly exist yet (spec.md §6: the clock bounds
// candidate chains, it is never part of the sync state machine itself).
// A nil Clock leaves the target unbounded.
func (r *RangeSync) boundTarget(target *ChainTarget) {
	if r.cb.Clock == nil {
		return
	}
	if cur := r.cb.Clock.CurrentSlot(); target.Slot > cur {
		target.Slot = cur
	}
}

func (r *RangeSync) anchorEpoch(syncType SyncType) primitives.Epoch {
	if syncType == SyncTypeFinalized {
		return r.local.FinalizedEpoch()
	}
	return r.local.HeadEpoch()
}

func (r *RangeSync) chainCallbacks(key chainKey) Callbacks {
	return Callbacks{
		Processor: r.cb.Processor,
		Fetcher:   r.cb.Fetcher,
		Reporter:  r.cb.Reporter,
		OnEnd: func(err error) {
			r.mu.Lock()
			delete(r.chains, key)
			r.mu.Unlock()
			r.reselect()
			if r.onChainEnd != nil {
				r.onChainEnd(key.syncType, err)
			}
		},
	}
}

// reselect implements the chain-selection policy of spec.md §4.5:
// at most one Syncing finalized chain, thrash-guarded by
// MinFinalizedChainValidatedEpochs; up to ParallelHeadChains Syncing head
// chains, only while no finalized chain is syncing.
func (r *RangeSync) reselect() {
	r.mu.Lock()
	var finalized, head []*SyncChain
	for k, c := range r.chains {
		if k.syncType == SyncTypeFinalized {
			finalized = append(finalized, c)
		} else {
			head = append(head, c)
		}
	}
	r.mu.Unlock()

	r.reselectFinalized(finalized)

	anyFinalizedSyncing := false
	for _, c := range finalized {
		if c.IsSyncing() {
			anyFinalizedSyncing = true
			break
		}
	}
	r.reselectHead(head, anyFinalizedSyncing)

	chainsActive.WithLabelValues(SyncTypeFinalized.String()).Set(float64(countSyncing(finalized)))
	chainsActive.WithLabelValues(SyncTypeHead.String()).Set(float64(countSyncing(head)))
}

func countSyncing(chains []*SyncChain) int {
	n := 0
	for _, c := range chains {
		if c.IsSyncing() {
			n++
		}
	}
	return n
}

// sortByPreference orders chains by peer count descending, breaking ties
// in favor of the chain that is already Syncing (spec.md §4.5).
func sortByPreference(chains []*SyncChain) {
	sort.SliceStable(chains, func(i, j int) bool {
		pi, pj := chains[i].PeerCount(), chains[j].PeerCount()
		if pi != pj {
			return pi > pj
		}
		si, sj := chains[i].IsSyncing(), chains[j].IsSyncing()
		return si && !sj
	})
}

func (r *RangeSync) reselectFinalized(chains []*SyncChain) {
	if len(chains) == 0 {
		return
	}
	sortByPreference(chains)
	top := chains[0]

	var current *SyncChain
	for _, c := range chains {
		if c.IsSyncing() {
			current = c
			break
		}
	}
	if current == nil {
		if err := top.StartSyncing(r.local.FinalizedEpoch()); err != nil {
			log.WithError(err).Warn("failed to start finalized sync chain")
		}
		return
	}
	if top == current {
		return
	}
	if top.PeerCount() > current.PeerCount() && current.ValidatedEpochs() > r.cfg.MinFinalizedChainValidatedEpochs {
		current.Stop()
		if err := top.StartSyncing(r.local.FinalizedEpoch()); err != nil {
			log.WithError(err).Warn("failed to switch to preferred finalized sync chain")
		}
	}
}

func (r *RangeSync) reselectHead(chains []*SyncChain, anyFinalizedSyncing bool) {
	if anyFinalizedSyncing {
		for _, c := range chains {
			if c.Status() == ChainSyncing {
				c.Stop()
			}
		}
		return
	}
	sortByPreference(chains)
	for i, c := range chains {
		if i < r.cfg.ParallelHeadChains {
			if c.Status() != ChainSyncing {
				if err := c.StartSyncing(r.local.HeadEpoch()); err != nil {
					log.WithError(err).Warn("failed to start head sync chain")
				}
			}
			continue
		}
		if c.Status() == ChainSyncing {
			c.Stop()
		}
	}
}

// Status returns a snapshot of every chain RangeSync currently manages,
// for external health checks and debug surfaces.
func (r *RangeSync) Status() []ChainSummary {
	r.mu.Lock()
	chains := make([]*SyncChain, 0, len(r.chains))
	for _, c := range r.chains {
		chains = append(chains, c)
	}
	r.mu.Unlock()

	out := make([]ChainSummary, 0, len(chains))
	for _, c := range chains {
		target, hasTarget := c.Target()
		out = append(out, ChainSummary{
			SyncType:        c.SyncType(),
			Target:          target,
			HasTarget:       hasTarget,
			Status:          c.Status(),
			ValidatedEpochs: c.ValidatedEpochs(),
			PeerCount:       c.PeerCount(),
		})
	}
	return out
}
