package rangesync

import (
	"math/rand"
	"sort"

	"github.com/libp2p/go-libp2p/core/peer"
)

// activeDownloadCounts returns, for every peer currently in the
// Downloading state across batches, how many batches it is downloading.
// A peer normally holds at most one batch at a time, but the count is
// kept general rather than assumed boolean.
func activeDownloadCounts(batches []*Batch) map[peer.ID]int {
	counts := make(map[peer.ID]int)
	for _, b := range batches {
		if b.State() == BatchDownloading {
			p, ok := b.Peer()
			if ok {
				counts[p]++
			}
		}
	}
	return counts
}

// BestRetryPeer picks the best peer to retry batch's download, per
// spec.md §4.2: exclude peers already failed on this batch; among the
// rest, prefer fewest active downloads, breaking ties deterministically
// by peer id so the choice is reproducible in tests.
func BestRetryPeer(peerset []peer.ID, batch *Batch, batches []*Batch) (peer.ID, bool) {
	failed := make(map[peer.ID]struct{})
	for _, p := range batch.GetFailedPeers() {
		failed[p] = struct{}{}
	}
	counts := activeDownloadCounts(batches)

	var candidates []peer.ID
	for _, p := range peerset {
		if _, ok := failed[p]; ok {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := counts[candidates[i]], counts[candidates[j]]
		if ci != cj {
			return ci < cj
		}
		return candidates[i] < candidates[j]
	})
	return candidates[0], true
}

// IdlePeers returns every peer in peerset with zero active downloads,
// shuffled uniformly at random so that simultaneously created batches
// distribute across peers rather than always favoring the same one
// (spec.md §4.2). Callers pass their own *rand.Rand so tests can inject a
// deterministic seed.
func IdlePeers(peerset []peer.ID, batches []*Batch, rng *rand.Rand) []peer.ID {
	counts := activeDownloadCounts(batches)
	var idle []peer.ID
	for _, p := range peerset {
		if counts[p] == 0 {
			idle = append(idle, p)
		}
	}
	rng.Shuffle(len(idle), func(i, j int) {
		idle[i], idle[j] = idle[j], idle[i]
	})
	return idle
}
