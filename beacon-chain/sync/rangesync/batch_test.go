package rangesync

import (
	"testing"

	"github.com/theQRL/qrysm/testing/assert"
	"github.com/theQRL/qrysm/testing/require"
)

type fakeBlock struct {
	root [32]byte
}

func (b fakeBlock) HashTreeRoot() ([32]byte, error) {
	return b.root, nil
}

func blocksWithRoots(bs ...byte) []SignedBlock {
	out := make([]SignedBlock, len(bs))
	for i, b := range bs {
		var root [32]byte
		root[0] = b
		out[i] = fakeBlock{root: root}
	}
	return out
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig()
	require.NoError(t, err)
	return cfg
}

func TestBatch_HappyPath(t *testing.T) {
	cfg := testConfig(t)
	b := NewBatch(0, cfg)
	assert.Equal(t, BatchAwaitingDownload, b.State())

	require.NoError(t, b.StartDownloading("peer1"))
	assert.Equal(t, BatchDownloading, b.State())

	blocks := blocksWithRoots(1, 2, 3)
	require.NoError(t, b.DownloadingSuccess(blocks))
	assert.Equal(t, BatchAwaitingProcessing, b.State())

	got, err := b.StartProcessing()
	require.NoError(t, err)
	assert.Equal(t, len(blocks), len(got))
	assert.Equal(t, BatchProcessing, b.State())

	require.NoError(t, b.ProcessingSuccess())
	assert.Equal(t, BatchAwaitingValidation, b.State())

	attempt, err := b.ValidationSuccess()
	require.NoError(t, err)
	assert.Equal(t, "peer1", string(attempt.Peer))
}

func TestBatch_WrongStateTransitionsFail(t *testing.T) {
	cfg := testConfig(t)
	b := NewBatch(0, cfg)

	err := b.DownloadingSuccess(nil)
	require.ErrorContains(t, "called on batch", err)
	assert.Equal(t, KindWrongBatchState, err.(*Error).Kind)

	_, err = b.StartProcessing()
	require.ErrorContains(t, "called on batch", err)

	err = b.ProcessingSuccess()
	require.ErrorContains(t, "called on batch", err)
}

func TestBatch_DownloadingErrorRetriesThenExhausts(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDownloadAttempts = 2
	b := NewBatch(0, cfg)

	require.NoError(t, b.StartDownloading("peer1"))
	err := b.DownloadingError()
	require.NoError(t, err)
	assert.Equal(t, BatchAwaitingDownload, b.State())
	assert.Equal(t, 1, len(b.FailedDownloadAttempts()))

	require.NoError(t, b.StartDownloading("peer2"))
	err = b.DownloadingError()
	if err == nil || !IsKind(err, KindMaxDownloadAttempts) {
		t.Fatalf("expected ErrMaxDownloadAttempts, got %v", err)
	}
	assert.Equal(t, 2, len(b.FailedDownloadAttempts()))
}

func TestBatch_ProcessingErrorRetriesThenExhausts(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxProcessingAttempts = 2
	b := NewBatch(0, cfg)

	require.NoError(t, b.StartDownloading("peer1"))
	require.NoError(t, b.DownloadingSuccess(blocksWithRoots(1)))
	_, err := b.StartProcessing()
	require.NoError(t, err)
	err = b.ProcessingError()
	require.NoError(t, err)
	assert.Equal(t, BatchAwaitingDownload, b.State())

	require.NoError(t, b.StartDownloading("peer2"))
	require.NoError(t, b.DownloadingSuccess(blocksWithRoots(1)))
	_, err = b.StartProcessing()
	require.NoError(t, err)
	err = b.ProcessingError()
	if err == nil || !IsKind(err, KindMaxProcessingAttempts) {
		t.Fatalf("expected ErrMaxProcessingAttempts, got %v", err)
	}
}

func TestBatch_HashOfBlocksIsOrderStable(t *testing.T) {
	cfg := testConfig(t)
	b1 := NewBatch(0, cfg)
	require.NoError(t, b1.StartDownloading("p1"))
	require.NoError(t, b1.DownloadingSuccess(blocksWithRoots(1, 2)))
	_, err := b1.StartProcessing()
	require.NoError(t, err)
	a1, _ := b1.CurrentAttempt()

	b2 := NewBatch(0, cfg)
	require.NoError(t, b2.StartDownloading("p2"))
	require.NoError(t, b2.DownloadingSuccess(blocksWithRoots(1, 2)))
	_, err = b2.StartProcessing()
	require.NoError(t, err)
	a2, _ := b2.CurrentAttempt()

	assert.Equal(t, a1.Hash, a2.Hash)

	b3 := NewBatch(0, cfg)
	require.NoError(t, b3.StartDownloading("p3"))
	require.NoError(t, b3.DownloadingSuccess(blocksWithRoots(2, 1)))
	_, err = b3.StartProcessing()
	require.NoError(t, err)
	a3, _ := b3.CurrentAttempt()

	if a1.Hash == a3.Hash {
		t.Fatalf("expected different hashes for differently ordered blocks")
	}
}

func TestBatch_InBuffer(t *testing.T) {
	cfg := testConfig(t)
	b := NewBatch(0, cfg)
	assert.Equal(t, false, b.InBuffer())
	require.NoError(t, b.StartDownloading("p1"))
	assert.Equal(t, true, b.InBuffer())
	require.NoError(t, b.DownloadingSuccess(blocksWithRoots(1)))
	assert.Equal(t, true, b.InBuffer())
	_, err := b.StartProcessing()
	require.NoError(t, err)
	assert.Equal(t, false, b.InBuffer())
}
