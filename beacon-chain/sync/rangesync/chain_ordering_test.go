package rangesync

import (
	"testing"

	"github.com/theQRL/qrysm/consensus-types/primitives"
	"github.com/theQRL/qrysm/testing/assert"
	"github.com/theQRL/qrysm/testing/require"
)

func downloadedBatch(t *testing.T, cfg *Config, epoch primitives.Epoch) *Batch {
	t.Helper()
	b := NewBatch(epoch, cfg)
	require.NoError(t, b.StartDownloading("p1"))
	require.NoError(t, b.DownloadingSuccess(blocksWithRoots(1)))
	return b
}

func awaitingValidationBatch(t *testing.T, cfg *Config, epoch primitives.Epoch) *Batch {
	t.Helper()
	b := downloadedBatch(t, cfg, epoch)
	_, err := b.StartProcessing()
	require.NoError(t, err)
	require.NoError(t, b.ProcessingSuccess())
	return b
}

func TestValidateBatchesStatus_Valid(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	validated := awaitingValidationBatch(t, cfg, 0)
	processing := downloadedBatch(t, cfg, primitives.Epoch(epb))
	_, err := processing.StartProcessing()
	require.NoError(t, err)
	pending := NewBatch(primitives.Epoch(2*epb), cfg)

	err = validateBatchesStatus([]*Batch{validated, processing, pending})
	require.NoError(t, err)
}

func TestValidateBatchesStatus_ProcessingAfterPreProcessing(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	pending := NewBatch(0, cfg)
	processing := downloadedBatch(t, cfg, primitives.Epoch(epb))
	_, err := processing.StartProcessing()
	require.NoError(t, err)

	err = validateBatchesStatus([]*Batch{pending, processing})
	require.ErrorContains(t, "InvalidBatchOrder", err)
}

func TestValidateBatchesStatus_TwoProcessing(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	p1 := downloadedBatch(t, cfg, 0)
	_, err := p1.StartProcessing()
	require.NoError(t, err)
	p2 := downloadedBatch(t, cfg, primitives.Epoch(epb))
	_, err = p2.StartProcessing()
	require.NoError(t, err)

	err = validateBatchesStatus([]*Batch{p1, p2})
	require.ErrorContains(t, "InvalidBatchOrder", err)
}

func TestGetNextBatchToProcess_SkipsValidatedFindsAwaitingProcessing(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	validated := awaitingValidationBatch(t, cfg, 0)
	ready := downloadedBatch(t, cfg, primitives.Epoch(epb))

	got, ok := getNextBatchToProcess([]*Batch{validated, ready})
	require.True(t, ok)
	assert.Equal(t, ready.StartEpoch(), got.StartEpoch())
}

func TestGetNextBatchToProcess_NoneReady(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	validated := awaitingValidationBatch(t, cfg, 0)
	stillDownloading := NewBatch(primitives.Epoch(epb), cfg)

	_, ok := getNextBatchToProcess([]*Batch{validated, stillDownloading})
	assert.Equal(t, false, ok)
}

func TestToBeProcessedStartEpoch(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	assert.Equal(t, primitives.Epoch(0), toBeProcessedStartEpoch(nil, 0, epb))

	v1 := awaitingValidationBatch(t, cfg, 0)
	v2 := awaitingValidationBatch(t, cfg, primitives.Epoch(epb))
	got := toBeProcessedStartEpoch([]*Batch{v1, v2}, 0, epb)
	assert.Equal(t, primitives.Epoch(2*epb), got)
}

func TestToBeDownloadedStartEpoch(t *testing.T) {
	cfg := testConfig(t)
	epb := cfg.EpochsPerBatch
	assert.Equal(t, primitives.Epoch(5), toBeDownloadedStartEpoch(nil, 5, epb))

	b := NewBatch(primitives.Epoch(3*epb), cfg)
	got := toBeDownloadedStartEpoch([]*Batch{b}, 0, epb)
	assert.Equal(t, primitives.Epoch(4*epb), got)
}
