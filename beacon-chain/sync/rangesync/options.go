package rangesync

// Default tunables, per spec.md §4.1 and §6.
const (
	DefaultEpochsPerBatch                   = 2
	DefaultBatchSlotOffset                  = 1
	DefaultMaxDownloadAttempts              = 5
	DefaultMaxProcessingAttempts            = 3
	DefaultBatchBufferSize                  = 5
	DefaultParallelHeadChains               = 2
	DefaultMinFinalizedChainValidatedEpochs = 10
)

// Config carries the tunable configuration recognized by range sync
// (spec.md §6). Zero-value Config is invalid; use NewConfig to obtain the
// defaults, then apply Options.
type Config struct {
	EpochsPerBatch                   uint64
	BatchSlotOffset                  uint64
	MaxDownloadAttempts              int
	MaxProcessingAttempts            int
	BatchBufferSize                  int
	ParallelHeadChains               int
	MinFinalizedChainValidatedEpochs uint64
}

// NewConfig returns a Config populated with the spec's defaults.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		EpochsPerBatch:                   DefaultEpochsPerBatch,
		BatchSlotOffset:                  DefaultBatchSlotOffset,
		MaxDownloadAttempts:              DefaultMaxDownloadAttempts,
		MaxProcessingAttempts:            DefaultMaxProcessingAttempts,
		BatchBufferSize:                  DefaultBatchBufferSize,
		ParallelHeadChains:               DefaultParallelHeadChains,
		MinFinalizedChainValidatedEpochs: DefaultMinFinalizedChainValidatedEpochs,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.EpochsPerBatch < 1 {
		return nil, newError(KindWrongBatchState, "epochs_per_batch must be >= 1")
	}
	return cfg, nil
}

// Option mutates a Config, in the style of beacon-chain/sync's
// functional-options (see beacon-chain/sync/options.go).
type Option func(cfg *Config) error

// WithEpochsPerBatch overrides EPOCHS_PER_BATCH. Must be >= 1.
func WithEpochsPerBatch(n uint64) Option {
	return func(cfg *Config) error {
		cfg.EpochsPerBatch = n
		return nil
	}
}

// WithBatchBufferSize overrides BATCH_BUFFER_SIZE.
func WithBatchBufferSize(n int) Option {
	return func(cfg *Config) error {
		cfg.BatchBufferSize = n
		return nil
	}
}

// WithMaxDownloadAttempts overrides MAX_DOWNLOAD_ATTEMPTS.
func WithMaxDownloadAttempts(n int) Option {
	return func(cfg *Config) error {
		cfg.MaxDownloadAttempts = n
		return nil
	}
}

// WithMaxProcessingAttempts overrides MAX_PROCESSING_ATTEMPTS.
func WithMaxProcessingAttempts(n int) Option {
	return func(cfg *Config) error {
		cfg.MaxProcessingAttempts = n
		return nil
	}
}

// WithParallelHeadChains overrides PARALLEL_HEAD_CHAINS.
func WithParallelHeadChains(n int) Option {
	return func(cfg *Config) error {
		cfg.ParallelHeadChains = n
		return nil
	}
}

// WithMinFinalizedChainValidatedEpochs overrides
// MIN_FINALIZED_CHAIN_VALIDATED_EPOCHS.
func WithMinFinalizedChainValidatedEpochs(n uint64) Option {
	return func(cfg *Config) error {
		cfg.MinFinalizedChainValidatedEpochs = n
		return nil
	}
}
