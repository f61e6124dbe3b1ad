package params

import "github.com/theQRL/qrysm/consensus-types/primitives"

// BeaconChainConfig tracks the network constants that range sync needs to
// convert between slots and epochs. Only the fields range sync depends on
// are carried here; the rest of the real beacon-chain config lives outside
// this module's scope.
type BeaconChainConfig struct {
	SlotsPerEpoch primitives.Slot
}

var mainnetBeaconConfig = &BeaconChainConfig{
	SlotsPerEpoch: 32,
}

var minimalBeaconConfig = &BeaconChainConfig{
	SlotsPerEpoch: 8,
}

var activeConfig = mainnetBeaconConfig

// BeaconConfig returns the currently active network configuration.
func BeaconConfig() *BeaconChainConfig {
	return activeConfig
}

// UseMainnetConfig selects the mainnet SLOTS_PER_EPOCH.
func UseMainnetConfig() {
	activeConfig = mainnetBeaconConfig
}

// UseMinimalConfig selects the minimal-preset SLOTS_PER_EPOCH, used by
// spec-conformance test suites that need a smaller epoch length.
func UseMinimalConfig() {
	activeConfig = minimalBeaconConfig
}

// OverrideBeaconConfig replaces the active configuration wholesale. Tests
// use this to exercise arbitrary SLOTS_PER_EPOCH values (e.g. the spec's
// worked examples, which use 32).
func OverrideBeaconConfig(cfg *BeaconChainConfig) {
	activeConfig = cfg
}
