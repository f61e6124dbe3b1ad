// Package slots provides slot/epoch conversion helpers shared by the
// range-sync engine, mirroring the surface qrysm's time/slots package
// exposes to beacon-chain/sync.
package slots

import (
	"github.com/theQRL/qrysm/config/params"
	"github.com/theQRL/qrysm/consensus-types/primitives"
)

// ToEpoch returns the epoch number for a given slot.
func ToEpoch(slot primitives.Slot) primitives.Epoch {
	return primitives.Epoch(slot.Div(uint64(params.BeaconConfig().SlotsPerEpoch)))
}

// EpochStart returns the first slot of an epoch.
func EpochStart(epoch primitives.Epoch) primitives.Slot {
	return primitives.Slot(epoch) * params.BeaconConfig().SlotsPerEpoch
}

// EpochEnd returns the last slot of an epoch.
func EpochEnd(epoch primitives.Epoch) primitives.Slot {
	return EpochStart(epoch.Add(1)) - 1
}

// PerEpoch returns SLOTS_PER_EPOCH as a plain uint64, for arithmetic call
// sites that don't want to carry the Slot type through.
func PerEpoch() uint64 {
	return uint64(params.BeaconConfig().SlotsPerEpoch)
}
