package primitives

import "strconv"

// Epoch is a span of SLOTS_PER_EPOCH consecutive slots.
type Epoch uint64

// Add returns epoch + x.
func (e Epoch) Add(x uint64) Epoch {
	return e + Epoch(x)
}

// Sub returns epoch - x.
func (e Epoch) Sub(x uint64) Epoch {
	return e - Epoch(x)
}

// SubEpoch returns e - other.
func (e Epoch) SubEpoch(other Epoch) Epoch {
	return e - other
}

// Mul returns epoch * x.
func (e Epoch) Mul(x uint64) Epoch {
	return e * Epoch(x)
}

// Div returns epoch / x.
func (e Epoch) Div(x uint64) Epoch {
	return e / Epoch(x)
}

// Mod returns epoch % x.
func (e Epoch) Mod(x uint64) Epoch {
	return e % Epoch(x)
}

func (e Epoch) String() string {
	return strconv.FormatUint(uint64(e), 10)
}
