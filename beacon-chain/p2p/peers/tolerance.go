package peers

// ToleranceAction grades how severely a misbehaving peer should be
// penalized, mirroring the scoring tiers qrysm's beacon-chain/p2p/peers
// package exposes to its callers (see scorers/scorers_test.go for the
// expected score deltas per tier).
type ToleranceAction int

const (
	// HighTolerance is used for behavior that is suspicious but has a
	// reasonable innocent explanation (e.g. a slow response).
	HighTolerance ToleranceAction = iota
	// MidTolerance is used for behavior that is likely a bug rather than
	// malice (e.g. a peer that corrected its own bad batch on retry).
	MidTolerance
	// LowTolerance is used for behavior that strongly suggests a
	// misbehaving or malicious peer.
	LowTolerance
	// Fatal disconnects and bans the peer outright.
	Fatal
)

func (a ToleranceAction) String() string {
	switch a {
	case HighTolerance:
		return "HighTolerance"
	case MidTolerance:
		return "MidTolerance"
	case LowTolerance:
		return "LowTolerance"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}
