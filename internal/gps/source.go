package gps

// Source is the receiver boundary. Real NMEA/UBX drivers implement it
// out-of-tree; the repo ships the Sim walker for bench runs and a scripted
// source in testutil.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Current returns the latest fix. ok is false until the receiver has
	// produced its first fix.
	Current() (Fix, bool)
}
