package gps

import (
	"math/rand"
	"sync"
	"time"
)

// Bench-walk defaults. The origin matches the coordinates the hardware
// mock reported so persisted files from bench runs look familiar.
const (
	simOriginLat = 36.1569
	simOriginLon = -95.9915
	simOriginAlt = 198.0
)

// Sim is a random-walk Source for bench runs: every Current call takes one
// step from the origin and advances the fix time by one second.
//
// Seeded sims are fully deterministic.
type Sim struct {
	mu   sync.Mutex
	rng  *rand.Rand
	fix  Fix
	unix int64
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSeed makes the walk deterministic.
func WithSeed(seed int64) SimOption {
	return func(s *Sim) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithOrigin overrides the walk's starting coordinates.
func WithOrigin(lat, lon float64) SimOption {
	return func(s *Sim) {
		s.fix.Lat = ptr(lat)
		s.fix.Lon = ptr(lon)
	}
}

// WithStartTime overrides the starting fix time (Unix seconds). Defaults
// to the wall clock at construction.
func WithStartTime(unix int64) SimOption {
	return func(s *Sim) { s.unix = unix }
}

// NewSim creates a walker at the default origin.
func NewSim(opts ...SimOption) *Sim {
	s := &Sim{
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		unix: time.Now().Unix(),
	}
	s.fix.Lat = ptr(simOriginLat)
	s.fix.Lon = ptr(simOriginLon)
	s.fix.Alt = ptr(simOriginAlt)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current takes one walk step and returns the new fix. ok is always true:
// the sim has a fix from construction.
func (s *Sim) Current() (Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	*s.fix.Lat += (s.rng.Float64() - 0.5) * 0.001
	*s.fix.Lon += (s.rng.Float64() - 0.5) * 0.001
	*s.fix.Alt += (s.rng.Float64() - 0.5) * 2
	s.fix.Sat = ptr(4 + s.rng.Intn(9))
	s.unix++
	s.fix.UT = ptr(s.unix)

	return s.fix.Clone(), true
}
