package testutil

import (
	"sync"

	"github.com/trailhound/trailhound/internal/gps"
)

// GPSSource is a scriptable fix source. It reports no fix until SetFix is
// called.
type GPSSource struct {
	mu  sync.Mutex
	fix gps.Fix
	ok  bool
}

// NewGPSSource creates a source with no fix.
func NewGPSSource() *GPSSource {
	return &GPSSource{}
}

// SetFix sets the fix returned by Current.
func (s *GPSSource) SetFix(f gps.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fix = f
	s.ok = true
}

// ClearFix returns the source to the no-fix state.
func (s *GPSSource) ClearFix() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fix = gps.Fix{}
	s.ok = false
}

// Current implements gps.Source.
func (s *GPSSource) Current() (gps.Fix, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fix.Clone(), s.ok
}
