package track

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/trailhound/trailhound/internal/gps"
)

// record is the on-disk peer shape, compatible with registry files
// written by earlier firmware.
type record struct {
	ID      string  `json:"id"`
	GPSData gps.Fix `json:"gps_data"`
	RSSI    int     `json:"last_rssi"`
	Track   int64   `json:"last_track"`
	TOA     float64 `json:"last_toa"` // milliseconds, one decimal
}

// Save writes every peer, in insertion order, to the store's path via a
// temp file and rename. A failed save leaves any previous file intact;
// callers log the error and keep running.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]record, 0, len(s.order))
	for _, id := range s.order {
		p := s.peers[id]
		records = append(records, record{
			ID:      p.ID,
			GPSData: p.Fix,
			RSSI:    p.RSSI,
			Track:   p.LastSeen,
			TOA:     roundMillis(p.Airtime),
		})
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal peers: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write peers file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace peers file: %w", err)
	}

	s.dirty = false
	s.logger.Debug("peers saved", "path", s.path, "count", len(records))
	return nil
}

// Load replaces the registry with the file's contents and returns how
// many peers were restored. A missing, unreadable, or malformed file is
// logged and leaves the registry unchanged; boot always proceeds.
//
// LastSeen is re-anchored to the current clock: ticks restart every boot,
// so the persisted last_track from a previous run is meaningless here.
func (s *Store) Load() int {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("no peers file", "path", s.path)
		} else {
			s.logger.Warn("peers file unreadable", "path", s.path, "err", err)
		}
		return 0
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("peers file malformed", "path", s.path, "err", err)
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers = make(map[string]*Peer, len(records))
	s.order = s.order[:0]
	now := s.clock.Ticks()
	for _, rec := range records {
		id := normID(rec.ID)
		if id == "" {
			continue
		}
		if _, dup := s.peers[id]; dup {
			continue
		}
		s.peers[id] = &Peer{
			ID:       id,
			Fix:      rec.GPSData.Clone(),
			RSSI:     rec.RSSI,
			LastSeen: now,
			Airtime:  time.Duration(rec.TOA * float64(time.Millisecond)),
		}
		s.order = append(s.order, id)
	}
	if len(s.order) > 0 {
		s.cursor = 0
	} else {
		s.cursor = -1
	}
	s.dirty = false

	s.logger.Info("peers loaded", "path", s.path, "count", len(s.order))
	return len(s.order)
}

// ReadFile parses the registry file at path without touching a Store.
// Unlike Load it is strict: read and parse failures are returned rather
// than swallowed, and LastSeen carries the tick value as written instead
// of being re-anchored. It exists for tooling that inspects a registry
// offline.
func ReadFile(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read peers file: %w", err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse peers file: %w", err)
	}

	peers := make([]Peer, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		id := normID(rec.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		peers = append(peers, Peer{
			ID:       id,
			Fix:      rec.GPSData.Clone(),
			RSSI:     rec.RSSI,
			LastSeen: rec.Track,
			Airtime:  time.Duration(rec.TOA * float64(time.Millisecond)),
		})
	}
	return peers, nil
}

// roundMillis converts an airtime to milliseconds with one decimal, the
// unit the firmware persisted.
func roundMillis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}
