// Package track maintains the base role's registry of tracked rovers: one
// Peer per rover ID, an insertion-ordered selection cursor, and tolerant
// JSON persistence.
package track

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/trailhound/trailhound/internal/clock"
	"github.com/trailhound/trailhound/internal/gps"
)

// Peer is a tracked rover as last seen by the base.
type Peer struct {
	ID       string
	Fix      gps.Fix
	RSSI     int           // dBm of the last report
	LastSeen int64         // device ticks (ms) at the last report
	Airtime  time.Duration // time-on-air of the last received frame
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the tick source used for LastSeen stamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the peer registry. All methods are safe for concurrent use;
// the dispatcher delivers receive and button events from different
// goroutines.
//
// The cursor always satisfies: index into the insertion order when peers
// exist, -1 exactly when the store is empty.
type Store struct {
	path   string
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	peers  map[string]*Peer
	order  []string // insertion order of live peer IDs
	cursor int
	dirty  bool
}

// NewStore creates an empty registry persisted at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		clock:  clock.NewWall(),
		logger: slog.Default(),
		peers:  make(map[string]*Peer),
		cursor: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normID folds the rover ID to NFC so visually identical IDs from
// different firmware builds collide instead of tracking twice.
func normID(id string) string {
	return norm.NFC.String(id)
}

// Upsert records a report from id. Unknown IDs create a peer (appended to
// the selection order; the very first peer becomes the selection).
// Known IDs merge: only fix fields the report carries overwrite, RSSI and
// airtime always update, and LastSeen refreshes from the clock. Returns
// true when the peer was created.
func (s *Store) Upsert(id string, fix gps.Fix, rssi int, airtime time.Duration) (isNew bool) {
	id = normID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Ticks()
	if p, ok := s.peers[id]; ok {
		p.Fix.Merge(fix)
		p.RSSI = rssi
		p.Airtime = airtime
		p.LastSeen = now
		s.dirty = true
		return false
	}

	s.peers[id] = &Peer{
		ID:       id,
		Fix:      fix.Clone(),
		RSSI:     rssi,
		Airtime:  airtime,
		LastSeen: now,
	}
	s.order = append(s.order, id)
	if s.cursor == -1 {
		s.cursor = 0
	}
	s.dirty = true
	return true
}

// Touch refreshes a peer's LastSeen without changing its data. Returns
// false for unknown IDs.
func (s *Store) Touch(id string) bool {
	id = normID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[id]
	if !ok {
		return false
	}
	p.LastSeen = s.clock.Ticks()
	s.dirty = true
	return true
}

// Get returns a copy of the peer. Mutating the copy never touches the
// registry.
func (s *Store) Get(id string) (Peer, bool) {
	id = normID(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[id]
	if !ok {
		return Peer{}, false
	}
	return copyPeer(p), true
}

// Remove deletes a peer. The cursor keeps pointing at the same peer when
// one earlier in the order is removed; removing the selected peer moves
// the selection to the next survivor, wrapping, or clears it (-1) when the
// store empties. Returns false for unknown IDs.
func (s *Store) Remove(id string) bool {
	id = normID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.peers[id]; !ok {
		return false
	}
	delete(s.peers, id)

	idx := -1
	for i, oid := range s.order {
		if oid == id {
			idx = i
			break
		}
	}
	s.order = append(s.order[:idx], s.order[idx+1:]...)

	switch {
	case len(s.order) == 0:
		s.cursor = -1
	case idx < s.cursor:
		s.cursor--
	case idx == s.cursor && s.cursor >= len(s.order):
		s.cursor = 0
	}
	s.dirty = true
	return true
}

// IDs returns the live peer IDs in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of tracked peers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Selected returns the peer under the cursor.
func (s *Store) Selected() (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cursor == -1 {
		return Peer{}, false
	}
	return copyPeer(s.peers[s.order[s.cursor]]), true
}

// SelectNext advances the cursor one step, wrapping past the end, and
// returns the newly selected peer. False when the store is empty.
func (s *Store) SelectNext() (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return Peer{}, false
	}
	s.cursor = (s.cursor + 1) % len(s.order)
	return copyPeer(s.peers[s.order[s.cursor]]), true
}

// Select aligns the cursor to a known ID. Returns false (cursor
// unchanged) for unknown IDs.
func (s *Store) Select(id string) bool {
	id = normID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, oid := range s.order {
		if oid == id {
			s.cursor = i
			return true
		}
	}
	return false
}

// Dirty reports whether the registry changed since the last successful
// Save or Load. The base role uses it to skip redundant periodic saves.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

func copyPeer(p *Peer) Peer {
	out := *p
	out.Fix = p.Fix.Clone()
	return out
}
