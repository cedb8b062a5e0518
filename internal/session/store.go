// Package session tracks in-flight verification exchanges for the local
// UI. Records live only for the process lifetime: a verification payload
// is constructed, exchanged, compared and discarded, never persisted.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pgprooms/pgprooms/internal/verify"
)

// Status of a verification exchange.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusMismatched Status = "mismatched"
	StatusDismissed  Status = "dismissed"
)

// Direction records which side of the exchange this device is on.
type Direction string

const (
	// DirectionShown: this device generated and displayed the payload.
	DirectionShown Direction = "shown"
	// DirectionScanned: this device scanned a peer's payload.
	DirectionScanned Direction = "scanned"
)

var (
	// ErrVerificationNotFound is returned when no exchange has the given ID.
	ErrVerificationNotFound = errors.New("verification not found")
	// ErrAlreadyResolved is returned when resolving a non-pending exchange.
	ErrAlreadyResolved = errors.New("verification already resolved")
)

// Verification is one exchange as seen from this device.
type Verification struct {
	ID               string          `json:"id"`
	Direction        Direction       `json:"direction"`
	LocalFingerprint string          `json:"local_fingerprint"`
	Remote           *verify.Payload `json:"remote,omitempty"`
	SAS              string          `json:"sas,omitempty"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
}

// Event is published to watchers whenever an exchange is created or
// changes status.
type Event struct {
	Verification Verification `json:"verification"`
}

// Store is an in-memory verification-exchange registry. Safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*Verification
	watchers map[int]chan Event
	nextID   int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:     make(map[string]*Verification),
		watchers: make(map[int]chan Event),
	}
}

func newVerificationID() string {
	return "v--" + uuid.NewString()
}

// Begin registers an exchange for a payload this device is displaying.
func (s *Store) Begin(localFingerprint string) *Verification {
	v := &Verification{
		ID:               newVerificationID(),
		Direction:        DirectionShown,
		LocalFingerprint: localFingerprint,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	s.mu.Lock()
	s.byID[v.ID] = v
	// Snapshot before unlocking: once the ID is published a concurrent
	// Resolve may mutate v.
	snapshot := *v
	s.mu.Unlock()
	s.notify(snapshot)
	return copyOf(&snapshot)
}

// RecordScan registers an exchange for a payload this device just
// scanned, together with the SAS both sides will compare.
func (s *Store) RecordScan(localFingerprint string, remote *verify.Payload, sas string) *Verification {
	r := *remote
	v := &Verification{
		ID:               newVerificationID(),
		Direction:        DirectionScanned,
		LocalFingerprint: localFingerprint,
		Remote:           &r,
		SAS:              sas,
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	s.mu.Lock()
	s.byID[v.ID] = v
	snapshot := *v
	s.mu.Unlock()
	s.notify(snapshot)
	return copyOf(&snapshot)
}

// Get returns a copy of the exchange with the given ID.
func (s *Store) Get(id string) (*Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.byID[id]
	if !ok {
		return nil, ErrVerificationNotFound
	}
	return copyOf(v), nil
}

// List returns copies of all exchanges, in no particular order.
func (s *Store) List() []Verification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Verification, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, *copyOf(v))
	}
	return out
}

// Resolve moves a pending exchange to a terminal status after the human
// comparison. Resolving twice is an error.
func (s *Store) Resolve(id string, status Status) (*Verification, error) {
	if status == StatusPending {
		return nil, errors.New("cannot resolve to pending")
	}
	s.mu.Lock()
	v, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrVerificationNotFound
	}
	if v.Status != StatusPending {
		s.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	now := time.Now().UTC()
	v.Status = status
	v.ResolvedAt = &now
	snapshot := *v
	s.mu.Unlock()
	s.notify(snapshot)
	return copyOf(&snapshot), nil
}

// Watch subscribes to exchange events. The returned cancel func must be
// called when done. Slow consumers lose events rather than block the
// verification path.
func (s *Store) Watch() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// WatcherCount reports the number of active watch subscriptions.
func (s *Store) WatcherCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *Store) notify(v Verification) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.watchers {
		select {
		case ch <- Event{Verification: v}:
		default:
		}
	}
}

func copyOf(v *Verification) *Verification {
	c := *v
	if v.Remote != nil {
		r := *v.Remote
		c.Remote = &r
	}
	if v.ResolvedAt != nil {
		t := *v.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
