package csrf

import (
	"context"
	"sync"
	"time"
)

// Record is a stored CSRF session.
type Record struct {
	SessionID string
	Token     string
	ClientIP  string
	ExpiresAt time.Time
}

// Valid reports whether the record is still usable at now.
func (r Record) Valid(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Store persists CSRF session records. Implementations must be safe for
// concurrent use. The in-memory store serves single-instance deployments;
// PostgresStore shares state between instances.
type Store interface {
	// Get returns the record for sessionID. Expired records are reported as
	// missing and may be removed as a side effect.
	Get(ctx context.Context, sessionID string) (Record, bool, error)

	// Put inserts or replaces the record for rec.SessionID.
	Put(ctx context.Context, rec Record) error

	// PutIfAbsent stores rec unless an unexpired record already exists for
	// rec.SessionID at now. It returns whichever record is stored afterwards
	// and whether it is rec.
	PutIfAbsent(ctx context.Context, rec Record, now time.Time) (Record, bool, error)

	// Replace atomically swaps the record for sessionID with rec, but only if
	// the stored record is unexpired at now and still carries oldToken.
	// It reports whether the swap happened.
	Replace(ctx context.Context, sessionID, oldToken string, rec Record, now time.Time) (bool, error)

	// Delete removes the record for sessionID, if present.
	Delete(ctx context.Context, sessionID string) error

	// DeleteExpired removes every record expired at now and returns how many
	// were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// Count returns the number of stored records, expired or not.
	Count(ctx context.Context) (int, error)
}

// =============================================================================
// In-memory Store
// =============================================================================

// MemoryStore keeps records in a process-local map.
type MemoryStore struct {
	now func() time.Time

	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store. now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:     now,
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[sessionID]
	s.mu.RUnlock()

	if !ok {
		return Record{}, false, nil
	}

	if !rec.Valid(s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have replaced it.
		if cur, ok := s.records[sessionID]; ok && !cur.Valid(s.now()) {
			delete(s.records, sessionID)
		}
		s.mu.Unlock()
		return Record{}, false, nil
	}

	return rec, true, nil
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.records[rec.SessionID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, rec Record, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.SessionID]; ok && cur.Valid(now) {
		return cur, false, nil
	}
	s.records[rec.SessionID] = rec
	return rec, true, nil
}

func (s *MemoryStore) Replace(_ context.Context, sessionID, oldToken string, rec Record, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[sessionID]
	if !ok || !cur.Valid(now) || !ValidateToken(cur.Token, oldToken) {
		return false, nil
	}
	rec.SessionID = sessionID
	s.records[sessionID] = rec
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.records, sessionID)
	s.mu.Unlock()
	return nil
}

// DeleteExpired collects expired ids under a read lock and deletes them in a
// short write-locked pass so in-flight requests are not blocked for the whole
// scan.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	var expired []string
	for id, rec := range s.records {
		if !rec.Valid(now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0, nil
	}

	removed := 0
	s.mu.Lock()
	for _, id := range expired {
		if rec, ok := s.records[id]; ok && !rec.Valid(now) {
			delete(s.records, id)
			removed++
		}
	}
	s.mu.Unlock()

	return removed, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

var _ Store = (*MemoryStore)(nil)
