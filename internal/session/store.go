package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry maps a caller session to the session ID the external tool assigned.
type Entry struct {
	Adapter   string    `json:"adapter"`
	SessionID string    `json:"session_id"`
	RemoteID  string    `json:"remote_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists caller-to-tool session mappings. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, adapter, sessionID string) (string, bool, error)
	Put(ctx context.Context, adapter, sessionID, remoteID string) error
	Delete(ctx context.Context, adapter, sessionID string) error
	// List returns entries for adapter, or for all adapters when adapter is empty, newest first.
	List(ctx context.Context, adapter string) ([]Entry, error)
}

type key struct{ adapter, session string }

// MemoryStore keeps mappings for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[key]Entry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[key]Entry{}, now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, adapter, sessionID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key{adapter, sessionID}]
	return e.RemoteID, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, adapter, sessionID, remoteID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key{adapter, sessionID}] = Entry{Adapter: adapter, SessionID: sessionID, RemoteID: remoteID, UpdatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, adapter, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key{adapter, sessionID})
	return nil
}

func (s *MemoryStore) List(ctx context.Context, adapter string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if adapter == "" || e.Adapter == adapter {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		if entries[i].Adapter != entries[j].Adapter {
			return entries[i].Adapter < entries[j].Adapter
		}
		return entries[i].SessionID < entries[j].SessionID
	})
}
