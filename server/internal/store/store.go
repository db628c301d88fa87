package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/logmet/logmet-go/internal/ids"
)

// Document is one stored record with the metadata it was received with.
type Document struct {
	// ID is a ULID; documents sort by ID in arrival order.
	ID         string
	TenantID   string
	Type       string
	ReceivedAt time.Time
	Fields     map[string]string
}

// Filter selects documents in Search. A nil Filter matches everything.
type Filter func(*Document) bool

// Store is a thread-safe in-memory document store. Documents are held in
// arrival order; a background goroutine (Run) evicts those older than the
// TTL, and Put evicts the oldest once maxDocs is reached.
type Store struct {
	mu      sync.RWMutex
	docs    []*Document
	ttl     time.Duration
	maxDocs int
	now     func() time.Time // injectable for deterministic tests
}

// New creates a Store. A zero ttl keeps documents until they are pushed out
// by maxDocs; a zero maxDocs means unbounded.
func New(ttl time.Duration, maxDocs int) *Store {
	return &Store{
		ttl:     ttl,
		maxDocs: maxDocs,
		now:     time.Now,
	}
}

// Put stores fields as a new document and returns it. Callers must not
// modify fields after calling Put.
func (s *Store) Put(tenantID, typ string, fields map[string]string) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	doc := &Document{
		ID:         ids.NewAt(now).String(),
		TenantID:   tenantID,
		Type:       typ,
		ReceivedAt: now,
		Fields:     fields,
	}
	if s.maxDocs > 0 && len(s.docs) >= s.maxDocs {
		drop := len(s.docs) - s.maxDocs + 1
		clear(s.docs[:drop])
		s.docs = s.docs[drop:]
	}
	s.docs = append(s.docs, doc)
	return doc
}

// Get returns the document with id.
func (s *Store) Get(id string) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexAfter(id) - 1
	if i >= 0 && s.docs[i].ID == id {
		return s.docs[i], true
	}
	return nil, false
}

// Search returns up to size documents of tenantID and typ that match f,
// newest first, and the total number of matches. An empty typ matches any
// type.
func (s *Store) Search(tenantID, typ string, f Filter, size int) (int, []*Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	out := make([]*Document, 0, min(size, len(s.docs)))
	for i := len(s.docs) - 1; i >= 0; i-- {
		d := s.docs[i]
		if d.TenantID != tenantID || (typ != "" && d.Type != typ) {
			continue
		}
		if f != nil && !f(d) {
			continue
		}
		total++
		if len(out) < size {
			out = append(out, d)
		}
	}
	return total, out
}

// Since returns the documents that arrived after the one with ID cursor, in
// arrival order, at most limit of them. An empty cursor starts from the
// oldest document.
func (s *Store) Since(cursor string, limit int) []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := 0
	if cursor != "" {
		start = s.indexAfter(cursor)
	}
	end := len(s.docs)
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	out := make([]*Document, end-start)
	copy(out, s.docs[start:end])
	return out
}

// Latest returns the ID of the newest document, or "" when empty.
func (s *Store) Latest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return ""
	}
	return s.docs[len(s.docs)-1].ID
}

// Count returns the number of documents currently held, including expired
// ones not yet evicted.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Counts returns the number of documents held per tenant and type.
func (s *Store) Counts() map[string]map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]int)
	for _, d := range s.docs {
		byType, ok := out[d.TenantID]
		if !ok {
			byType = make(map[string]int)
			out[d.TenantID] = byType
		}
		byType[d.Type]++
	}
	return out
}

// Evict removes documents received at or before now minus TTL.
// It returns the number of documents removed.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	n := sort.Search(len(s.docs), func(i int) bool {
		return s.docs[i].ReceivedAt.After(cutoff)
	})
	if n > 0 {
		clear(s.docs[:n])
		s.docs = s.docs[n:]
	}
	return n
}

// Run starts the background TTL eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := max(s.ttl/2, time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted expired documents", "count", n)
			}
		}
	}
}

// indexAfter returns the index of the first document whose ID sorts after
// id. Callers hold mu.
func (s *Store) indexAfter(id string) int {
	return sort.Search(len(s.docs), func(i int) bool { return s.docs[i].ID > id })
}
