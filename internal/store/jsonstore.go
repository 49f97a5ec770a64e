package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/torvand/bellhop/internal/domain"
)

// JSONStore keeps the whole subscription document in a single JSON file
// and re-reads it on every operation, so the rendered file stays the
// only source of truth across restarts.
//
// Updates are serialized per server id: two commands racing on the same
// server queue up instead of overwriting each other's whole-document
// write. A second mutex guards the file itself, since every save is a
// whole-document replace.
type JSONStore struct {
	path string

	fileMu sync.RWMutex

	mu    sync.Mutex
	locks map[domain.ServerID]*sync.Mutex
}

func New(path string) *JSONStore {
	return &JSONStore{
		path:  path,
		locks: make(map[domain.ServerID]*sync.Mutex),
	}
}

func (s *JSONStore) serverLock(id domain.ServerID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// load reads the document off disk. A missing file is an empty
// document; an unparseable one is ErrCorruptStore, fatal to the
// invoking command only.
func (s *JSONStore) load() (domain.Document, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Document{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var doc domain.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptStore, err)
	}
	if doc == nil {
		doc = domain.Document{}
	}
	return doc, nil
}

func (s *JSONStore) save(doc domain.Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o644)
}

func (s *JSONStore) View(ctx context.Context, fn func(domain.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.fileMu.RLock()
	doc, err := s.load()
	s.fileMu.RUnlock()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *JSONStore) Update(ctx context.Context, server domain.ServerID, fn func(domain.ServerSubs) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.serverLock(server)
	l.Lock()
	defer l.Unlock()

	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	subs, ok := doc[server]
	if !ok {
		subs = domain.ServerSubs{}
	}
	subs = subs.Clone()
	if err := fn(subs); err != nil {
		return err
	}
	doc[server] = subs
	return s.save(doc)
}

func (s *JSONStore) EnsureServers(ctx context.Context, servers []domain.ServerID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	added := 0
	for _, id := range servers {
		if _, ok := doc[id]; !ok {
			doc[id] = domain.ServerSubs{}
			added++
		}
	}
	if added == 0 {
		return nil
	}
	log.Info().Str("module", "store").Int("servers", added).Msg("seeded server entries")
	return s.save(doc)
}
