package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
)

const fileFormatVersion = 1

// fileState is the on-disk layout: collections of documents keyed by id.
// A published state is never mutated; Update works on a copy.
type fileState struct {
	Version     int                          `json:"version"`
	Collections map[Kind]map[string]Document `json:"collections"`
}

func newFileState() *fileState {
	return &fileState{Version: fileFormatVersion, Collections: make(map[Kind]map[string]Document)}
}

// FileStore keeps every document in one JSON file. Writers are serialized
// through a single mutex; readers see the last published snapshot.
// An empty path keeps the state in memory only.
type FileStore struct {
	path    string
	writeMu sync.Mutex
	state   atomic.Pointer[fileState]
	closed  atomic.Bool
}

// OpenFileStore loads path (creating its directory) or starts empty when the
// file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}
	st := newFileState()

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read storage file: %w", err)
		case len(raw) > 0:
			if err := json.Unmarshal(raw, st); err != nil {
				return nil, fmt.Errorf("failed to parse storage file: %w", err)
			}
			if st.Collections == nil {
				st.Collections = make(map[Kind]map[string]Document)
			}
			for kind, docs := range st.Collections {
				for id, d := range docs {
					d.Kind, d.ID = kind, id
					docs[id] = d
				}
			}
		}
	}

	s.state.Store(st)
	return s, nil
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	s, _ := OpenFileStore("")
	return s
}

func (s *FileStore) Name() string {
	if s.path == "" {
		return "memory"
	}
	return "file"
}

func (s *FileStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &fileTx{base: s.state.Load(), dirty: make(map[Kind]map[string]Document)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.dirty) == 0 {
		return nil
	}

	next := tx.commit()
	if s.path != "" {
		if err := writeFileAtomic(s.path, next); err != nil {
			return err
		}
	}
	s.state.Store(next)
	return nil
}

func (s *FileStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&fileTx{base: s.state.Load(), readOnly: true})
}

// Close waits for an in-flight write and rejects later calls.
func (s *FileStore) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.closed.Store(true)
	return nil
}

func writeFileAtomic(path string, st *fileState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode storage file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}

// fileTx reads through to base and copies a collection on its first write.
type fileTx struct {
	base     *fileState
	dirty    map[Kind]map[string]Document
	readOnly bool
}

func (t *fileTx) collection(kind Kind) map[string]Document {
	if docs, ok := t.dirty[kind]; ok {
		return docs
	}
	return t.base.Collections[kind]
}

func (t *fileTx) writable(kind Kind) map[string]Document {
	if docs, ok := t.dirty[kind]; ok {
		return docs
	}
	src := t.base.Collections[kind]
	docs := make(map[string]Document, len(src)+1)
	for id, d := range src {
		docs[id] = d
	}
	t.dirty[kind] = docs
	return docs
}

func (t *fileTx) commit() *fileState {
	next := &fileState{Version: fileFormatVersion, Collections: make(map[Kind]map[string]Document, len(t.base.Collections)+len(t.dirty))}
	for kind, docs := range t.base.Collections {
		next.Collections[kind] = docs
	}
	for kind, docs := range t.dirty {
		next.Collections[kind] = docs
	}
	return next
}

func (t *fileTx) Get(_ context.Context, kind Kind, id string) (Document, bool, error) {
	d, ok := t.collection(kind)[id]
	return d, ok, nil
}

func (t *fileTx) Put(_ context.Context, doc Document) error {
	if t.readOnly {
		return errors.New("storage: write in read-only transaction")
	}
	if doc.ID == "" {
		return errors.New("storage: document without id")
	}
	body := make(json.RawMessage, len(doc.Body))
	copy(body, doc.Body)
	doc.Body = body
	t.writable(doc.Kind)[doc.ID] = doc
	return nil
}

func (t *fileTx) Delete(_ context.Context, kind Kind, id string) error {
	if t.readOnly {
		return errors.New("storage: write in read-only transaction")
	}
	if _, ok := t.collection(kind)[id]; !ok {
		return nil
	}
	delete(t.writable(kind), id)
	return nil
}

func (t *fileTx) List(_ context.Context, kind Kind, filter Filter) ([]Document, error) {
	docs := t.collection(kind)
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if filter.match(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
