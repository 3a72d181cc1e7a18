// ABOUTME: Session Repository abstraction for durable token persistence
// ABOUTME: Memory, file, SQLite slot and Redis backends share one interface

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389/bizhub/internal/store"
)

// Repository persists one token slot plus the explicit logged-out sentinel.
// Save also clears the sentinel. Load returns "" when no token is stored.
type Repository interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
	LoggedOut(ctx context.Context) (bool, error)
	SetLoggedOut(ctx context.Context, loggedOut bool) error
}

// MemoryRepository keeps the slot in process memory.
type MemoryRepository struct {
	mu        sync.Mutex
	token     string
	loggedOut bool
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Load(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryRepository) Save(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.loggedOut = false
	return nil
}

func (m *MemoryRepository) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

func (m *MemoryRepository) LoggedOut(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loggedOut, nil
}

func (m *MemoryRepository) SetLoggedOut(ctx context.Context, loggedOut bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedOut = loggedOut
	return nil
}

// fileState is the on-disk shape of a FileRepository slot.
type fileState struct {
	Token     string `json:"token,omitempty"`
	LoggedOut bool   `json:"logged_out,omitempty"`
}

// FileRepository stores the slot as a 0600 JSON file. The CLI uses it.
type FileRepository struct {
	mu   sync.Mutex
	path string
}

// NewFileRepository returns a repository backed by path. The file is created
// on first write.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (f *FileRepository) read() (fileState, error) {
	var st fileState
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading session file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return fileState{}, fmt.Errorf("parsing session file: %w", err)
	}
	return st, nil
}

func (f *FileRepository) write(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding session file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

func (f *FileRepository) update(fn func(*fileState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	if err != nil {
		return err
	}
	fn(&st)
	return f.write(st)
}

func (f *FileRepository) Load(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	return st.Token, err
}

func (f *FileRepository) Save(ctx context.Context, token string) error {
	return f.update(func(st *fileState) {
		st.Token = token
		st.LoggedOut = false
	})
}

func (f *FileRepository) Clear(ctx context.Context) error {
	return f.update(func(st *fileState) { st.Token = "" })
}

func (f *FileRepository) LoggedOut(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.read()
	return st.LoggedOut, err
}

func (f *FileRepository) SetLoggedOut(ctx context.Context, loggedOut bool) error {
	return f.update(func(st *fileState) { st.LoggedOut = loggedOut })
}

// SlotRepository stores the slot in the portal database.
type SlotRepository struct {
	slots store.SlotStore
	slot  string
}

// NewSlotRepository binds a repository to one named slot.
func NewSlotRepository(slots store.SlotStore, slot string) *SlotRepository {
	return &SlotRepository{slots: slots, slot: slot}
}

func (r *SlotRepository) get(ctx context.Context) (*store.SessionSlot, error) {
	s, err := r.slots.GetSlot(ctx, r.slot)
	if errors.Is(err, store.ErrNotFound) {
		return &store.SessionSlot{Slot: r.slot}, nil
	}
	return s, err
}

func (r *SlotRepository) Load(ctx context.Context) (string, error) {
	s, err := r.get(ctx)
	if err != nil {
		return "", err
	}
	return s.Token, nil
}

func (r *SlotRepository) Save(ctx context.Context, token string) error {
	return r.slots.PutSlotToken(ctx, r.slot, token)
}

func (r *SlotRepository) Clear(ctx context.Context) error {
	return r.slots.ClearSlotToken(ctx, r.slot)
}

func (r *SlotRepository) LoggedOut(ctx context.Context) (bool, error) {
	s, err := r.get(ctx)
	if err != nil {
		return false, err
	}
	return s.LoggedOut, nil
}

func (r *SlotRepository) SetLoggedOut(ctx context.Context, loggedOut bool) error {
	return r.slots.SetSlotLoggedOut(ctx, r.slot, loggedOut)
}
