package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNoCredential is returned when an account has no stored blob.
var ErrNoCredential = errors.New("no credential stored")

// writerWeight is the semaphore weight of an exclusive holder; readers
// take one unit each.
const writerWeight = 1 << 16

// FileStore keeps one storage-state file per credential reference. Each
// reference has a single-writer lock: readers share it, Save and Lease
// holders own it exclusively, and every acquisition honours ctx.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}
	return &FileStore{dir: dir, locks: make(map[string]*semaphore.Weighted)}, nil
}

// Path returns the file holding ref's blob.
func (s *FileStore) Path(ref string) string {
	return filepath.Join(s.dir, ref+".json")
}

// Exists reports whether a blob is stored for ref. It does not lock.
func (s *FileStore) Exists(ref string) bool {
	_, err := os.Stat(s.Path(ref))
	return err == nil
}

// Load reads ref's blob under shared access.
func (s *FileStore) Load(ctx context.Context, ref string) ([]byte, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	sem := s.lockFor(ref)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for credential %s: %w", ref, err)
	}
	defer sem.Release(1)

	return s.read(ref)
}

// Save replaces ref's blob under exclusive access.
func (s *FileStore) Save(ctx context.Context, ref string, blob []byte) error {
	if err := checkRef(ref); err != nil {
		return err
	}

	sem := s.lockFor(ref)
	if err := sem.Acquire(ctx, writerWeight); err != nil {
		return fmt.Errorf("wait for credential %s: %w", ref, err)
	}
	defer sem.Release(writerWeight)

	return s.write(ref, blob)
}

// Delete removes ref's blob under exclusive access. Deleting a missing
// blob is not an error.
func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := checkRef(ref); err != nil {
		return err
	}

	sem := s.lockFor(ref)
	if err := sem.Acquire(ctx, writerWeight); err != nil {
		return fmt.Errorf("wait for credential %s: %w", ref, err)
	}
	defer sem.Release(writerWeight)

	if err := os.Remove(s.Path(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credential %s: %w", ref, err)
	}
	return nil
}

// Lock takes exclusive access to ref until the returned lease is released.
func (s *FileStore) Lock(ctx context.Context, ref string) (*Lease, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	sem := s.lockFor(ref)
	if err := sem.Acquire(ctx, writerWeight); err != nil {
		return nil, fmt.Errorf("lock credential %s: %w", ref, err)
	}
	return &Lease{store: s, ref: ref, sem: sem}, nil
}

// Lease is exclusive access to one credential.
type Lease struct {
	store *FileStore
	ref   string
	sem   *semaphore.Weighted
	once  sync.Once
}

// Ref is the leased credential reference.
func (l *Lease) Ref() string { return l.ref }

// Save writes the blob while the lease is held.
func (l *Lease) Save(blob []byte) error {
	return l.store.write(l.ref, blob)
}

// Release gives up exclusive access. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { l.sem.Release(writerWeight) })
}

func (s *FileStore) lockFor(ref string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()

	sem, ok := s.locks[ref]
	if !ok {
		sem = semaphore.NewWeighted(writerWeight)
		s.locks[ref] = sem
	}
	return sem
}

func (s *FileStore) read(ref string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNoCredential)
		}
		return nil, fmt.Errorf("read credential %s: %w", ref, err)
	}
	return data, nil
}

// write replaces the file atomically so a crash never leaves half a blob.
func (s *FileStore) write(ref string, blob []byte) error {
	tmp, err := os.CreateTemp(s.dir, ref+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write credential %s: %w", ref, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync credential %s: %w", ref, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close credential %s: %w", ref, err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod credential %s: %w", ref, err)
	}
	if err := os.Rename(tmpPath, s.Path(ref)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace credential %s: %w", ref, err)
	}
	return nil
}

func checkRef(ref string) error {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("invalid credential reference %q", ref)
	}
	return nil
}
