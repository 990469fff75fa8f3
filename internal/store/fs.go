package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// shardLen is the number of leading name characters used as the shard
// directory, e.g. "2010-01-01_foo.png" is stored under "2010-01/".
const shardLen = 7

// FS stores each blob as a file under <root>/<shard>/<name>. Writes land
// in a temporary file that is renamed into place on Close.
type FS struct {
	fs   afero.Fs
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFS returns a store rooted at root on fsys.
func NewFS(fsys afero.Fs, root string) *FS {
	return &FS{
		fs:    fsys,
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// NewOSFS returns a store rooted at a directory of the local filesystem.
func NewOSFS(root string) *FS {
	return NewFS(afero.NewOsFs(), root)
}

func shard(name string) string {
	if len(name) > shardLen {
		return name[:shardLen]
	}
	return name
}

func (s *FS) blobPath(name string) string {
	return path.Join(s.root, shard(name), name)
}

// List implements Store. Only files at <root>/<shard>/<name> whose shard
// matches the name are blobs; anything else under root is ignored. Names
// are returned sorted.
func (s *FS) List(ctx context.Context) ([]string, error) {
	shards, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.root, err)
	}

	var names []string
	for _, dir := range shards {
		if !dir.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := afero.ReadDir(s.fs, path.Join(s.root, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.root, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || ValidName(name) != nil || shard(name) != dir.Name() {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Open implements Store.
func (s *FS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	f, err := s.fs.Open(s.blobPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	return f, nil
}

// Create implements Store. Concurrent writers of the same name are
// serialized; the last Close wins.
func (s *FS) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	dir := path.Join(s.root, shard(name))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+name+"-")
	if err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	return &fsWriter{store: s, name: name, tmp: tmp}, nil
}

// Exists implements Store.
func (s *FS) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidName(name); err != nil {
		return false, err
	}
	return afero.Exists(s.fs, s.blobPath(name))
}

func (s *FS) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

type fsWriter struct {
	store  *FS
	name   string
	tmp    afero.File
	err    error
	closed bool
}

func (w *fsWriter) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if err != nil && w.err == nil {
		w.err = err
	}
	return n, err
}

func (w *fsWriter) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true

	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil && w.err == nil {
		w.err = err
	}
	if w.err != nil {
		_ = w.store.fs.Remove(tmpName)
		return fmt.Errorf("write %q: %w", w.name, w.err)
	}

	l := w.store.lock(w.name)
	l.Lock()
	defer l.Unlock()

	if err := w.store.fs.Rename(tmpName, w.store.blobPath(w.name)); err != nil {
		_ = w.store.fs.Remove(tmpName)
		return fmt.Errorf("write %q: %w", w.name, err)
	}
	return nil
}
