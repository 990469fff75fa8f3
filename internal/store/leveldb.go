package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var blobPrefix = []byte("blob/")

// LevelDB keeps every blob as a single value keyed by "blob/<name>".
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a LevelDB store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemLevelDB returns a LevelDB store kept entirely in memory.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Close releases the database.
func (s *LevelDB) Close() error {
	return s.db.Close()
}

func blobKey(name string) []byte {
	return append(append([]byte{}, blobPrefix...), name...)
}

// List implements Store. Names are returned in key order.
func (s *LevelDB) List(ctx context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(blobPrefix), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names = append(names, string(bytes.TrimPrefix(it.Key(), blobPrefix)))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return names, nil
}

// Open implements Store.
func (s *LevelDB) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	data, err := s.db.Get(blobKey(name), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("open %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Create implements Store. The blob is buffered and stored on Close.
func (s *LevelDB) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if err := ValidName(name); err != nil {
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	return &levelWriter{db: s.db, name: name}, nil
}

// Exists implements Store.
func (s *LevelDB) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidName(name); err != nil {
		return false, err
	}
	return s.db.Has(blobKey(name), nil)
}

type levelWriter struct {
	db     *leveldb.DB
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *levelWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *levelWriter) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	if err := w.db.Put(blobKey(w.name), w.buf.Bytes(), nil); err != nil {
		return fmt.Errorf("write %q: %w", w.name, err)
	}
	return nil
}
