package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"mafin/logger"
)

// Series is an append-only on-disk table holding the records of one
// feed. Rows are stored as CSV with a header row matching the record
// schema so the file stays readable by tools written independently of
// this process. The first column is the synchronization column and keys
// are kept in non-decreasing order with no duplicates.
//
// A series has a single writer (its feed synchronizer) and any number
// of readers. Mutations take the write lock, Read takes the read lock,
// so readers never block each other and are only held up for the
// duration of one file operation.
type Series struct {
	mu   sync.RWMutex
	path string
	log  *logger.Log

	// tail state, maintained across mutations once loaded
	loaded  bool
	lastKey int64
	rows    int
	schema  []string
}

// NewSeries provisions the backing location for a series. The parent
// directory is created and an empty file is touched so that a read
// before the first fetch sees an empty series rather than a missing
// path.
func NewSeries(path string) (*Series, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create series directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create series file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close series file: %w", err)
	}
	return &Series{path: path, log: logger.GetLogger()}, nil
}

// Path returns the backing file location.
func (s *Series) Path() string {
	return s.path
}

// Overwrite atomically replaces the stored series with the given batch,
// sorted by synchronization key. The file is written to a sibling temp
// file and renamed so readers never observe a half-written table.
func (s *Series) Overwrite(batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overwriteLocked(batch)
}

func (s *Series) overwriteLocked(batch Batch) error {
	sorted := batch.Sorted()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp series file: %w", err)
	}

	w := csv.NewWriter(f)
	if len(sorted.Schema) > 0 {
		if err := w.Write(sorted.Schema); err != nil {
			f.Close()
			return fmt.Errorf("write series header: %w", err)
		}
	}
	last := int64(0)
	rows := 0
	for _, rec := range sorted.Records {
		if rows > 0 && rec.Key <= last {
			continue
		}
		if err := w.Write(rec.Values); err != nil {
			f.Close()
			return fmt.Errorf("write series row: %w", err)
		}
		last = rec.Key
		rows++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush series file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp series file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("commit series file: %w", err)
	}

	s.loaded = true
	s.lastKey = last
	s.rows = rows
	s.schema = append([]string(nil), sorted.Schema...)
	return nil
}

// MergeAppend merges a fetched batch into the stored series. Only
// records with a synchronization key strictly greater than the last
// stored key are appended, which makes repeated merges of overlapping
// fetch windows idempotent. An empty or unreadable store degrades to
// Overwrite; an empty batch is a no-op.
func (s *Series) MergeAppend(batch Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.Empty() {
		return nil
	}
	if len(batch.Schema) == 0 {
		// Cannot happen by construction, but never corrupt the store.
		s.log.WithComponent("store").WithFields(logger.Fields{
			"path": s.path,
		}).Warn("batch without schema, skipping merge")
		return nil
	}

	if !s.loaded {
		if err := s.loadTailLocked(); err != nil {
			s.log.WithComponent("store").WithFields(logger.Fields{
				"path": s.path,
			}).WithError(err).Warn("unreadable series, overwriting")
			return s.overwriteLocked(batch)
		}
	}
	if s.rows == 0 {
		return s.overwriteLocked(batch)
	}
	if !sameSchema(s.schema, batch.Schema) {
		s.log.WithComponent("store").WithFields(logger.Fields{
			"path":   s.path,
			"stored": s.schema,
			"batch":  batch.Schema,
		}).Warn("schema mismatch, skipping merge")
		return nil
	}

	sorted := batch.Sorted()
	fresh := make([]Record, 0, len(sorted.Records))
	last := s.lastKey
	for _, rec := range sorted.Records {
		if rec.Key <= last {
			continue
		}
		fresh = append(fresh, rec)
		last = rec.Key
	}
	if len(fresh) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open series for append: %w", err)
	}
	w := csv.NewWriter(f)
	for _, rec := range fresh {
		if err := w.Write(rec.Values); err != nil {
			f.Close()
			return fmt.Errorf("append series row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush series append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close series after append: %w", err)
	}

	s.lastKey = last
	s.rows += len(fresh)
	return nil
}

// Read returns the full stored series. A missing, empty or corrupt
// backing file reads back as an empty series, never an error; a corrupt
// file is recovered by the next successful fetch overwriting it.
func (s *Series) Read() Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if err != nil {
		return Batch{}
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return Batch{}
	}

	batch := Batch{Schema: header}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.WithComponent("store").WithFields(logger.Fields{
				"path": s.path,
			}).WithError(err).Warn("corrupt series row, returning rows read so far")
			break
		}
		key, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			s.log.WithComponent("store").WithFields(logger.Fields{
				"path": s.path,
			}).WithError(err).Warn("malformed synchronization key, treating series as empty")
			return Batch{}
		}
		batch.Records = append(batch.Records, Record{Key: key, Values: row})
	}
	return batch
}

// LastKey returns the greatest stored synchronization key, or false
// when the series holds no rows yet.
func (s *Series) LastKey() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		if err := s.loadTailLocked(); err != nil {
			return 0, false
		}
	}
	if s.rows == 0 {
		return 0, false
	}
	return s.lastKey, true
}

// Dispose removes the backing store. Used for ephemeral per-order
// scratch series.
func (s *Series) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dispose series: %w", err)
	}
	s.loaded = true
	s.lastKey = 0
	s.rows = 0
	s.schema = nil
	return nil
}

// loadTailLocked scans the backing file to recover the header, row
// count and last synchronization key after a restart.
func (s *Series) loadTailLocked() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			s.rows = 0
			return nil
		}
		return fmt.Errorf("open series: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		s.loaded = true
		s.rows = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("read series header: %w", err)
	}

	rows := 0
	last := int64(0)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read series row: %w", err)
		}
		key, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parse synchronization key: %w", err)
		}
		last = key
		rows++
	}

	s.loaded = true
	s.schema = header
	s.rows = rows
	s.lastKey = last
	return nil
}
