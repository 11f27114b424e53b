// Package wal implements the per-node storage engine: an in-memory
// string map made durable by a plain-text write-ahead log. Every
// mutation is appended and flushed to the log before it becomes visible
// in memory, so replaying the log reconstructs the map after a crash.
//
// Log format, one record per line, LF-terminated:
//
//	PUT <key> <value>   value is the remainder of the line, spaces allowed
//	DEL <key>
//
// Keys must not contain whitespace and values must not contain line
// breaks; both are rejected at the door. Unknown tags and malformed
// lines are skipped (and counted) during replay, which also heals a
// torn final line.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrInvalidKey rejects keys that cannot be tokenized back out of
	// the log.
	ErrInvalidKey = errors.New("wal: key must be non-empty and contain no whitespace")
	// ErrInvalidValue rejects values that would span log lines.
	ErrInvalidValue = errors.New("wal: value must not contain line breaks")
)

const (
	tagPut = "PUT"
	tagDel = "DEL"
)

// Store is a WAL-backed key-value map. All methods are safe for
// concurrent use. Lock order is walMu before dataMu; the WAL mutex
// serializes log appends, the data lock serializes map access.
type Store struct {
	walMu sync.Mutex
	file  *os.File
	w     *bufio.Writer

	dataMu sync.RWMutex
	data   map[string]string

	path    string
	skipped int
	log     *zap.Logger
}

// Open replays the log at path (creating it if absent), then keeps the
// file open for appends for the life of the store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		data: make(map[string]string),
		path: path,
		log:  logger,
	}
	if err := s.replay(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s for append: %w", path, err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	return s, nil
}

func (s *Store) replay() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("wal: open %s for replay: %w", s.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// a non-terminated tail was never flushed in full; discard it
			if line != "" {
				s.skipped++
			}
			break
		}
		if err != nil {
			return fmt.Errorf("wal: replay %s: %w", s.path, err)
		}
		s.apply(strings.TrimSuffix(line, "\n"))
	}
	if s.skipped > 0 {
		s.log.Warn("wal replay skipped records",
			zap.String("path", s.path),
			zap.Int("skipped", s.skipped),
			zap.Int("applied", len(s.data)))
	}
	return nil
}

// apply replays one complete log line into the in-memory map.
func (s *Store) apply(line string) {
	tag, rest, _ := strings.Cut(line, " ")
	switch tag {
	case tagPut:
		key, value, ok := strings.Cut(rest, " ")
		if !ok || key == "" {
			s.skipped++
			return
		}
		s.data[key] = value
	case tagDel:
		if rest == "" || strings.ContainsRune(rest, ' ') {
			s.skipped++
			return
		}
		delete(s.data, rest)
	default:
		s.skipped++
	}
}

// Put logs the write, flushes, then applies it in memory. On a log
// failure the in-memory map is left untouched.
func (s *Store) Put(key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}

	s.walMu.Lock()
	err := s.append(putRecord(key, value))
	s.walMu.Unlock()
	if err != nil {
		return err
	}

	s.dataMu.Lock()
	s.data[key] = value
	s.dataMu.Unlock()
	return nil
}

// Get returns the stored value. The empty string is a legitimate stored
// value; absence is reported through ok.
func (s *Store) Get(key string) (string, bool) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Remove logs the delete, flushes, then erases the key, reporting
// whether it was present.
func (s *Store) Remove(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.walMu.Lock()
	err := s.append(delRecord(key))
	s.walMu.Unlock()
	if err != nil {
		return false, err
	}

	s.dataMu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.dataMu.Unlock()
	return existed, nil
}

// PutBatch logs every record under a single WAL acquisition with one
// flush, then applies all of them under a single data-lock acquisition.
// This is the redistribution path. The batch is not atomic across a
// crash; replay applies whatever was durably logged.
func (s *Store) PutBatch(kvs map[string]string) error {
	if len(kvs) == 0 {
		return nil
	}
	for k, v := range kvs {
		if err := validate(k, v); err != nil {
			return err
		}
	}

	s.walMu.Lock()
	var records strings.Builder
	for k, v := range kvs {
		records.WriteString(putRecord(k, v))
	}
	err := s.append(records.String())
	s.walMu.Unlock()
	if err != nil {
		return err
	}

	s.dataMu.Lock()
	for k, v := range kvs {
		s.data[k] = v
	}
	s.dataMu.Unlock()
	return nil
}

// RemoveBatch is the delete-side counterpart of PutBatch.
func (s *Store) RemoveBatch(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	for _, k := range keys {
		if err := validateKey(k); err != nil {
			return err
		}
	}

	s.walMu.Lock()
	var records strings.Builder
	for _, k := range keys {
		records.WriteString(delRecord(k))
	}
	err := s.append(records.String())
	s.walMu.Unlock()
	if err != nil {
		return err
	}

	s.dataMu.Lock()
	for _, k := range keys {
		delete(s.data, k)
	}
	s.dataMu.Unlock()
	return nil
}

// append writes and flushes under walMu (held by the caller).
func (s *Store) append(records string) error {
	if _, err := s.w.WriteString(records); err != nil {
		return fmt.Errorf("wal: append %s: %w", s.path, err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("wal: flush %s: %w", s.path, err)
	}
	return nil
}

// Keys returns a copy of the key set.
func (s *Store) Keys() []string {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a copy of the whole map.
func (s *Store) Snapshot() map[string]string {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	out := make(map[string]string, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

func (s *Store) Len() int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.data)
}

// SkippedRecords reports how many malformed or unknown lines replay
// dropped.
func (s *Store) SkippedRecords() int {
	return s.skipped
}

func (s *Store) Path() string {
	return s.path
}

// Close flushes and releases the append handle. The store must not be
// used afterwards.
func (s *Store) Close() error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("wal: flush on close %s: %w", s.path, flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("wal: close %s: %w", s.path, closeErr)
	}
	return nil
}

func putRecord(key, value string) string {
	return tagPut + " " + key + " " + value + "\n"
}

func delRecord(key string) string {
	return tagDel + " " + key + "\n"
}

func validate(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if strings.ContainsAny(value, "\n\r") {
		return ErrInvalidValue
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, " \t\n\r") {
		return ErrInvalidKey
	}
	return nil
}
