package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"triggerd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.fires.jsonl (append-only JSON Lines)
//
// Last-fire times and the recent window are rebuilt from the journal at
// open; appends keep both in sync, so queries never hit the disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	firesFile *os.File

	lastFire map[string]int64 // schedule id -> unix milli
	recent   []FireRecord     // bounded tail, oldest first
}

const fileRecentCap = 200

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	firesPath := prefix + ".fires.jsonl"

	st := &fileStore{
		log:      log,
		lastFire: map[string]int64{},
	}
	if err := st.replay(firesPath); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(firesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	st.firesFile = f
	return st, nil
}

// replay rebuilds in-memory state from the journal. Corrupt lines
// (partial writes from a crash) are skipped, not fatal.
func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	skipped := 0
	for sc.Scan() {
		var rec FireRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			skipped++
			continue
		}
		if rec.ScheduleID == "" {
			skipped++
			continue
		}
		s.rememberLocked(rec)
	}
	if skipped > 0 {
		s.log.Warn("skipped corrupt fire journal lines", logx.Int("count", skipped))
	}
	return sc.Err()
}

// rememberLocked updates lastFire and the recent ring. Callers hold
// s.mu (or run before the store is shared).
func (s *fileStore) rememberLocked(rec FireRecord) {
	ms := rec.FiredAt.UnixMilli()
	if cur, ok := s.lastFire[rec.ScheduleID]; !ok || ms > cur {
		s.lastFire[rec.ScheduleID] = ms
	}
	s.recent = append(s.recent, rec)
	if len(s.recent) > fileRecentCap {
		s.recent = s.recent[len(s.recent)-fileRecentCap:]
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return nil
	}
	err := s.firesFile.Close()
	s.firesFile = nil
	return err
}

func (s *fileStore) AppendFire(ctx context.Context, rec FireRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firesFile == nil {
		return errors.New("fire journal closed")
	}
	if rec.FiredAt.IsZero() {
		rec.FiredAt = time.Now()
	}
	if err := json.NewEncoder(s.firesFile).Encode(rec); err != nil {
		return err
	}
	s.rememberLocked(rec)
	return nil
}

func (s *fileStore) LastFire(ctx context.Context, scheduleID string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.lastFire[scheduleID]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) RecentFires(ctx context.Context, limit int) ([]FireRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	// Newest first.
	out := make([]FireRecord, 0, limit)
	for i := len(s.recent) - 1; i >= len(s.recent)-limit; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}
