package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"triggerd/pkg/logx"
)

func testFireRecord(id, sched string, at time.Time) FireRecord {
	return FireRecord{
		EventID:    id,
		ScheduleID: sched,
		TargetID:   "target-1",
		FiredAt:    at,
	}
}

func TestFileStoreAppendAndQuery(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "audit")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := testFireRecord(string(rune('a'+i)), "daily", base.Add(time.Duration(i)*time.Minute))
		if err := st.AppendFire(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	at, ok, err := st.LastFire(ctx, "daily")
	if err != nil || !ok {
		t.Fatalf("LastFire: at=%v ok=%v err=%v", at, ok, err)
	}
	if !at.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("LastFire = %v, want %v", at, base.Add(2*time.Minute))
	}

	if _, ok, err := st.LastFire(ctx, "missing"); err != nil || ok {
		t.Fatalf("LastFire missing: ok=%v err=%v", ok, err)
	}

	recs, err := st.RecentFires(ctx, 2)
	if err != nil {
		t.Fatalf("RecentFires: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("RecentFires len = %d, want 2", len(recs))
	}
	// Newest first.
	if recs[0].EventID != "c" || recs[1].EventID != "b" {
		t.Fatalf("RecentFires order = %q, %q", recs[0].EventID, recs[1].EventID)
	}
}

func TestFileStoreReplayOnReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit")
	cfg := Config{Driver: "file", Path: path}

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if err := st.AppendFire(context.Background(), testFireRecord("e1", "hourly", at)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a truncated write from a crash.
	f, err := os.OpenFile(path+".fires.jsonl", os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	if _, err := f.WriteString(`{"event_id":"trunc`); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	got, ok, err := st2.LastFire(context.Background(), "hourly")
	if err != nil || !ok {
		t.Fatalf("LastFire after replay: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("LastFire = %v, want %v", got, at)
	}
	recs, err := st2.RecentFires(context.Background(), 0)
	if err != nil {
		t.Fatalf("RecentFires: %v", err)
	}
	if len(recs) != 1 || recs[0].EventID != "e1" {
		t.Fatalf("RecentFires after replay = %+v", recs)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled open: st=%v err=%v", st, err)
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}
