package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/host"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background(), config.StorageConfig{JournalMode: "wal", Synchronous: "NORMAL"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestStoreRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	entries := []host.JournalEntry{
		{SessionID: "s1", Origin: "https://a.example", RequestID: "bio_1_1", Method: "bio_connect", Success: true, ReceivedAt: base, AnsweredAt: base.Add(time.Millisecond)},
		{SessionID: "s1", Origin: "https://a.example", RequestID: "bio_1_2", Method: "bio_sign", Params: []any{"tx"}, ErrorCode: 4001, ReceivedAt: base.Add(time.Second), AnsweredAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	newest := got[0]
	if newest.RequestID != "bio_1_2" || newest.Success || newest.ErrorCode != 4001 {
		t.Fatalf("unexpected newest entry: %+v", newest)
	}
	if !newest.ReceivedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("received at %v", newest.ReceivedAt)
	}
	want, _ := ParamsDigest([]any{"tx"})
	if newest.ParamsDigest != want {
		t.Fatalf("digest %s, want %s", newest.ParamsDigest, want)
	}
	if !got[1].Success || got[1].Method != "bio_connect" {
		t.Fatalf("unexpected oldest entry: %+v", got[1])
	}

	one, err := store.Recent(ctx, 1)
	if err != nil || len(one) != 1 {
		t.Fatalf("limit: %v %d", err, len(one))
	}
}

func TestParamsDigest(t *testing.T) {
	empty, err := ParamsDigest(nil)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	same, _ := ParamsDigest([]any{})
	if empty != same || len(empty) != 64 {
		t.Fatalf("nil and empty params should hash alike: %s %s", empty, same)
	}
	other, _ := ParamsDigest([]any{"x"})
	if other == empty {
		t.Fatal("distinct params share a digest")
	}
	if _, err := ParamsDigest([]any{make(chan int)}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestInitRejectsUnknownPragma(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if err := store.Init(context.Background(), config.StorageConfig{JournalMode: "wal; DROP TABLE meta"}); err == nil {
		t.Fatal("expected invalid journal mode error")
	}
}
