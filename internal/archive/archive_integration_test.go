package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ifebuche/twifesh/internal/records"
)

func skipWithoutDB(t *testing.T) string {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	return url
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	url := skipWithoutDB(t)
	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestIntegration_InsertAndQueryRecent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	id := "integration-" + time.Now().Format("20060102150405")
	recs := []records.Record{
		{
			TweetID:        id + "-1",
			Text:           strPtr("first archived tweet"),
			CleanText:      strPtr("first archived tweet"),
			AuthorUsername: strPtr("ada"),
		},
		{
			TweetID: id + "-2",
			Text:    strPtr("second archived tweet"),
		},
	}

	if err := s.InsertRecords(ctx, recs); err != nil {
		t.Fatalf("insert records: %v", err)
	}

	got, err := s.QueryRecent(ctx, 10)
	if err != nil {
		t.Fatalf("query recent: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least 2 records, got %d", len(got))
	}

	found := map[string]records.Record{}
	for _, r := range got {
		found[r.TweetID] = r
	}
	first, ok := found[id+"-1"]
	if !ok {
		t.Fatalf("expected record %s-1 in recent set", id)
	}
	if first.Text == nil || *first.Text != "first archived tweet" {
		t.Errorf("unexpected text round-trip: %v", first.Text)
	}
	if first.AuthorUsername == nil || *first.AuthorUsername != "ada" {
		t.Errorf("unexpected username round-trip: %v", first.AuthorUsername)
	}
	if first.QuotedID != nil {
		t.Errorf("expected absent quoted id to stay nil, got %v", *first.QuotedID)
	}
}

func TestIntegration_InsertEmptyBatchIsNoop(t *testing.T) {
	s := setupTestStore(t)
	if err := s.InsertRecords(context.Background(), nil); err != nil {
		t.Fatalf("expected empty batch to be a no-op, got %v", err)
	}
}
