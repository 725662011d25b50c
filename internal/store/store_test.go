package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradeiq/internal/domain"
)

// kvContract exercises the behavior every KV implementation must share.
func kvContract(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	// Missing key.
	_, ok, err := kv.Get(ctx, "nope")
	if err != nil {
		t.Fatalf("Get(missing): %v", err)
	}
	if ok {
		t.Fatal("Get(missing) ok = true, want false")
	}

	// Set then get.
	if err := kv.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "v1" {
		t.Fatalf("Get = %q, %v, want %q, true", v, ok, "v1")
	}

	// Overwrite.
	if err := kv.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatalf("Set (overwrite): %v", err)
	}
	v, _, _ = kv.Get(ctx, "k")
	if string(v) != "v2" {
		t.Fatalf("Get after overwrite = %q, want %q", v, "v2")
	}

	// Delete, twice.
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "k"); ok {
		t.Fatal("Get after Delete ok = true, want false")
	}
	if err := kv.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete (missing): %v", err)
	}
}

func TestMemoryKV(t *testing.T) {
	kvContract(t, NewMemoryKV())
}

func TestSQLiteKV(t *testing.T) {
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	defer kv.Close()

	kvContract(t, kv)
}

func TestSQLiteKVSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "state.db")

	kv, err := NewSQLiteKV(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteKV: %v", err)
	}
	if err := kv.Set(ctx, "k", []byte("persisted")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	kv, err = NewSQLiteKV(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteKV (reopen): %v", err)
	}
	defer kv.Close()

	v, ok, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !ok || string(v) != "persisted" {
		t.Fatalf("Get after reopen = %q, %v, want %q, true", v, ok, "persisted")
	}
}

func TestChatLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	// Empty store reads as an empty transcript.
	msgs, err := LoadChatLog(ctx, kv)
	if err != nil {
		t.Fatalf("LoadChatLog (empty): %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("LoadChatLog (empty) = %d messages, want 0", len(msgs))
	}

	in := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "BTC outlook?", Timestamp: "2:05 PM", Kind: domain.KindNormal},
		{Role: domain.RoleAssistant, Content: "BTC is bullish.", Timestamp: "2:05 PM", Kind: domain.KindNormal, SkipAnimation: true},
		{Role: domain.RoleAssistant, Content: "BTC jumped 4.2%", Timestamp: "2:06 PM", Kind: domain.KindAlert},
	}
	if err := SaveChatLog(ctx, kv, in); err != nil {
		t.Fatalf("SaveChatLog: %v", err)
	}

	out, err := LoadChatLog(ctx, kv)
	if err != nil {
		t.Fatalf("LoadChatLog: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("LoadChatLog = %d messages, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("message[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestChatLogCorruptValue(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	if err := kv.Set(ctx, KeyChatMessages, []byte(`{{not json`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := LoadChatLog(ctx, kv); err == nil {
		t.Fatal("LoadChatLog on corrupt value returned nil error")
	} else if !strings.Contains(err.Error(), "decoding chat log") {
		t.Errorf("error = %v, want decoding chat log wrap", err)
	}
}

func TestPendingLinksRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	in := []domain.PendingLink{
		{Provider: "coinbase", AccountID: "acct-1", Label: "Main", CreatedAt: time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)},
	}
	if err := SavePendingLinks(ctx, kv, in); err != nil {
		t.Fatalf("SavePendingLinks: %v", err)
	}

	out, err := LoadPendingLinks(ctx, kv)
	if err != nil {
		t.Fatalf("LoadPendingLinks: %v", err)
	}
	if len(out) != 1 || out[0].Provider != "coinbase" || !out[0].CreatedAt.Equal(in[0].CreatedAt) {
		t.Errorf("LoadPendingLinks = %+v, want %+v", out, in)
	}
}
