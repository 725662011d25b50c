// Package store persists TradeIQ client state: a small key-value store for
// the chat transcript and pending account links, plus a Parquet archive for
// market alert and narration history.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradeiq/internal/domain"
)

// State keys used by the chat subsystem.
const (
	KeyChatMessages = "chat.messages"
	KeyPendingLinks = "account.pending_links"
)

// KV is a small key-value state store. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the value stored under key. The bool reports whether the
	// key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// AlertArchive persists and retrieves market alert history.
type AlertArchive interface {
	// WriteAlerts persists a batch of alert records.
	WriteAlerts(ctx context.Context, records []AlertRecord) error

	// ReadAlerts returns alert records within [start, end].
	ReadAlerts(ctx context.Context, start, end time.Time) ([]AlertRecord, error)

	// ListAlertDays returns the days (YYYY-MM-DD) that have archived alerts.
	ListAlertDays(ctx context.Context) ([]string, error)
}

// NarrationArchive persists and retrieves narration history.
type NarrationArchive interface {
	// WriteNarration persists a batch of narration records.
	WriteNarration(ctx context.Context, records []NarrationRecord) error

	// ReadNarration returns narration records within [start, end].
	ReadNarration(ctx context.Context, start, end time.Time) ([]NarrationRecord, error)

	// ListNarrationDays returns the days (YYYY-MM-DD) that have archived narration.
	ListNarrationDays(ctx context.Context) ([]string, error)
}

// ---------------------------------------------------------------------------
// Typed helpers over KV
// ---------------------------------------------------------------------------

// LoadChatLog reads the persisted chat transcript. A missing key yields an
// empty transcript; a corrupt value is an error so the caller can fall back
// to a fresh one.
func LoadChatLog(ctx context.Context, kv KV) ([]domain.ChatMessage, error) {
	data, ok, err := kv.Get(ctx, KeyChatMessages)
	if err != nil {
		return nil, fmt.Errorf("loading chat log: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var msgs []domain.ChatMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decoding chat log: %w", err)
	}
	return msgs, nil
}

// SaveChatLog persists the full chat transcript.
func SaveChatLog(ctx context.Context, kv KV, msgs []domain.ChatMessage) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encoding chat log: %w", err)
	}
	return kv.Set(ctx, KeyChatMessages, data)
}

// LoadPendingLinks reads the pending account link records.
func LoadPendingLinks(ctx context.Context, kv KV) ([]domain.PendingLink, error) {
	data, ok, err := kv.Get(ctx, KeyPendingLinks)
	if err != nil {
		return nil, fmt.Errorf("loading pending links: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var links []domain.PendingLink
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("decoding pending links: %w", err)
	}
	return links, nil
}

// SavePendingLinks persists the pending account link records.
func SavePendingLinks(ctx context.Context, kv KV, links []domain.PendingLink) error {
	data, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("encoding pending links: %w", err)
	}
	return kv.Set(ctx, KeyPendingLinks, data)
}
