package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradeiq/internal/domain"
)

// Compile-time interface checks.
var _ AlertArchive = (*ParquetArchive)(nil)
var _ NarrationArchive = (*ParquetArchive)(nil)

// ParquetArchive implements AlertArchive and NarrationArchive using Parquet
// files on disk, one file per day and kind.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates an archive rooted at the given data directory.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// AlertRecord is the Parquet schema for archived market alerts.
type AlertRecord struct {
	Instrument string  `parquet:"instrument"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price      float64 `parquet:"price"`
	ChangePct  float64 `parquet:"change_percent"`
	Direction  string  `parquet:"direction"`
	Magnitude  string  `parquet:"magnitude"`
	Summary    string  `parquet:"summary"`
	Warning    string  `parquet:"warning"`
	Draft      string  `parquet:"draft"`
}

// NarrationRecord is the Parquet schema for archived narration events.
type NarrationRecord struct {
	Timestamp  int64  `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	EventType  string `parquet:"event_type"`
	Instrument string `parquet:"instrument"`
	Text       string `parquet:"text"`
}

// NewAlertRecord converts a wire alert into its archive form. Alerts carry an
// RFC 3339 timestamp; anything unparseable falls back to the receive time.
func NewAlertRecord(a domain.MarketAlert, receivedAt time.Time) AlertRecord {
	return AlertRecord{
		Instrument: a.Instrument,
		Timestamp:  eventMillis(a.Timestamp, receivedAt),
		Price:      a.Price,
		ChangePct:  a.ChangePct,
		Direction:  string(a.Direction),
		Magnitude:  string(a.Magnitude),
		Summary:    a.Summary,
		Warning:    a.Warning,
		Draft:      a.Draft,
	}
}

// NewNarrationRecord converts a wire narration event into its archive form.
func NewNarrationRecord(n domain.Narration, receivedAt time.Time) NarrationRecord {
	return NarrationRecord{
		Timestamp:  eventMillis(n.Timestamp, receivedAt),
		EventType:  n.EventType,
		Instrument: n.Instrument,
		Text:       n.Text,
	}
}

func eventMillis(stamp string, receivedAt time.Time) int64 {
	if stamp != "" {
		if ts, err := time.Parse(time.RFC3339, stamp); err == nil {
			return ts.UnixMilli()
		}
	}
	return receivedAt.UnixMilli()
}

// Time returns the record timestamp as a time.Time.
func (r AlertRecord) Time() time.Time { return time.UnixMilli(r.Timestamp).UTC() }

// Time returns the record timestamp as a time.Time.
func (r NarrationRecord) Time() time.Time { return time.UnixMilli(r.Timestamp).UTC() }

// ---------------------------------------------------------------------------
// AlertArchive implementation
// ---------------------------------------------------------------------------

// WriteAlerts writes alert records to Parquet files partitioned by day:
//
//	<DataDir>/alerts/<YYYY-MM-DD>.parquet
//
// Records for a day that already has a file are merged in, deduplicated by
// (instrument, timestamp).
func (s *ParquetArchive) WriteAlerts(_ context.Context, records []AlertRecord) error {
	if len(records) == 0 {
		return nil
	}

	groups := make(map[string][]AlertRecord)
	for _, r := range records {
		day := r.Time().Format("2006-01-02")
		groups[day] = append(groups[day], r)
	}

	for day, recs := range groups {
		path := s.alertPath(day)

		existing, _ := readParquetFile[AlertRecord](path)
		merged := mergeAlertRecords(existing, recs)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing alerts for %s: %w", day, err)
		}
	}
	return nil
}

// ReadAlerts reads alert records within [start, end].
func (s *ParquetArchive) ReadAlerts(_ context.Context, start, end time.Time) ([]AlertRecord, error) {
	var out []AlertRecord
	for _, day := range daysBetween(start, end) {
		records, err := readParquetFile[AlertRecord](s.alertPath(day))
		if err != nil {
			// No file for this day.
			continue
		}
		for _, r := range records {
			ts := r.Time()
			if !ts.Before(start) && !ts.After(end) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ListAlertDays returns the days that have archived alerts, sorted ascending.
func (s *ParquetArchive) ListAlertDays(_ context.Context) ([]string, error) {
	return listDays(filepath.Join(s.DataDir, "alerts"))
}

// ---------------------------------------------------------------------------
// NarrationArchive implementation
// ---------------------------------------------------------------------------

// WriteNarration writes narration records to Parquet files partitioned by
// day under <DataDir>/narration/, deduplicated by (timestamp, text).
func (s *ParquetArchive) WriteNarration(_ context.Context, records []NarrationRecord) error {
	if len(records) == 0 {
		return nil
	}

	groups := make(map[string][]NarrationRecord)
	for _, r := range records {
		day := r.Time().Format("2006-01-02")
		groups[day] = append(groups[day], r)
	}

	for day, recs := range groups {
		path := s.narrationPath(day)

		existing, _ := readParquetFile[NarrationRecord](path)
		merged := mergeNarrationRecords(existing, recs)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing narration for %s: %w", day, err)
		}
	}
	return nil
}

// ReadNarration reads narration records within [start, end].
func (s *ParquetArchive) ReadNarration(_ context.Context, start, end time.Time) ([]NarrationRecord, error) {
	var out []NarrationRecord
	for _, day := range daysBetween(start, end) {
		records, err := readParquetFile[NarrationRecord](s.narrationPath(day))
		if err != nil {
			continue
		}
		for _, r := range records {
			ts := r.Time()
			if !ts.Before(start) && !ts.After(end) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ListNarrationDays returns the days that have archived narration, sorted
// ascending.
func (s *ParquetArchive) ListNarrationDays(_ context.Context) ([]string, error) {
	return listDays(filepath.Join(s.DataDir, "narration"))
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// alertPath returns the filesystem path for a day's alert file.
// Layout: <dataDir>/alerts/<YYYY-MM-DD>.parquet
func (s *ParquetArchive) alertPath(day string) string {
	return filepath.Join(s.DataDir, "alerts", day+".parquet")
}

// narrationPath returns the filesystem path for a day's narration file.
// Layout: <dataDir>/narration/<YYYY-MM-DD>.parquet
func (s *ParquetArchive) narrationPath(day string) string {
	return filepath.Join(s.DataDir, "narration", day+".parquet")
}

// daysBetween enumerates the YYYY-MM-DD days covering [start, end] in UTC.
func daysBetween(start, end time.Time) []string {
	var days []string
	first := start.UTC().Truncate(24 * time.Hour)
	last := end.UTC()
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days
}

// listDays returns the day stems of the parquet files in dir, sorted.
func listDays(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var days []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		days = append(days, strings.TrimSuffix(e.Name(), ".parquet"))
	}
	sort.Strings(days)
	return days, nil
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// writeParquetFile rewrites path atomically: the new contents land in a
// sibling temp file first and replace the original with a rename.
func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeAlertRecords deduplicates alert records by (instrument, timestamp),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeAlertRecords(existing, incoming []AlertRecord) []AlertRecord {
	type key struct {
		instrument string
		ts         int64
	}
	seen := make(map[key]AlertRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Instrument, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Instrument, r.Timestamp}] = r
	}

	merged := make([]AlertRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeNarrationRecords deduplicates narration records by (timestamp, text),
// preferring new records over existing ones. Results are sorted by timestamp.
func mergeNarrationRecords(existing, incoming []NarrationRecord) []NarrationRecord {
	type key struct {
		ts   int64
		text string
	}
	seen := make(map[key]NarrationRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Timestamp, r.Text}] = r
	}
	for _, r := range incoming {
		seen[key{r.Timestamp, r.Text}] = r
	}

	merged := make([]NarrationRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
