// One-shot tool: export archived alerts and narration for a date range.
//
// Usage:
//
//	go build -o bin/tradeiq-history ./cmd/tradeiq-history/
//	bin/tradeiq-history [-start 2026-02-01] [-end 2026-02-12] [-kind all] [-format table] [-instrument BTC-USD]
//	bin/tradeiq-history -list
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradeiq/internal/config"
	"tradeiq/internal/store"
)

func main() {
	_ = godotenv.Load(".env")

	start := flag.String("start", "", "start date YYYY-MM-DD (default: 7 days before end)")
	end := flag.String("end", "", "end date YYYY-MM-DD (default: today)")
	kind := flag.String("kind", "all", "what to export: alerts, narration, or all")
	format := flag.String("format", "table", "output format: table or csv")
	instrument := flag.String("instrument", "", "only include this instrument")
	list := flag.Bool("list", false, "list archived days and exit")
	flag.Parse()

	cfgPath := "config/tradeiq.yaml"
	if p := os.Getenv("TRADEIQ_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Data goes to stdout; keep logs on stderr so output stays pipeable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	arc := store.NewParquetArchive(cfg.Storage.DataDir)
	ctx := context.Background()

	if *list {
		printDayInventory(ctx, arc)
		return
	}

	switch *kind {
	case "alerts", "narration", "all":
	default:
		log.Fatalf("unknown kind %q (want alerts, narration, or all)", *kind)
	}
	switch *format {
	case "table", "csv":
	default:
		log.Fatalf("unknown format %q (want table or csv)", *format)
	}

	startAt, endAt, err := resolveRange(*start, *end)
	if err != nil {
		log.Fatalf("bad date range: %v", err)
	}

	if *kind == "alerts" || *kind == "all" {
		records, err := arc.ReadAlerts(ctx, startAt, endAt)
		if err != nil {
			log.Fatalf("reading alerts: %v", err)
		}
		records = filterAlerts(records, *instrument)
		if *format == "csv" {
			if err := writeAlertsCSV(os.Stdout, records); err != nil {
				log.Fatalf("writing csv: %v", err)
			}
		} else {
			printAlertsTable(records)
		}
		slog.Info("alerts exported", "count", len(records),
			"from", startAt.Format("2006-01-02"), "to", endAt.Format("2006-01-02"))
	}

	if *kind == "narration" || *kind == "all" {
		records, err := arc.ReadNarration(ctx, startAt, endAt)
		if err != nil {
			log.Fatalf("reading narration: %v", err)
		}
		records = filterNarration(records, *instrument)
		if *format == "csv" {
			if err := writeNarrationCSV(os.Stdout, records); err != nil {
				log.Fatalf("writing csv: %v", err)
			}
		} else {
			printNarrationTable(records)
		}
		slog.Info("narration exported", "count", len(records),
			"from", startAt.Format("2006-01-02"), "to", endAt.Format("2006-01-02"))
	}
}

// resolveRange turns the flag strings into an inclusive [start, end] window.
// An explicit end date covers that whole day.
func resolveRange(start, end string) (time.Time, time.Time, error) {
	endAt := time.Now().UTC()
	if end != "" {
		d, err := time.Parse("2006-01-02", end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
		}
		endAt = d.Add(24*time.Hour - time.Millisecond)
	}

	startAt := endAt.AddDate(0, 0, -7).Truncate(24 * time.Hour)
	if start != "" {
		d, err := time.Parse("2006-01-02", start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
		}
		startAt = d
	}

	if endAt.Before(startAt) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s precedes start %s",
			endAt.Format("2006-01-02"), startAt.Format("2006-01-02"))
	}
	return startAt, endAt, nil
}

func printDayInventory(ctx context.Context, arc *store.ParquetArchive) {
	alertDays, err := arc.ListAlertDays(ctx)
	if err != nil {
		log.Fatalf("listing alert days: %v", err)
	}
	narrationDays, err := arc.ListNarrationDays(ctx)
	if err != nil {
		log.Fatalf("listing narration days: %v", err)
	}

	fmt.Printf("alert days (%d):\n", len(alertDays))
	for _, d := range alertDays {
		fmt.Println("  " + d)
	}
	fmt.Printf("narration days (%d):\n", len(narrationDays))
	for _, d := range narrationDays {
		fmt.Println("  " + d)
	}
}

func filterAlerts(records []store.AlertRecord, instrument string) []store.AlertRecord {
	if instrument == "" {
		return records
	}
	var out []store.AlertRecord
	for _, r := range records {
		if strings.EqualFold(r.Instrument, instrument) {
			out = append(out, r)
		}
	}
	return out
}

func filterNarration(records []store.NarrationRecord, instrument string) []store.NarrationRecord {
	if instrument == "" {
		return records
	}
	var out []store.NarrationRecord
	for _, r := range records {
		if strings.EqualFold(r.Instrument, instrument) {
			out = append(out, r)
		}
	}
	return out
}

func printAlertsTable(records []store.AlertRecord) {
	if len(records) == 0 {
		fmt.Println("no alerts in range")
		return
	}
	fmt.Printf("%-20s %-12s %12s %9s %-6s %-6s %s\n",
		"TIME", "INSTRUMENT", "PRICE", "CHG%", "DIR", "MAG", "SUMMARY")
	for _, r := range records {
		fmt.Printf("%-20s %-12s %12.2f %+8.2f%% %-6s %-6s %s\n",
			r.Time().Format("2006-01-02 15:04:05"),
			r.Instrument, r.Price, r.ChangePct, r.Direction, r.Magnitude,
			truncate(r.Summary, 60))
	}
}

func printNarrationTable(records []store.NarrationRecord) {
	if len(records) == 0 {
		fmt.Println("no narration in range")
		return
	}
	fmt.Printf("%-20s %-12s %-14s %s\n", "TIME", "INSTRUMENT", "EVENT", "TEXT")
	for _, r := range records {
		fmt.Printf("%-20s %-12s %-14s %s\n",
			r.Time().Format("2006-01-02 15:04:05"),
			r.Instrument, r.EventType, truncate(r.Text, 80))
	}
}

func writeAlertsCSV(w io.Writer, records []store.AlertRecord) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "instrument", "price", "change_percent",
		"direction", "magnitude", "summary", "warning", "draft"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Time().Format(time.RFC3339),
			r.Instrument,
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatFloat(r.ChangePct, 'f', -1, 64),
			r.Direction,
			r.Magnitude,
			r.Summary,
			r.Warning,
			r.Draft,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeNarrationCSV(w io.Writer, records []store.NarrationRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "instrument", "event_type", "text"}); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Time().Format(time.RFC3339),
			r.Instrument,
			r.EventType,
			r.Text,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func truncate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
