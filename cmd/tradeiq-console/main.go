// Live terminal dashboard for the TradeIQ alert stream.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeiq/internal/alerts"
	"tradeiq/internal/config"
	"tradeiq/internal/domain"
	"tradeiq/internal/market"
	"tradeiq/internal/stream"
	"tradeiq/internal/util"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := "config/tradeiq.yaml"
	if p := os.Getenv("TRADEIQ_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	feed := alerts.NewFeed(cfg.Alerts.RecentAlerts, cfg.Alerts.RecentNarration)

	dispatcher := stream.NewDispatcher()
	dispatcher.OnMarketAlert(feed.AddAlert)
	dispatcher.OnNarration(feed.AddNarration)

	transport, err := stream.NewTransport(stream.Options{
		BaseURL:          cfg.Server.BaseURL,
		SocketPath:       cfg.Server.SocketPath,
		UserID:           cfg.Server.UserID,
		MaxAttempts:      cfg.Stream.ReconnectMaxAttempts,
		BaseDelay:        cfg.ReconnectBaseDelay(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		PingInterval:     cfg.PingInterval(),
		Sink:             dispatcher,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("building transport: %v", err)
	}
	transport.SubscribeStatus(dispatcher.HandleStatus)

	clock := market.NewClock(cfg.Market.MIC)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Redraw immediately when an event lands between ticks.
	refreshCh := make(chan struct{}, 1)
	kick := func() {
		select {
		case refreshCh <- struct{}{}:
		default:
		}
	}
	dispatcher.OnMarketAlert(func(domain.MarketAlert) { kick() })
	dispatcher.OnNarration(func(domain.Narration) { kick() })
	dispatcher.OnConnStatus(func(domain.ConnStatus) { kick() })

	transport.Connect()
	printDashboard(transport, feed, clock)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			printDashboard(transport, feed, clock)
		case <-refreshCh:
			printDashboard(transport, feed, clock)
		case <-ctx.Done():
			transport.Disconnect()
			fmt.Println("\nshutdown")
			return
		}
	}
}

func printDashboard(t *stream.Transport, feed *alerts.Feed, clock *market.Clock) {
	now := time.Now()
	stats := feed.Stats()

	// Clear screen and print header.
	fmt.Print("\033[H\033[2J")
	fmt.Printf("TradeIQ Alert Console - %s    session: %s    conn: %s    (alerts: %d  narration: %d)\n",
		now.In(clock.Location()).Format("2006-01-02 15:04:05 MST"),
		clock.Session(now), t.Status(), stats.AlertsTotal, stats.NarrationTotal)

	printAlerts(feed.RecentAlerts(15), now)
	printNarration(feed.RecentNarration(8))
}

func printAlerts(recent []domain.MarketAlert, now time.Time) {
	fmt.Printf("\n========== ALERTS (newest first) ==========\n")
	if len(recent) == 0 {
		fmt.Println("  none yet")
		return
	}
	fmt.Printf("  %-3s %-10s | %10s %8s %-6s %-6s %6s  %s\n",
		"#", "Instrument", "Price", "Chg%", "Dir", "Mag", "Age", "Summary")
	for i := len(recent) - 1; i >= 0; i-- {
		a := recent[i]
		fmt.Printf("  %-3d %-10s | %10.2f %+7.2f%% %-6s %-6s %6s  %s\n",
			len(recent)-i, a.Instrument, a.Price, a.ChangePct,
			a.Direction, a.Magnitude, formatAge(a.Timestamp, now), oneLine(a.Summary, 60))
	}
}

func printNarration(tail []domain.Narration) {
	fmt.Printf("\n========== NARRATION ==========\n")
	if len(tail) == 0 {
		fmt.Println("  quiet so far")
		return
	}
	for _, n := range tail {
		label := n.EventType
		if label == "" {
			label = "event"
		}
		if n.Instrument != "" {
			label += " " + n.Instrument
		}
		fmt.Printf("  [%-18s] %s\n", label, oneLine(n.Text, 90))
	}
}

// formatAge renders how long ago the alert's wire timestamp was, or "-"
// when the timestamp is missing or unparseable.
func formatAge(timestamp string, now time.Time) string {
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return "-"
	}
	age := now.Sub(ts)
	switch {
	case age < 0:
		return "0s"
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(age.Hours()))
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
