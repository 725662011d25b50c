// Interactive TradeIQ chat terminal. Wraps the client facade in a bubbletea
// UI: scrollback transcript, live streaming buffer, alert inserts, input line.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"tradeiq/internal/chat"
	"tradeiq/internal/config"
	"tradeiq/internal/domain"
	"tradeiq/internal/market"
	"tradeiq/pkg/tradeiq"
)

const refreshInterval = 2 * time.Second

type stateMsg chat.Snapshot

type alertMsg domain.MarketAlert

type narrationMsg domain.Narration

type connMsg domain.ConnStatus

type tickMsg time.Time

type uiTheme struct {
	header     lipgloss.Style
	panel      lipgloss.Style
	panelTitle lipgloss.Style
	inputPanel lipgloss.Style
	footer     lipgloss.Style
	helpText   lipgloss.Style
	status     lipgloss.Style
	errStatus  lipgloss.Style
	userLabel  lipgloss.Style
	botLabel   lipgloss.Style
	alertLabel lipgloss.Style
	toolNote   lipgloss.Style
}

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	amber := lipgloss.Color("#ffd166")
	pink := lipgloss.Color("#ff71ce")
	text := lipgloss.Color("#f3f3ff")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			Foreground(text).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Foreground(mint).Bold(true),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mint).
			Padding(0, 1),
		footer:     lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		helpText:   lipgloss.NewStyle().Foreground(muted),
		status:     lipgloss.NewStyle().Foreground(blue).Bold(true),
		errStatus:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		userLabel:  lipgloss.NewStyle().Foreground(mint).Bold(true),
		botLabel:   lipgloss.NewStyle().Foreground(blue).Bold(true),
		alertLabel: lipgloss.NewStyle().Foreground(amber).Bold(true),
		toolNote:   lipgloss.NewStyle().Foreground(muted).Italic(true),
	}
}

type model struct {
	client *tradeiq.Client
	clock  *market.Clock

	snapshot chat.Snapshot
	conn     domain.ConnStatus

	width      int
	height     int
	statusLine string

	input      textinput.Model
	transcript viewport.Model
	spinner    spinner.Model
	theme      uiTheme

	events chan tea.Msg
}

func newModel(client *tradeiq.Client, clock *market.Clock) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Ask about market conditions or your trading patterns"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	transcript := viewport.New(0, 0)
	transcript.MouseWheelEnabled = true

	m := model{
		client:     client,
		clock:      clock,
		snapshot:   client.Snapshot(),
		conn:       client.Status(),
		statusLine: "connecting...",
		input:      input,
		transcript: transcript,
		spinner:    sp,
		theme:      newTheme(),
		events:     make(chan tea.Msg, 256),
	}
	m.startListeners()
	return m
}

// startListeners bridges facade callbacks onto the bubbletea message loop.
// Sends are non-blocking; a wakeup dropped under burst is repaired by the
// next event or tick, which re-pulls the full snapshot.
func (m *model) startListeners() {
	events := m.events
	push := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}
	m.client.SubscribeState(func(s chat.Snapshot) { push(stateMsg(s)) })
	m.client.SubscribeAlerts(func(a domain.MarketAlert) { push(alertMsg(a)) })
	m.client.SubscribeNarration(func(n domain.Narration) { push(narrationMsg(n)) })
	m.client.SubscribeConn(func(c domain.ConnStatus) { push(connMsg(c)) })
}

func waitEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.connectCmd(),
		waitEvent(m.events),
		tickEvery(refreshInterval),
	)
}

func (m model) connectCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		client.Connect()
		return connMsg(client.Status())
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case stateMsg:
		m.snapshot = chat.Snapshot(msg)
		m.renderTranscript()
		cmds = append(cmds, waitEvent(m.events))
	case alertMsg:
		a := domain.MarketAlert(msg)
		m.client.AppendLocal(domain.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: formatAlert(a),
			Kind:    domain.KindAlert,
		})
		m.statusLine = fmt.Sprintf("alert: %s %+.2f%%", a.Instrument, a.ChangePct)
		cmds = append(cmds, waitEvent(m.events))
	case narrationMsg:
		n := domain.Narration(msg)
		m.statusLine = "market: " + compactSingleLine(n.Text, 120)
		cmds = append(cmds, waitEvent(m.events))
	case connMsg:
		m.conn = domain.ConnStatus(msg)
		switch m.conn {
		case domain.ConnConnected:
			m.statusLine = "connected to " + m.client.Endpoint()
		case domain.ConnError:
			m.statusLine = "connection lost, retrying..."
		case domain.ConnDisconnected:
			m.statusLine = "disconnected"
		}
		cmds = append(cmds, waitEvent(m.events))
	case tickMsg:
		// Refresh the header clock and repair any dropped push.
		m.snapshot = m.client.Snapshot()
		m.renderTranscript()
		cmds = append(cmds, tickEvery(refreshInterval))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderTranscript()
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.transcript, cmd = m.transcript.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, tea.Batch(cmds...)
			}
			m.input.SetValue("")
			m.client.Send(text)
			m.statusLine = "waiting for reply..."
			return m, tea.Batch(cmds...)
		case "ctrl+l":
			m.client.ClearHistory()
			m.statusLine = "history cleared"
			return m, tea.Batch(cmds...)
		case "pgup":
			m.transcript.LineUp(8)
			return m, tea.Batch(cmds...)
		case "pgdown":
			m.transcript.LineDown(8)
			return m, tea.Batch(cmds...)
		case "up":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.transcript.LineUp(4)
				return m, tea.Batch(cmds...)
			}
		case "down":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.transcript.LineDown(4)
				return m, tea.Batch(cmds...)
			}
		case "home":
			m.transcript.GotoTop()
			return m, tea.Batch(cmds...)
		case "end":
			m.transcript.GotoBottom()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	header := m.renderHeader()
	content := m.theme.panel.Width(max(40, m.width-4)).Render(
		m.theme.panelTitle.Render("Conversation") + "\n" + m.transcript.View(),
	)
	input := m.renderInput()
	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, header, content, input, footer)
}

func (m *model) renderHeader() string {
	now := time.Now()
	title := m.theme.panelTitle.Render("TradeIQ Chat")
	clockPart := m.theme.helpText.Render(fmt.Sprintf("%s · session %s",
		now.In(m.clock.Location()).Format("15:04:05 MST"), m.clock.Session(now)))
	connStyle := m.theme.status
	if m.conn != domain.ConnConnected {
		connStyle = m.theme.errStatus
	}
	line := title + "  " + clockPart + "  " + connStyle.Render(string(m.conn))
	return m.theme.header.Width(max(40, m.width-4)).Render(line)
}

func (m *model) renderInput() string {
	view := m.input.View()
	if state := m.snapshot.State; state != domain.ChatIdle {
		label := strings.ReplaceAll(string(state), "_", " ")
		if state == domain.ChatToolCall && m.snapshot.Tool != nil && len(m.snapshot.Tool.Tools) > 0 {
			label += " " + strings.Join(m.snapshot.Tool.Tools, ",")
		}
		view = m.spinner.View() + " " + label + " " + view
	}
	return m.theme.inputPanel.Width(max(40, m.width-4)).Render(view)
}

func (m *model) renderFooter() string {
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "lost") || strings.Contains(lower, "disconnected") {
		statusStyle = m.theme.errStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 160))
	hints := m.theme.helpText.Render("Enter send · Ctrl+L clear history · PgUp/PgDn scroll · Esc quit")
	return m.theme.footer.Width(max(40, m.width-4)).Render(line + "\n" + hints)
}

func (m *model) resize() {
	contentWidth := max(40, m.width-4)
	m.input.Width = max(20, contentWidth-6)
	m.transcript.Width = max(20, contentWidth-2)
	m.transcript.Height = max(5, m.height-12)
}

func (m *model) renderTranscript() {
	wasAtBottom := m.transcript.AtBottom()
	offset := m.transcript.YOffset

	m.transcript.SetContent(m.transcriptText())
	if wasAtBottom {
		m.transcript.GotoBottom()
	} else {
		m.transcript.SetYOffset(offset)
	}
}

func (m *model) transcriptText() string {
	width := max(24, m.transcript.Width-2)
	var b strings.Builder
	for _, msg := range m.snapshot.Messages {
		b.WriteString(m.messageHeader(msg))
		b.WriteString("\n")
		b.WriteString(wrapText(msg.Content, width))
		b.WriteString("\n\n")
	}
	if m.snapshot.State == domain.ChatToolCall && m.snapshot.Tool != nil {
		note := "using " + strings.Join(m.snapshot.Tool.Tools, ", ")
		if m.snapshot.Tool.Description != "" {
			note += ": " + m.snapshot.Tool.Description
		}
		b.WriteString(m.theme.toolNote.Render(note))
		b.WriteString("\n")
	}
	if m.snapshot.Buffer != "" {
		b.WriteString(m.theme.botLabel.Render("[tradeiq]"))
		b.WriteString("\n")
		b.WriteString(wrapText(m.snapshot.Buffer+" ▍", width))
		b.WriteString("\n")
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "" {
		return "No messages yet."
	}
	return out
}

func (m *model) messageHeader(msg domain.ChatMessage) string {
	ts := shortTime(msg.Timestamp)
	switch {
	case msg.Kind == domain.KindAlert:
		return m.theme.alertLabel.Render(ts + " [alert]")
	case msg.Role == domain.RoleUser:
		return m.theme.userLabel.Render(ts + " [you]")
	default:
		return m.theme.botLabel.Render(ts + " [tradeiq]")
	}
}

func formatAlert(a domain.MarketAlert) string {
	line := fmt.Sprintf("%s %+.2f%% at %.2f (%s %s)",
		a.Instrument, a.ChangePct, a.Price, a.Magnitude, a.Direction)
	if s := strings.TrimSpace(a.Summary); s != "" {
		line += "\n" + s
	}
	if w := strings.TrimSpace(a.Warning); w != "" {
		line += "\n" + w
	}
	return line
}

func shortTime(iso string) string {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(iso))
	if err != nil {
		return "--:--:--"
	}
	return parsed.Local().Format("15:04:05")
}

func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			wrapped = append(wrapped, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if len(current)+1+len(word) <= width {
				current += " " + word
				continue
			}
			wrapped = append(wrapped, current)
			current = word
		}
		wrapped = append(wrapped, current)
	}
	return strings.Join(wrapped, "\n")
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if limit > 3 && len(compact) > limit {
		return compact[:limit-3] + "..."
	}
	return compact
}

func main() {
	_ = godotenv.Load(".env")

	cfgPath := "config/tradeiq.yaml"
	if p := os.Getenv("TRADEIQ_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs stay out of it unless a sink is set.
	var logSink io.Writer = io.Discard
	if path := os.Getenv("TRADEIQ_TUI_LOG"); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			defer f.Close()
			logSink = f
		}
	}
	logger := slog.New(slog.NewTextHandler(logSink, nil))

	client, err := tradeiq.New(cfg, tradeiq.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "tradeiq-chat: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	clock := market.NewClock(cfg.Market.MIC)

	p := tea.NewProgram(newModel(client, clock), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tradeiq-chat fatal error: %v\n", err)
		os.Exit(1)
	}
}
