package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model represents the BubbleTea dashboard model
type Model struct {
	metricsURL string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	// Progress bars
	memoryProgress  progress.Model
	requestProgress progress.Model
}

// MetricsSnapshot holds the current metrics data
type MetricsSnapshot struct {
	HTTPRate       float64
	HTTPLatencyP95 float64

	// Session loop metrics
	ActiveSessions float64
	TurnRate       float64
	TurnLatencyP95 float64

	// Agent call metrics
	AgentRate       float64
	AgentLatencyP95 float64

	// Pipeline throughput per minute
	AppendRate   float64
	ReviewRate   float64
	ApprovalRate float64

	Uptime     int64
	Goroutines int
	MemoryMB   float64

	// Historical data for sparklines (last N points)
	HTTPRateHistory  []float64
	LatencyHistory   []float64
	TurnRateHistory  []float64
	AgentRateHistory []float64
	MemoryHistory    []float64

	// Peak values for progress bars
	HTTPRatePeak float64
	MemoryMax    float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	// Footer style - bright keys on dim background
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Sparkline container
	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(metricsURL string, interval time.Duration) Model {
	// Initialize progress bars with custom gradient
	memProg := progress.New(
		progress.WithGradient("#00ff00", "#ffff00"),
		progress.WithWidth(40),
	)

	reqProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	return Model{
		metricsURL:      metricsURL,
		interval:        interval,
		quitting:        false,
		memoryProgress:  memProg,
		requestProgress: reqProg,
		metrics: MetricsSnapshot{
			HTTPRateHistory:  make([]float64, 0, historySize),
			LatencyHistory:   make([]float64, 0, historySize),
			TurnRateHistory:  make([]float64, 0, historySize),
			AgentRateHistory: make([]float64, 0, historySize),
			MemoryHistory:    make([]float64, 0, historySize),
			HTTPRatePeak:     1.0,   // Minimum peak to avoid division by zero
			MemoryMax:        512.0, // Default max memory in MB
		},
	}
}

// getLatencyBadge returns a colored status badge based on HTTP latency
func getLatencyBadge(latencyMS float64) string {
	if latencyMS < 100 {
		return healthyStyle.Render("[✓]")
	} else if latencyMS < 500 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// getStatusBadge returns overall system status badge
func getStatusBadge(latencyMS float64) string {
	if latencyMS < 100 {
		return healthyStyle.Render("✓ HEALTHY")
	} else if latencyMS < 500 {
		return warningStyle.Render("⚠ WARN")
	}
	return errorStyle.Render("✗ ERROR")
}

// getTurnBadge returns a badge for turn duration. Turns run through one
// or more agent calls, so the thresholds sit in whole seconds.
func getTurnBadge(turnSeconds float64) string {
	if turnSeconds < 15 {
		return healthyStyle.Render("[✓]")
	} else if turnSeconds < 60 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.metricsURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchMetrics fetches metrics from the Prometheus-compatible backend
func fetchMetrics(metricsURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewMetricsClient(metricsURL)

		// The HTTP queries decide reachability; everything after them
		// degrades to zero when a series does not exist yet.
		httpRate, err := client.QueryHTTPRate(ctx)
		if err != nil {
			return errMsg(err)
		}

		httpLatency, err := client.QueryHTTPLatencyP95(ctx)
		if err != nil {
			return errMsg(err)
		}

		activeSessions, err := client.QueryActiveSessions(ctx)
		if err != nil {
			activeSessions = 0 // Graceful fallback
		}

		turnRate, err := client.QueryTurnRate(ctx)
		if err != nil {
			turnRate = 0
		}

		turnLatency, err := client.QueryTurnLatencyP95(ctx)
		if err != nil {
			turnLatency = 0
		}

		agentRate, err := client.QueryAgentRate(ctx)
		if err != nil {
			agentRate = 0
		}

		agentLatency, err := client.QueryAgentLatencyP95(ctx)
		if err != nil {
			agentLatency = 0
		}

		appendRate, err := client.QueryAppendRate(ctx)
		if err != nil {
			appendRate = 0
		}

		reviewRate, err := client.QueryReviewRate(ctx)
		if err != nil {
			reviewRate = 0
		}

		approvalRate, err := client.QueryApprovalRate(ctx)
		if err != nil {
			approvalRate = 0
		}

		// Process series come from the daemon's /metrics scrape target
		goroutines, err := client.QueryGoroutines(ctx)
		if err != nil {
			goroutines = 0
		}

		memoryBytes, err := client.QueryMemoryBytes(ctx)
		if err != nil {
			memoryBytes = 0
		}

		uptime, err := client.QueryUptimeSeconds(ctx)
		if err != nil {
			uptime = 0
		}

		return metricsMsg{
			HTTPRate:        httpRate,
			HTTPLatencyP95:  httpLatency,
			ActiveSessions:  activeSessions,
			TurnRate:        turnRate,
			TurnLatencyP95:  turnLatency,
			AgentRate:       agentRate,
			AgentLatencyP95: agentLatency,
			AppendRate:      appendRate,
			ReviewRate:      reviewRate,
			ApprovalRate:    approvalRate,
			Uptime:          int64(uptime),
			Goroutines:      int(goroutines),
			MemoryMB:        memoryBytes / (1024 * 1024),
		}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.metricsURL)
		}

	case tickMsg:
		// Auto-refresh triggered
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.metricsURL),
		)

	case metricsMsg:
		// Metrics successfully fetched - update with history
		newMetrics := MetricsSnapshot(msg)

		// Preserve historical data and update ring buffers
		newMetrics.HTTPRateHistory = appendToHistory(m.metrics.HTTPRateHistory, newMetrics.HTTPRate)
		newMetrics.LatencyHistory = appendToHistory(m.metrics.LatencyHistory, newMetrics.HTTPLatencyP95*1000) // Convert to ms
		newMetrics.TurnRateHistory = appendToHistory(m.metrics.TurnRateHistory, newMetrics.TurnRate)
		newMetrics.AgentRateHistory = appendToHistory(m.metrics.AgentRateHistory, newMetrics.AgentRate)
		newMetrics.MemoryHistory = appendToHistory(m.metrics.MemoryHistory, newMetrics.MemoryMB)

		// Update peaks
		newMetrics.HTTPRatePeak = m.metrics.HTTPRatePeak
		if newMetrics.HTTPRate > newMetrics.HTTPRatePeak {
			newMetrics.HTTPRatePeak = newMetrics.HTTPRate
		}
		newMetrics.MemoryMax = m.metrics.MemoryMax

		m.metrics = newMetrics
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		// Error occurred
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Display error state if error exists
	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("specfactory Metrics Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach the metrics backend") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.metricsURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. specfactoryd is running with telemetry enabled") + "\n"
	content += dimStyle.Render("  2. Prometheus or VictoriaMetrics ingests its metrics") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	box := containerStyle.Render(header + "\n" + content)
	return box
}

// renderDashboard renders the main dashboard view with sparklines and progress bars
func (m Model) renderDashboard() string {
	var content string

	// Header with status badge
	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	uptimeStr := FormatUptime(m.metrics.Uptime)
	latencyMS := m.metrics.HTTPLatencyP95 * 1000

	header := headerStyle.Render(" specfactory Monitor ")
	statusBadge := getStatusBadge(latencyMS)
	headerLine := fmt.Sprintf("%s   %s   %s   %s",
		statusBadge,
		dimStyle.Render("Uptime:"),
		valueStyle.Render(uptimeStr),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// HTTP API section with sparklines and load progress
	content += "\n" + sectionStyle.Render("┃ HTTP API") + "\n"

	// Rate with sparkline
	rateSparkline := createSparkline(m.metrics.HTTPRateHistory)
	rateBadge := getLatencyBadge(latencyMS)
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.metrics.HTTPRate)) +
		" " + rateBadge +
		"   " + rateSparkline + "\n"

	// Latency with sparkline
	latencySparkline := createSparkline(m.metrics.LatencyHistory)
	content += labelStyle.Render("  Latency (p95): ") +
		valueStyle.Render(FormatLatency(m.metrics.HTTPLatencyP95)) +
		" " + rateBadge +
		"   " + latencySparkline + "\n"

	// Request rate progress bar against the observed peak
	ratePercent := 0.0
	if m.metrics.HTTPRatePeak > 0 {
		ratePercent = m.metrics.HTTPRate / m.metrics.HTTPRatePeak
		if ratePercent > 1.0 {
			ratePercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.requestProgress.ViewAs(ratePercent) +
		" " + dimStyle.Render(FormatPercentage(ratePercent)) + "\n"

	// Sessions section
	content += "\n" + sectionStyle.Render("┃ Sessions") + "\n"

	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%.0f", m.metrics.ActiveSessions)) + "\n"

	turnSparkline := createSparkline(m.metrics.TurnRateHistory)
	content += labelStyle.Render("  Turns: ") +
		valueStyle.Render(fmt.Sprintf("%.1f/min", m.metrics.TurnRate)) +
		"           " + turnSparkline + "\n"

	turnBadge := getTurnBadge(m.metrics.TurnLatencyP95)
	content += labelStyle.Render("  Turn (p95): ") +
		valueStyle.Render(FormatLatency(m.metrics.TurnLatencyP95)) +
		" " + turnBadge + "\n"

	// Agents section
	content += "\n" + sectionStyle.Render("┃ Agents") + "\n"

	agentSparkline := createSparkline(m.metrics.AgentRateHistory)
	content += labelStyle.Render("  Calls: ") +
		valueStyle.Render(fmt.Sprintf("%.1f/min", m.metrics.AgentRate)) +
		"           " + agentSparkline + "\n"

	content += labelStyle.Render("  Latency (p95): ") +
		valueStyle.Render(FormatLatency(m.metrics.AgentLatencyP95)) + "\n"

	// Pipeline section - draft, review, approval throughput
	content += "\n" + sectionStyle.Render("┃ Pipeline") + "\n"

	content += labelStyle.Render("  Drafts: ") +
		valueStyle.Render(fmt.Sprintf("%.1f/min", m.metrics.AppendRate)) +
		"  " +
		labelStyle.Render("Reviews: ") +
		valueStyle.Render(fmt.Sprintf("%.1f/min", m.metrics.ReviewRate)) +
		"  " +
		labelStyle.Render("Approvals: ") +
		valueStyle.Render(fmt.Sprintf("%.1f/min", m.metrics.ApprovalRate)) + "\n"

	// System section with memory progress
	content += "\n" + sectionStyle.Render("┃ System") + "\n"

	// Memory with progress bar
	memoryPercent := m.metrics.MemoryMB / m.metrics.MemoryMax
	if memoryPercent > 1.0 {
		memoryPercent = 1.0
	}
	memoryStr := FormatMemory(uint64(m.metrics.MemoryMB * 1024 * 1024))
	content += labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + valueStyle.Render(memoryStr) +
		" " + dimStyle.Render(FormatPercentage(memoryPercent)) + "\n"

	// Goroutines
	content += labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.metrics.Goroutines)) + "\n"

	// Footer with keyboard shortcuts
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	// Wrap in container
	return containerStyle.Render(content)
}
