package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/rodcar/agentic-software-factory/internal/monitor"
)

var (
	// monitor command flags
	monitorMetricsURL string
	monitorInterval   time.Duration
)

func init() {
	monitorCmd.Flags().StringVar(&monitorMetricsURL, "metrics-url", "http://localhost:9091", "Prometheus-compatible query endpoint")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 2*time.Second, "Refresh interval")
}

// monitorCmd launches the terminal metrics dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live terminal dashboard for specfactoryd metrics",
	Long: `Launch a terminal dashboard showing request rates, session activity,
agent call latency and pipeline throughput. Reads from a Prometheus or
VictoriaMetrics instance scraping the daemon's /metrics endpoint.

Examples:
  # Dashboard against a local Prometheus
  specfactory monitor --metrics-url http://localhost:9090

  # Slower refresh
  specfactory monitor --interval 10s`,
	RunE: runMonitor,
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	model := monitor.NewModel(monitorMetricsURL, monitorInterval)
	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
