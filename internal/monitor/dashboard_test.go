package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)
	assert.Equal(t, "http://localhost:8428", model.metricsURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)
	cmd := model.Init()

	// Init should return a tick command to start auto-refresh
	assert.NotNil(t, cmd)
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd) // Should return tea.Quit
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)

	keyMsg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}
	updatedModel, cmd := model.Update(keyMsg)

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd) // Should return fetchMetrics command
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)

	msg := tickMsg(time.Now())
	updatedModel, cmd := model.Update(msg)

	// Should schedule next tick and fetch metrics
	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_MetricsMsg(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)

	metrics := metricsMsg(MetricsSnapshot{
		HTTPRate:       45.7,
		HTTPLatencyP95: 0.0123,
		TurnRate:       2.5,
		AgentRate:      7.5,
		MemoryMB:       24.5,
	})
	updatedModel, cmd := model.Update(metrics)

	m := updatedModel.(Model)
	assert.Equal(t, 45.7, m.metrics.HTTPRate)
	assert.Equal(t, 0.0123, m.metrics.HTTPLatencyP95)
	assert.Equal(t, 2.5, m.metrics.TurnRate)
	assert.False(t, m.lastUpdate.IsZero())
	assert.Nil(t, cmd)

	// Ring buffers picked up one point each
	assert.Equal(t, []float64{45.7}, m.metrics.HTTPRateHistory)
	assert.Len(t, m.metrics.LatencyHistory, 1)
	assert.InDelta(t, 12.3, m.metrics.LatencyHistory[0], 0.001) // Stored in ms
	assert.Equal(t, []float64{2.5}, m.metrics.TurnRateHistory)
	assert.Equal(t, []float64{7.5}, m.metrics.AgentRateHistory)
	assert.Equal(t, []float64{24.5}, m.metrics.MemoryHistory)

	// Peak tracks the observed maximum
	assert.Equal(t, 45.7, m.metrics.HTTPRatePeak)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)

	msg := errMsg(fmt.Errorf("connection refused"))
	updatedModel, cmd := model.Update(msg)

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestAppendToHistory(t *testing.T) {
	history := make([]float64, 0, historySize)
	for i := 0; i < historySize+5; i++ {
		history = appendToHistory(history, float64(i))
	}

	assert.Len(t, history, historySize)
	assert.Equal(t, 5.0, history[0]) // Oldest points dropped
	assert.Equal(t, float64(historySize+4), history[len(history)-1])
}

func TestGetTurnBadge(t *testing.T) {
	assert.Contains(t, getTurnBadge(5), "✓")
	assert.Contains(t, getTurnBadge(30), "⚠")
	assert.Contains(t, getTurnBadge(120), "✗")
}

func TestModel_View_WithMetrics(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)
	model.metrics = MetricsSnapshot{
		HTTPRate:        45.7,
		HTTPLatencyP95:  0.0123,
		ActiveSessions:  3,
		TurnRate:        2.5,
		TurnLatencyP95:  42.3,
		AgentRate:       7.5,
		AgentLatencyP95: 8.2,
		AppendRate:      4.0,
		ReviewRate:      2.0,
		ApprovalRate:    0.5,
		Uptime:          8100, // 2h 15m
		Goroutines:      42,
		MemoryMB:        24.5,
		MemoryMax:       512.0,
	}
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "specfactory Monitor")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "HTTP API")
	assert.Contains(t, view, "45.7 req/min")
	assert.Contains(t, view, "12.3ms")
	assert.Contains(t, view, "Sessions")
	assert.Contains(t, view, "2.5/min")
	assert.Contains(t, view, "42.3s")
	assert.Contains(t, view, "Agents")
	assert.Contains(t, view, "7.5/min")
	assert.Contains(t, view, "Pipeline")
	assert.Contains(t, view, "Approvals")
	assert.Contains(t, view, "System")
	assert.Contains(t, view, "24.5 MB")
	assert.Contains(t, view, "Goroutines")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach the metrics backend")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8428")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:8428", 5*time.Second)
	// No metrics, no error

	view := model.View()

	assert.Contains(t, view, "specfactory Monitor")
	assert.Contains(t, view, "[q]")
}
