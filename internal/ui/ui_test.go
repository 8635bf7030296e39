package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusModelProgresses(t *testing.T) {
	ui := NewStatusUI("Calling", []string{"Join", "Wait", "Connect"}, nil)
	m := ui.model

	m.Update(stepMsg(1))
	assert.Equal(t, 1, m.current)
	assert.False(t, m.startedAt[0].IsZero())

	// Steps never move backwards.
	m.Update(stepMsg(0))
	assert.Equal(t, 1, m.current)

	view := m.View()
	assert.Contains(t, view, "Calling")
	assert.Contains(t, view, "Press q to cancel")
	assert.Equal(t, 1, strings.Count(view, IconSuccess))

	_, cmd := m.Update(finishMsg{})
	require.NotNil(t, cmd)
	assert.NotContains(t, m.View(), "Press q to cancel")
	assert.Equal(t, 2, strings.Count(m.View(), IconSuccess))
}

func TestStatusModelFailureMarksCurrentStep(t *testing.T) {
	ui := NewStatusUI("Answering", []string{"Join", "Wait"}, nil)
	m := ui.model

	m.Update(stepMsg(1))
	m.Update(finishMsg{failed: true})
	assert.Contains(t, m.View(), IconError)
}

func TestStatusModelCancel(t *testing.T) {
	cancelled := false
	ui := NewStatusUI("Calling", []string{"Join"}, func() { cancelled = true })

	_, cmd := ui.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.True(t, cancelled)
	assert.Contains(t, ui.model.View(), "Cancelled")
}

func TestStatusUIRunsHeadless(t *testing.T) {
	var out bytes.Buffer
	ui := NewStatusUI("Calling", []string{"Join", "Wait"}, nil).WithOutput(&out)
	ui.Start()
	ui.SetStep(0)
	ui.SetStep(1)
	ui.Finish(false)

	assert.Contains(t, out.String(), "Calling")
}

func TestProbeTableView(t *testing.T) {
	view := ProbeTableView(ProbeSummary{
		RTTs: []time.Duration{1500 * time.Microsecond, 800 * time.Microsecond},
		Min:  800 * time.Microsecond,
		Avg:  1200 * time.Microsecond,
		Max:  1500 * time.Microsecond,
	})

	assert.Contains(t, view, "1.5ms")
	assert.Contains(t, view, "800µs")
	assert.Contains(t, view, "min / avg / max")
	assert.Contains(t, view, "800µs / 1.2ms / 1.5ms")
}

func TestCallSummaryView(t *testing.T) {
	view := CallSummaryView(ProbeSummary{RoomID: "calm-heron", PeerID: "p1", Sent: 4, Received: 3, Avg: 2 * time.Millisecond})
	assert.Contains(t, view, "calm-heron")
	assert.Contains(t, view, "3/4")
	assert.Contains(t, view, "25%")
	assert.Contains(t, view, "2.0ms")
}

func TestRoomInfoView(t *testing.T) {
	view := RoomInfo{RoomID: "calm-heron", RelayURL: "ws://localhost:5000/ws"}.View()
	assert.Contains(t, view, "calm-heron")
	assert.Contains(t, view, "carecall answer calm-heron")
}

func TestPrintHelpersUseOutput(t *testing.T) {
	var out bytes.Buffer
	prev := Output
	Output = &out
	t.Cleanup(func() { Output = prev })

	PrintSuccessf("joined %s", "room")
	PrintError("boom")
	assert.Contains(t, out.String(), "joined room")
	assert.Contains(t, out.String(), "boom")
}
