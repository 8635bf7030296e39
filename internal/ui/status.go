package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// StatusUI shows call setup as a checklist with a spinner on the current step.
type StatusUI struct {
	program *tea.Program
	model   *statusModel
	wg      sync.WaitGroup
	opts    []tea.ProgramOption
}

type stepMsg int

type finishMsg struct{ failed bool }

type statusModel struct {
	title     string
	steps     []string
	current   int
	startedAt []time.Time
	spinner   spinner.Model
	finished  bool
	failed    bool
	onCancel  func()
	quitting  bool
}

// NewStatusUI creates a status view for steps. onCancel runs when the user presses q or ctrl+c.
func NewStatusUI(title string, steps []string, onCancel func()) *StatusUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &StatusUI{
		model: &statusModel{
			title:     title,
			steps:     steps,
			current:   -1,
			startedAt: make([]time.Time, len(steps)),
			spinner:   s,
			onCancel:  onCancel,
		},
	}
}

// WithOutput renders to w instead of the terminal and ignores keyboard input.
func (ui *StatusUI) WithOutput(w io.Writer) *StatusUI {
	ui.opts = append(ui.opts, tea.WithOutput(w), tea.WithInput(nil))
	return ui
}

// Start runs the view in a goroutine. Inline mode keeps earlier terminal output visible.
func (ui *StatusUI) Start() {
	ui.program = tea.NewProgram(ui.model, ui.opts...)
	ui.wg.Add(1)
	go func() {
		defer ui.wg.Done()
		if _, err := ui.program.Run(); err != nil {
			fmt.Fprintf(Output, "UI error: %v\n", err)
		}
	}()
}

// SetStep marks step i as in progress and every earlier step as done.
func (ui *StatusUI) SetStep(i int) {
	if ui.program != nil {
		ui.program.Send(stepMsg(i))
	}
}

// Finish stops the view, leaving the final checklist on screen.
func (ui *StatusUI) Finish(failed bool) {
	if ui.program == nil {
		return
	}
	ui.program.Send(finishMsg{failed: failed})
	ui.wg.Wait()
}

func (m *statusModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.onCancel != nil {
				m.onCancel()
			}
			return m, tea.Quit
		}

	case stepMsg:
		i := int(msg)
		if i >= 0 && i < len(m.steps) && i > m.current {
			for j := m.current + 1; j <= i; j++ {
				m.startedAt[j] = time.Now()
			}
			m.current = i
		}

	case finishMsg:
		m.finished = true
		m.failed = msg.failed
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *statusModel) View() string {
	if m.quitting {
		return MutedStyle.Render("Cancelled.") + "\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n%s %s\n\n", IconCall, TitleStyle.Render(m.title)))

	for i, step := range m.steps {
		var icon, label string
		switch {
		case i < m.current, i == m.current && m.finished && !m.failed:
			icon, label = IconSuccess, SuccessStyle.Render(step)
		case i == m.current && m.failed:
			icon, label = IconError, ErrorStyle.Render(step)
		case i == m.current:
			icon, label = m.spinner.View(), BoldStyle.Render(step)
			if !m.startedAt[i].IsZero() {
				label += MutedStyle.Render(fmt.Sprintf(" %s", time.Since(m.startedAt[i]).Round(time.Second)))
			}
		default:
			icon, label = IconPending, MutedStyle.Render(step)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", icon, label))
	}

	if !m.finished {
		b.WriteString("\n" + MutedStyle.Render("Press q to cancel") + "\n")
	}
	return b.String()
}
