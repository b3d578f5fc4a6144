package util

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	barPadding  = 2
	barMaxWidth = 80
)

var messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262")).Render

// ProgressBar renders a full-screen terminal progress bar for long running
// commands such as bulk loads.
type ProgressBar struct {
	program    *tea.Program
	bar        progress.Model
	percent    float64
	message    string
	stopped    bool
	mu         sync.Mutex
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// SetProgress updates the completion fraction (0..1).
func (m *ProgressBar) SetProgress(p float64) {
	m.mu.Lock()
	m.percent = p
	m.mu.Unlock()
}

// SetMessage updates the status line below the bar.
func (m *ProgressBar) SetMessage(msg string) {
	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()
}

// Stop quits the program, waiting briefly for the final frame.
func (m *ProgressBar) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	select {
	case <-m.ctx.Done():
	case <-time.After(time.Second):
	}
}

type frameMsg time.Time

func nextFrame() tea.Cmd {
	return tea.Tick(time.Millisecond*500, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m *ProgressBar) Init() tea.Cmd {
	return nextFrame()
}

func (m *ProgressBar) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.cancelFunc()
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-barPadding*2-4, barMaxWidth)
		return m, nil

	case frameMsg:
		if m.percent >= 1.0 || m.stopped {
			m.stopped = true
			return m, tea.Quit
		}
		return m, nextFrame()

	default:
		return m, nil
	}
}

func (m *ProgressBar) View() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pad := strings.Repeat(" ", barPadding)
	return "\n" +
		pad + m.bar.ViewAs(m.percent) + "\n\n" +
		pad + messageStyle(m.message)
}

func NewProgressBar(ctx context.Context, cancelFunc context.CancelFunc) *ProgressBar {
	m := &ProgressBar{
		bar:        progress.New(progress.WithDefaultGradient()),
		ctx:        ctx,
		cancelFunc: cancelFunc,
	}
	m.program = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx), tea.WithoutSignalHandler())

	go func() {
		if _, err := m.program.Run(); err != nil {
			panic(err)
		}
	}()

	return m
}

type ProgressCallback func(progressbar *ProgressBar)

// RunWithProgress shows a progress bar for the duration of the callback.
func RunWithProgress(ctx context.Context, cancel context.CancelFunc, callback ProgressCallback) {
	progressbar := NewProgressBar(ctx, cancel)
	callback(progressbar)
	progressbar.SetProgress(1.0)
	progressbar.Stop()
}
