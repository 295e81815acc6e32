package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rorqualx/turnstile-solver-go/internal/localserver"
	"github.com/Rorqualx/turnstile-solver-go/internal/stats"
)

// Source is what the session view reads from.
type Source interface {
	AllSessions() []localserver.Session
	BaseURL() string
}

// DomainSource is implemented by sources that also keep per-domain stats.
type DomainSource interface {
	DomainStats() []stats.DomainStats
}

type tickMsg time.Time

// Model is the bubbletea model of the live session table.
type Model struct {
	src      Source
	interval time.Duration
	sessions []localserver.Session
	domains  []stats.DomainStats
	updated  time.Time
	width    int
}

// New creates a session view refreshing every interval.
func New(src Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	m := Model{src: src, interval: interval}
	m.refresh(time.Now())
	return m
}

func (m *Model) refresh(at time.Time) {
	m.sessions = m.src.AllSessions()
	if ds, ok := m.src.(DomainSource); ok {
		m.domains = ds.DomainStats()
	}
	m.updated = at
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh(time.Time(msg))
		return m, m.tick()
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.refresh(time.Now())
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	waiting, completed := 0, 0
	for _, s := range m.sessions {
		if s.Completed() {
			completed++
		} else {
			waiting++
		}
	}

	b.WriteString(titleStyle.Render("Turnstile local solver"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(m.src.BaseURL()))
	b.WriteString("\n\n")
	b.WriteString(field("Sessions", fmt.Sprintf("%d", len(m.sessions))))
	b.WriteString("\n")
	b.WriteString(field("Waiting", warnStyle.Render(fmt.Sprintf("%d", waiting))))
	b.WriteString("\n")
	b.WriteString(field("Completed", okStyle.Render(fmt.Sprintf("%d", completed))))
	b.WriteString("\n\n")

	if len(m.sessions) == 0 {
		b.WriteString(dimStyle.Render("No sessions yet. Open /solve?sitekey=...&url=... to create one."))
	} else {
		b.WriteString(m.table())
	}
	if len(m.domains) > 0 {
		b.WriteString("\n\n")
		b.WriteString(m.domainTable())
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("updated %s · r refresh · q quit", m.updated.Format("15:04:05"))))
	b.WriteString("\n")
	return b.String()
}

func (m Model) table() string {
	cols := []int{10, 10, 14, 36, 8}
	lines := []string{headStyle.Render(row(cols, "ID", "STATUS", "SITEKEY", "URL", "AGE"))}
	now := time.Now()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		s := m.sessions[i]
		status := warnStyle.Render(string(s.Status))
		if s.Completed() {
			status = okStyle.Render(string(s.Status))
		}
		lines = append(lines, row(cols,
			short(s.ID, 9),
			status,
			short(s.Sitekey, 12),
			short(s.URL, 34),
			now.Sub(s.CreatedAt).Truncate(time.Second).String(),
		))
	}
	return strings.Join(lines, "\n")
}

func (m Model) domainTable() string {
	lines := []string{headStyle.Render(row([]int{28, 10, 8, 9, 10}, "DOMAIN", "SESSIONS", "TOKENS", "EXPIRED", "AVG"))}
	for _, d := range m.domains {
		lines = append(lines, row([]int{28, 10, 8, 9, 10},
			short(d.Domain, 26),
			fmt.Sprintf("%d", d.Sessions),
			okStyle.Render(fmt.Sprintf("%d", d.Tokens)),
			fmt.Sprintf("%d", d.Expired),
			d.AvgTokenTime().Round(100*time.Millisecond).String(),
		))
	}
	return strings.Join(lines, "\n")
}

func row(cols []int, vals ...string) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = lipgloss.NewStyle().Width(cols[i]).MaxWidth(cols[i]).Render(v)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// Run shows the session view until the user quits or ctx is cancelled.
func Run(ctx context.Context, src Source, interval time.Duration) error {
	p := tea.NewProgram(New(src, interval), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
