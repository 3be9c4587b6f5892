package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vod-curator/internal/model"
	"vod-curator/internal/sched"
)

var (
	consoleTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	consoleMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	consoleErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	consoleOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	consolePanelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	consolePausedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

type consoleModel struct {
	sched *sched.Scheduler

	stats sched.Stats
	jobs  []model.Job

	input       textinput.Model
	inputActive bool

	statusMessage string
	quitting      bool
	result        *syncResult
	width         int
	height        int
}

type consoleTickMsg struct{}

type consoleSnapshotMsg struct {
	stats sched.Stats
	jobs  []model.Job
}

type consoleDoneMsg struct {
	result syncResult
}

type consoleStatusMsg struct {
	message string
}

// runConsole drives a sync pass under a live terminal view of the scheduler.
// The orchestrator runs in the background; the console only observes and
// issues control calls.
func runConsole(s *sched.Scheduler, orch *syncOrchestrator) (syncResult, error) {
	ti := textinput.New()
	ti.Prompt = ": "
	ti.Placeholder = "cancel <id> | prio <id> <n> | cap <auth|open> <n>"
	ti.CharLimit = 120

	m := consoleModel{sched: s, input: ti}
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		result := orch.run()
		p.Send(consoleDoneMsg{result: result})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return syncResult{}, err
	}
	fm, ok := finalModel.(consoleModel)
	if !ok || fm.result == nil {
		return syncResult{}, fmt.Errorf("console closed before the sync pass finished")
	}
	return *fm.result, nil
}

func consoleTickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return consoleTickMsg{}
	})
}

func (m consoleModel) snapshotCmd() tea.Cmd {
	s := m.sched
	return func() tea.Msg {
		return consoleSnapshotMsg{stats: s.Stats(), jobs: s.List(sched.Filter{})}
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(consoleTickCmd(), m.snapshotCmd())
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, m.width-6)
		return m, nil
	case consoleTickMsg:
		return m, tea.Batch(consoleTickCmd(), m.snapshotCmd())
	case consoleSnapshotMsg:
		m.stats = msg.stats
		m.jobs = msg.jobs
		return m, nil
	case consoleDoneMsg:
		m.result = &msg.result
		if m.quitting {
			return m, tea.Quit
		}
		m.statusMessage = "sync pass finished, press q to leave"
		return m, nil
	case consoleStatusMsg:
		m.statusMessage = msg.message
		return m, m.snapshotCmd()
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	if m.inputActive {
		return m.updateCommandInput(keyMsg)
	}
	return m.updateKeys(keyMsg)
}

func (m consoleModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.result != nil {
			return m, tea.Quit
		}
		m.quitting = true
		m.statusMessage = "canceling outstanding jobs..."
		return m, m.cancelOutstandingCmd()
	case "p":
		return m, m.controlCmd("paused all scopes", func(s *sched.Scheduler) error {
			return s.PauseScope(sched.ScopeAll)
		})
	case "r":
		return m, m.controlCmd("resumed all scopes", func(s *sched.Scheduler) error {
			return s.ResumeScope(sched.ScopeAll)
		})
	case "a":
		return m, m.toggleLaneCmd(model.ChannelAuthenticated)
	case "o":
		return m, m.toggleLaneCmd(model.ChannelOpen)
	case ":":
		m.inputActive = true
		m.input.SetValue("")
		return m, m.input.Focus()
	}
	return m, nil
}

func (m consoleModel) updateCommandInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.inputActive = false
		m.input.Blur()
		return m, nil
	case "enter":
		line := strings.TrimSpace(m.input.Value())
		m.inputActive = false
		m.input.Blur()
		if line == "" {
			return m, nil
		}
		return m, m.execCommandCmd(line)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m consoleModel) controlCmd(okMessage string, fn func(*sched.Scheduler) error) tea.Cmd {
	s := m.sched
	return func() tea.Msg {
		if err := fn(s); err != nil {
			return consoleStatusMsg{message: "error: " + err.Error()}
		}
		return consoleStatusMsg{message: okMessage}
	}
}

func (m consoleModel) toggleLaneCmd(channel model.Channel) tea.Cmd {
	paused := m.stats.Channels[channel].Paused
	scope := sched.Scope(channel)
	if paused {
		return m.controlCmd(fmt.Sprintf("resumed %s lane", channel), func(s *sched.Scheduler) error {
			return s.ResumeScope(scope)
		})
	}
	return m.controlCmd(fmt.Sprintf("paused %s lane", channel), func(s *sched.Scheduler) error {
		return s.PauseScope(scope)
	})
}

func (m consoleModel) cancelOutstandingCmd() tea.Cmd {
	s := m.sched
	return func() tea.Msg {
		n := 0
		for _, job := range s.List(sched.Filter{}) {
			if job.Status.IsTerminal() {
				continue
			}
			if err := s.Cancel(job.ID); err == nil {
				n++
			}
		}
		return consoleStatusMsg{message: fmt.Sprintf("canceled %d job(s), draining...", n)}
	}
}

// execCommandCmd interprets one command line entered after ":". Job ids may
// be abbreviated to a unique prefix.
func (m consoleModel) execCommandCmd(line string) tea.Cmd {
	s := m.sched
	jobs := m.jobs
	return func() tea.Msg {
		fields := strings.Fields(line)
		switch fields[0] {
		case "cancel":
			if len(fields) != 2 {
				return consoleStatusMsg{message: "usage: cancel <id>"}
			}
			id, err := resolveJobID(jobs, fields[1])
			if err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			if err := s.Cancel(id); err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			return consoleStatusMsg{message: "canceled " + shortID(id)}
		case "prio":
			if len(fields) != 3 {
				return consoleStatusMsg{message: "usage: prio <id> <n>"}
			}
			id, err := resolveJobID(jobs, fields[1])
			if err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return consoleStatusMsg{message: "error: priority must be an integer"}
			}
			if err := s.Prioritize(id, n); err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			return consoleStatusMsg{message: fmt.Sprintf("prioritized %s to %d", shortID(id), n)}
		case "cap":
			if len(fields) != 3 {
				return consoleStatusMsg{message: "usage: cap <auth|open> <n>"}
			}
			channel, err := resolveChannel(fields[1])
			if err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return consoleStatusMsg{message: "error: capacity must be an integer"}
			}
			if err := s.SetCapacity(channel, n); err != nil {
				return consoleStatusMsg{message: "error: " + err.Error()}
			}
			return consoleStatusMsg{message: fmt.Sprintf("capacity of %s set to %d", channel, n)}
		default:
			return consoleStatusMsg{message: fmt.Sprintf("unknown command %q", fields[0])}
		}
	}
}

func resolveJobID(jobs []model.Job, prefix string) (string, error) {
	match := ""
	for _, job := range jobs {
		if !strings.HasPrefix(job.ID, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("id prefix %q is ambiguous", prefix)
		}
		match = job.ID
	}
	if match == "" {
		return "", fmt.Errorf("no job matches id prefix %q", prefix)
	}
	return match, nil
}

func resolveChannel(name string) (model.Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auth", "authenticated":
		return model.ChannelAuthenticated, nil
	case "open":
		return model.ChannelOpen, nil
	default:
		return "", fmt.Errorf("unknown channel %q (use auth or open)", name)
	}
}

func (m consoleModel) View() string {
	var b strings.Builder
	b.WriteString(consoleTitleStyle.Render("vod-curator sync console"))
	b.WriteString("\n\n")

	b.WriteString(consolePanelStyle.Render(m.renderLanes()))
	b.WriteString("\n")
	b.WriteString(m.renderJobs())
	b.WriteString("\n")

	if m.inputActive {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	} else {
		b.WriteString(consoleMutedStyle.Render("q quit | p pause | r resume | a/o toggle lane | : command"))
		b.WriteString("\n")
	}
	if m.statusMessage != "" {
		style := consoleOKStyle
		if strings.HasPrefix(m.statusMessage, "error:") {
			style = consoleErrorStyle
		}
		b.WriteString(style.Render(m.statusMessage))
		b.WriteString("\n")
	}
	return b.String()
}

func (m consoleModel) renderLanes() string {
	lines := make([]string, 0, 4)
	for _, channel := range []model.Channel{model.ChannelAuthenticated, model.ChannelOpen} {
		cs := m.stats.Channels[channel]
		line := fmt.Sprintf("%-13s running %d/%d | queued %d", channel, cs.Running, cs.Capacity, cs.Queued)
		if cs.Paused {
			line += " | " + consolePausedStyle.Render("paused")
		}
		lines = append(lines, line)
	}
	lines = append(lines, fmt.Sprintf("throttle      %d/%d in use", m.stats.ThrottleInUse, m.stats.ThrottlePermits))
	lines = append(lines, fmt.Sprintf("jobs          done %d | failed %d | canceled %d",
		m.stats.Counts.Done, m.stats.Counts.Failed, m.stats.Counts.Canceled))
	return strings.Join(lines, "\n")
}

func (m consoleModel) renderJobs() string {
	rows := 12
	if m.height > 0 && m.height-12 < rows {
		rows = max(4, m.height-12)
	}

	// Active jobs first, newest terminal jobs after.
	ordered := make([]model.Job, 0, len(m.jobs))
	var terminal []model.Job
	for _, job := range m.jobs {
		if job.Status.IsTerminal() {
			terminal = append(terminal, job)
			continue
		}
		ordered = append(ordered, job)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return statusRank(ordered[i].Status) < statusRank(ordered[j].Status)
	})
	for i := len(terminal) - 1; i >= 0 && len(ordered) < rows; i-- {
		ordered = append(ordered, terminal[i])
	}
	if len(ordered) > rows {
		ordered = ordered[:rows]
	}

	var b strings.Builder
	for _, job := range ordered {
		line := fmt.Sprintf("%s %-14s %-20s %-8s %d/%d",
			shortID(job.ID), job.Kind, truncate(job.SubscriptionID, 20), job.Status, job.Attempts, job.MaxAttempts)
		switch job.Status {
		case model.StatusFailed:
			line = consoleErrorStyle.Render(line)
		case model.StatusDone:
			line = consoleOKStyle.Render(line)
		case model.StatusPaused, model.StatusCanceled:
			line = consoleMutedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(ordered) == 0 {
		b.WriteString(consoleMutedStyle.Render("no jobs yet"))
		b.WriteString("\n")
	}
	return b.String()
}

func statusRank(status model.JobStatus) int {
	switch status {
	case model.StatusRunning:
		return 0
	case model.StatusQueued:
		return 1
	case model.StatusPaused:
		return 2
	default:
		return 3
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
