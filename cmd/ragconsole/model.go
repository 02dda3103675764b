package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragconsole/internal/backend"
	"ragconsole/internal/config"
	"ragconsole/internal/console"
	"ragconsole/internal/runtimeconfig"
)

type tabID int

const (
	tabSessions tabID = iota
	tabSettings
	tabHelp
	tabCount
)

const (
	timelineMaxLines = 60
	timelineMaxChars = 8000
	healthInterval   = 15 * time.Second
	inputPrompt      = "❯ "
	convPrompt       = "conversation ❯ "
)

// consoleDeps is everything the model needs from main.
type consoleDeps struct {
	cfg           config.Config
	client        *backend.Client
	registry      *console.Registry
	applier       *runtimeconfig.Applier
	sessionEvents <-chan console.Event
	configEvents  <-chan struct{}
}

type model struct {
	cfg      config.Config
	client   *backend.Client
	registry *console.Registry
	applier  *runtimeconfig.Applier

	sessionEvents <-chan console.Event
	configEvents  <-chan struct{}

	sessions      []*console.Session
	activeID      string
	settings      runtimeconfig.Snapshot
	settingsIndex int
	healthy       bool
	healthChecked bool
	conversations []string

	statusLine  string
	logs        []string
	activeTab   tabID
	editingConv bool
	quitConfirm bool
	width       int
	height      int

	input    textinput.Model
	timeline viewport.Model
	sidebar  viewport.Model
	spinner  spinner.Model
	markdown *markdownRenderer
	theme    uiTheme
}

type healthDoneMsg struct {
	err error
}

type conversationsDoneMsg struct {
	ids []string
	err error
}

type configLoadedMsg struct {
	err error
}

type configFlushedMsg struct {
	err error
}

type sessionEventMsg struct {
	event console.Event
}

type configChangedMsg struct{}

type tickMsg time.Time

func newModel(deps consoleDeps) model {
	input := textinput.New()
	input.Prompt = inputPrompt
	input.CharLimit = 8000
	input.Placeholder = "Ask the knowledge base. /help lists commands."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true
	timeline.MouseWheelDelta = 4
	sidebar := viewport.New(0, 0)
	sidebar.MouseWheelEnabled = true
	sidebar.MouseWheelDelta = 4

	m := model{
		cfg:           deps.cfg,
		client:        deps.client,
		registry:      deps.registry,
		applier:       deps.applier,
		sessionEvents: deps.sessionEvents,
		configEvents:  deps.configEvents,
		statusLine:    "connecting to " + deps.cfg.BackendURL,
		logs:          []string{},
		activeTab:     tabSessions,
		input:         input,
		timeline:      timeline,
		sidebar:       sidebar,
		spinner:       sp,
		markdown:      newMarkdownRenderer("dark"),
		theme:         newTheme(),
	}
	m.syncSessions()
	m.loadDraft()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.healthCmd(),
		m.configLoadCmd(),
		waitSessionEvent(m.sessionEvents),
		waitConfigEvent(m.configEvents),
		tickEvery(healthInterval),
	)
}

func tickEvery(interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = healthInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitSessionEvent(ch <-chan console.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return sessionEventMsg{event: event}
	}
}

func waitConfigEvent(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return configChangedMsg{}
	}
}

func (m model) requestContext() (context.Context, context.CancelFunc) {
	timeout := m.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (m model) healthCmd() tea.Cmd {
	if m.client == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return healthDoneMsg{err: m.client.Health(ctx)}
	}
}

func (m model) conversationsCmd() tea.Cmd {
	if m.client == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		ids, err := m.client.ListConversations(ctx)
		return conversationsDoneMsg{ids: ids, err: err}
	}
}

func (m model) configLoadCmd() tea.Cmd {
	if m.applier == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return configLoadedMsg{err: m.applier.Load(ctx)}
	}
}

func (m model) configFlushCmd() tea.Cmd {
	if m.applier == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return configFlushedMsg{err: m.applier.Flush(ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case healthDoneMsg:
		wasHealthy, checked := m.healthy, m.healthChecked
		m.healthy = msg.err == nil
		m.healthChecked = true
		switch {
		case msg.err != nil && (wasHealthy || !checked):
			m.logError(fmt.Errorf("backend unreachable: %w", msg.err))
		case msg.err == nil && !wasHealthy:
			m.statusLine = "backend ready · " + m.cfg.BackendURL
			m.appendLog(m.statusLine)
		}
	case conversationsDoneMsg:
		if msg.err != nil {
			m.logError(fmt.Errorf("list conversations: %w", msg.err))
			break
		}
		m.conversations = msg.ids
		m.statusLine = fmt.Sprintf("%d conversations on backend", len(msg.ids))
		m.appendLog(m.statusLine)
		m.renderPanes()
	case configLoadedMsg:
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.settings = m.applier.Snapshot()
		m.appendLog("runtime config loaded")
		m.renderPanes()
	case configFlushedMsg:
		if msg.err != nil {
			m.logError(msg.err)
			break
		}
		m.statusLine = "runtime config saved"
	case configChangedMsg:
		prevErr := m.settings.LastError
		m.settings = m.applier.Snapshot()
		if m.settings.LastError != "" && m.settings.LastError != prevErr {
			m.appendLog("runtime config save failed: " + m.settings.LastError)
			m.statusLine = "runtime config save failed"
		}
		if m.activeTab == tabSettings {
			m.renderPanes()
		}
		cmds = append(cmds, waitConfigEvent(m.configEvents))
	case sessionEventMsg:
		prev := m.activeSession()
		m.syncSessions()
		if cur := m.activeSession(); cur != nil && cur.ID == msg.event.SessionID {
			m.noteSessionChange(prev, cur)
		}
		if prev == nil || prev.ID != m.activeID {
			m.loadDraft()
		}
		m.renderPanes()
		cmds = append(cmds, waitSessionEvent(m.sessionEvents))
	case tickMsg:
		cmds = append(cmds, m.healthCmd(), tickEvery(healthInterval))
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.renderPanes()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	case tea.MouseMsg:
		if m.quitConfirm || m.activeTab != tabSessions {
			break
		}
		var cmd tea.Cmd
		m.timeline, cmd = m.timeline.Update(msg)
		cmds = append(cmds, cmd)
	case tea.KeyMsg:
		return m.handleKey(msg, cmds)
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	if m.quitConfirm {
		switch key {
		case "y", "Y", "enter":
			return m, tea.Quit
		case "n", "N", "esc":
			m.quitConfirm = false
			m.statusLine = "quit canceled"
			m.renderPanes()
		}
		return m, tea.Batch(cmds...)
	}
	if m.editingConv {
		switch key {
		case "enter", "esc":
			m.finishConvEdit()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		if err := m.registry.SetConversationID(m.activeID, m.input.Value()); err != nil {
			m.logError(err)
		}
		return m, tea.Batch(cmds...)
	}

	switch key {
	case "esc":
		if m.activeTab == tabSessions {
			m.beginQuitConfirm()
		} else {
			m.setTab(tabSessions)
		}
		return m, tea.Batch(cmds...)
	case "tab":
		m.setTab((m.activeTab + 1) % tabCount)
		return m, tea.Batch(cmds...)
	case "shift+tab":
		m.setTab((m.activeTab + tabCount - 1) % tabCount)
		return m, tea.Batch(cmds...)
	case "ctrl+n":
		m.addSession()
		return m, tea.Batch(cmds...)
	case "ctrl+w":
		m.removeActive()
		return m, tea.Batch(cmds...)
	case "ctrl+right", "alt+]":
		m.switchSession(1)
		return m, tea.Batch(cmds...)
	case "ctrl+left", "alt+[":
		m.switchSession(-1)
		return m, tea.Batch(cmds...)
	case "ctrl+o":
		m.beginConvEdit()
		return m, tea.Batch(cmds...)
	case "ctrl+r":
		m.reloadActive()
		return m, tea.Batch(cmds...)
	}

	switch m.activeTab {
	case tabSessions:
		switch key {
		case "enter":
			raw := strings.TrimSpace(m.input.Value())
			if raw == "" {
				return m, tea.Batch(cmds...)
			}
			if strings.HasPrefix(raw, "/") {
				m.input.SetValue("")
				m.syncDraft()
				if cmd := m.handleSlash(raw); cmd != nil {
					cmds = append(cmds, cmd)
				}
				return m, tea.Batch(cmds...)
			}
			m.submit()
			return m, tea.Batch(cmds...)
		case "pgup", "ctrl+b":
			m.timeline.LineUp(8)
			return m, tea.Batch(cmds...)
		case "pgdown", "ctrl+f":
			m.timeline.LineDown(8)
			return m, tea.Batch(cmds...)
		case "up":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineUp(4)
				return m, tea.Batch(cmds...)
			}
		case "down":
			if strings.TrimSpace(m.input.Value()) == "" {
				m.timeline.LineDown(4)
				return m, tea.Batch(cmds...)
			}
		case "home":
			m.timeline.GotoTop()
			return m, tea.Batch(cmds...)
		case "end":
			m.timeline.GotoBottom()
			return m, tea.Batch(cmds...)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		m.syncDraft()
	case tabSettings:
		switch key {
		case "up", "k":
			m.settingsIndex = maxInt(0, m.settingsIndex-1)
		case "down", "j":
			m.settingsIndex = minInt(len(runtimeconfig.Fields)-1, m.settingsIndex+1)
		case "left", "h", "-":
			m.adjustSetting(-1)
		case "right", "l", "+":
			m.adjustSetting(1)
		case "r":
			cmds = append(cmds, m.configLoadCmd())
			m.statusLine = "reloading runtime config"
		case "s":
			cmds = append(cmds, m.configFlushCmd())
			m.statusLine = "saving runtime config"
		}
		m.renderPanes()
	}
	return m, tea.Batch(cmds...)
}

func (m *model) handleSlash(raw string) tea.Cmd {
	parts := strings.Fields(strings.TrimSpace(raw))
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	tail := parts[1:]
	switch cmd {
	case "/help":
		m.setTab(tabHelp)
	case "/quit", "/exit":
		m.beginQuitConfirm()
	case "/new":
		m.addSession()
	case "/close":
		m.removeActive()
	case "/reload":
		m.reloadActive()
	case "/conversations":
		m.statusLine = "listing conversations..."
		return m.conversationsCmd()
	case "/conv":
		s := m.activeSession()
		if s == nil {
			m.statusLine = "no active session"
			return nil
		}
		if len(tail) == 0 {
			m.statusLine = "conversation: " + nullCoalesce(s.ConversationID, "(unset)")
			return nil
		}
		if err := m.registry.SetConversationID(s.ID, tail[0]); err != nil {
			m.logError(err)
			return nil
		}
		m.statusLine = "conversation set to " + tail[0]
		m.appendLog(m.statusLine)
	default:
		m.statusLine = "unknown command: " + cmd + " (try /help)"
	}
	m.renderPanes()
	return nil
}

func (m *model) submit() {
	s := m.activeSession()
	if s == nil {
		m.statusLine = "no active session · ctrl+n opens one"
		return
	}
	m.syncDraft()
	if !m.registry.Submit(s.ID) {
		if cur, ok := m.registry.Get(s.ID); ok && cur.Sending {
			m.statusLine = "still waiting for the previous answer"
		}
		return
	}
	m.input.SetValue("")
	m.statusLine = "sent to " + nullCoalesce(s.ConversationID, "new conversation")
	m.syncSessions()
	m.timeline.GotoBottom()
	m.renderPanes()
}

func (m *model) addSession() {
	id := m.registry.AddSession()
	if id == "" {
		m.statusLine = "console is shutting down"
		return
	}
	m.syncDraft()
	m.activeID = id
	m.syncSessions()
	m.loadDraft()
	m.statusLine = fmt.Sprintf("session %d opened", len(m.sessions))
	m.appendLog(m.statusLine)
	m.renderPanes()
}

func (m *model) removeActive() {
	if m.activeID == "" {
		m.statusLine = "no session to close"
		return
	}
	idx := m.activeIndex()
	if !m.registry.RemoveSession(m.activeID) {
		return
	}
	m.activeID = ""
	m.syncSessions()
	if len(m.sessions) > 0 {
		m.activeID = m.sessions[clampInt(idx, 0, len(m.sessions)-1)].ID
	}
	m.loadDraft()
	m.statusLine = fmt.Sprintf("session closed · %d left", len(m.sessions))
	m.appendLog(m.statusLine)
	m.renderPanes()
}

func (m *model) switchSession(delta int) {
	n := len(m.sessions)
	if n < 2 {
		return
	}
	m.syncDraft()
	m.syncSessions()
	n = len(m.sessions)
	if n == 0 {
		return
	}
	idx := m.activeIndex()
	m.activeID = m.sessions[((idx+delta)%n+n)%n].ID
	m.loadDraft()
	m.timeline.GotoBottom()
	m.statusLine = fmt.Sprintf("session %d/%d", m.activeIndex()+1, n)
	m.renderPanes()
}

func (m *model) reloadActive() {
	if m.activeID == "" {
		return
	}
	if err := m.registry.Reload(m.activeID); err != nil {
		m.logError(err)
		return
	}
	m.statusLine = "reloading history"
}

func (m *model) beginConvEdit() {
	s := m.activeSession()
	if s == nil || m.activeTab != tabSessions {
		return
	}
	m.syncDraft()
	m.editingConv = true
	m.input.Prompt = convPrompt
	m.input.SetValue(s.ConversationID)
	m.input.CursorEnd()
	m.statusLine = "editing conversation id · enter or esc to finish"
}

func (m *model) finishConvEdit() {
	m.editingConv = false
	m.input.Prompt = inputPrompt
	if s := m.activeSession(); s != nil {
		m.statusLine = "conversation: " + nullCoalesce(s.ConversationID, "(unset)")
	}
	m.loadDraft()
	m.renderPanes()
}

func (m *model) setTab(tab tabID) {
	m.activeTab = tab
	if tab == tabSessions {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.renderPanes()
}

func (m *model) adjustSetting(delta int) {
	if m.applier == nil || !m.settings.Loaded {
		m.statusLine = "runtime config not loaded yet"
		return
	}
	field := runtimeconfig.Fields[clampInt(m.settingsIndex, 0, len(runtimeconfig.Fields)-1)]
	if err := m.applier.Adjust(field.Key, delta); err != nil {
		m.logError(err)
		return
	}
	m.settings = m.applier.Snapshot()
	m.statusLine = fmt.Sprintf("%s → %s", field.Label, field.Format(m.settings.Local[field.Key]))
}

// noteSessionChange surfaces transitions of the active session in the status
// line.
func (m *model) noteSessionChange(prev, cur *console.Session) {
	if prev == nil || prev.ID != cur.ID {
		return
	}
	if cur.Error != "" && cur.Error != prev.Error {
		m.statusLine = "turn failed: " + cur.Error
		m.appendLog(m.statusLine)
		return
	}
	if prev.Sending && !cur.Sending && cur.Error == "" {
		m.statusLine = "answer received"
	}
	if prev.SummaryStatus != console.SummaryReady && cur.SummaryStatus == console.SummaryReady {
		m.appendLog("summary ready · " + compactSingleLine(cur.Summary, 80))
	}
}

func (m *model) syncSessions() {
	if m.registry == nil {
		return
	}
	m.sessions = m.registry.List()
	if m.activeIndex() >= 0 {
		return
	}
	m.activeID = ""
	if len(m.sessions) > 0 {
		m.activeID = m.sessions[0].ID
	}
}

func (m *model) syncDraft() {
	if m.activeID == "" || m.editingConv {
		return
	}
	_ = m.registry.SetDraft(m.activeID, m.input.Value())
}

// loadDraft reads from the registry; the cached list may predate SetDraft.
func (m *model) loadDraft() {
	draft := ""
	if s, ok := m.registry.Get(m.activeID); ok {
		draft = s.Draft
	}
	m.input.SetValue(draft)
	m.input.CursorEnd()
}

func (m model) activeIndex() int {
	for i, s := range m.sessions {
		if s.ID == m.activeID {
			return i
		}
	}
	return -1
}

func (m model) activeSession() *console.Session {
	if idx := m.activeIndex(); idx >= 0 {
		return m.sessions[idx]
	}
	return nil
}

func (m *model) beginQuitConfirm() {
	m.quitConfirm = true
	m.statusLine = "ARE YOU SURE YOU WANT TO QUIT?"
}

func (m *model) appendLog(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	m.logs = append(m.logs, fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), compactSingleLine(trimmed, 220)))
	if len(m.logs) > 50 {
		m.logs = m.logs[len(m.logs)-50:]
	}
}

func (m *model) logError(err error) {
	if err == nil {
		return
	}
	m.appendLog("error: " + err.Error())
	m.statusLine = "error: " + compactSingleLine(err.Error(), 160)
}
