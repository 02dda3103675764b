package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ragconsole/internal/console"
	"ragconsole/internal/runtimeconfig"
)

func (m model) View() string {
	out := lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.renderContent(),
		m.renderInput(),
		m.renderFooter(),
	)
	if m.quitConfirm {
		out = m.renderQuitModal()
	}
	return m.theme.root.Render(out)
}

func (m model) renderHeader() string {
	tabs := []struct {
		id    tabID
		label string
	}{
		{tabSessions, "Sessions"},
		{tabSettings, "Settings"},
		{tabHelp, "Help"},
	}
	segments := make([]string, 0, len(tabs)+1)
	for _, tab := range tabs {
		style := m.theme.tabInactive
		if tab.id == m.activeTab {
			style = m.theme.tabActive
		}
		segments = append(segments, style.Render(tab.label))
	}
	backendState := "checking"
	if m.healthChecked {
		backendState = "down"
		if m.healthy {
			backendState = "up"
		}
	}
	meta := fmt.Sprintf(" Backend: %s (%s) · Sessions: %d", m.cfg.BackendURL, backendState, len(m.sessions))
	segments = append(segments, m.theme.helpText.Render(meta))
	joined := lipgloss.JoinHorizontal(lipgloss.Left, segments...)
	return m.theme.header.Width(maxInt(20, m.width-4)).Render(joined)
}

func (m model) renderContent() string {
	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)

	switch m.activeTab {
	case tabSessions:
		mainPanelHeight, summaryHeight := chatPanelHeights(contentHeight)
		leftWidth, rightWidth := splitWidths(contentWidth)
		title := "Conversation"
		if s := m.activeSession(); s != nil {
			title = "Conversation " + nullCoalesce(s.ConversationID, "(unset)")
		}
		left := m.theme.panel.Width(leftWidth).Height(mainPanelHeight).Render(
			m.theme.panelTitle.Render(title) + "\n" + m.timeline.View(),
		)
		right := m.theme.panel.Width(rightWidth).Height(mainPanelHeight).Render(
			m.theme.panelTitle.Render("Sessions") + "\n" + m.sidebar.View(),
		)
		top := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
		summary := m.theme.panel.Width(contentWidth).Height(summaryHeight).Render(
			m.theme.panelTitle.Render("Summary") + "\n" + m.renderSummary(contentWidth-4, summaryHeight-2),
		)
		return lipgloss.JoinVertical(lipgloss.Left, top, summary)
	case tabSettings:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("Runtime Config") + "\n" + m.renderSettings())
	case tabHelp:
		panel := m.theme.panel.Width(contentWidth).Height(contentHeight)
		return panel.Render(m.theme.panelTitle.Render("ragconsole Help") + "\n" + m.renderHelp())
	default:
		return ""
	}
}

func splitWidths(contentWidth int) (int, int) {
	leftWidth := int(float64(contentWidth) * 0.68)
	rightWidth := contentWidth - leftWidth - 1
	if rightWidth < 28 {
		rightWidth = 28
		leftWidth = contentWidth - rightWidth - 1
	}
	return leftWidth, rightWidth
}

func chatPanelHeights(contentHeight int) (mainPanelHeight int, summaryHeight int) {
	mainPanelHeight = maxInt(6, contentHeight-6)
	summaryHeight = maxInt(4, contentHeight-mainPanelHeight)
	if mainPanelHeight+summaryHeight > contentHeight {
		mainPanelHeight = maxInt(5, contentHeight-summaryHeight)
	}
	return mainPanelHeight, summaryHeight
}

func (m model) renderSummary(width, lines int) string {
	s := m.activeSession()
	if s == nil {
		return m.theme.helpText.Render("No session open. Press Ctrl+N.")
	}
	switch s.SummaryStatus {
	case console.SummaryReady:
		text := wrapText(compactSingleLine(s.Summary, 2000), maxInt(20, width))
		rows := strings.Split(text, "\n")
		if lines > 0 && len(rows) > lines {
			rows = append(rows[:lines-1], "...")
		}
		return m.theme.summaryReady.Render(strings.Join(rows, "\n"))
	case console.SummaryWaiting:
		return m.theme.summaryWait.Render(m.spinner.View() + " waiting for summary...")
	case console.SummaryError:
		return m.theme.errorStatus.Render("summary unavailable")
	default:
		return m.theme.helpText.Render("No summary yet.")
	}
}

func (m *model) renderInput() string {
	contentWidth := maxInt(40, m.width-4)
	if m.activeTab != tabSessions {
		return m.theme.inputPanel.Width(contentWidth).Render(m.theme.helpText.Render("Input disabled outside Sessions tab. Press Tab to return."))
	}
	inputView := m.input.View()
	if s := m.activeSession(); s != nil && s.Sending && !m.editingConv {
		inputView = m.spinner.View() + " " + stageLabel(s.Stage) + "... " + inputView
	}
	return m.theme.inputPanel.Width(contentWidth).Render(inputView)
}

func (m *model) renderFooter() string {
	contentWidth := maxInt(40, m.width-4)
	statusStyle := m.theme.status
	lower := strings.ToLower(m.statusLine)
	if strings.Contains(lower, "failed") || strings.Contains(lower, "error") || strings.Contains(lower, "unreachable") {
		statusStyle = m.theme.errorStatus
	}
	line := statusStyle.Render(compactSingleLine(m.statusLine, 180))
	hints := m.theme.helpText.Render("Keys: Enter send · Ctrl+N new · Ctrl+W close · Ctrl+←/→ switch · Ctrl+O conversation id · Tab view · Esc quit prompt · Ctrl+C quit")
	return m.theme.footer.Width(contentWidth).Render(line + "\n" + hints)
}

func (m *model) renderQuitModal() string {
	canvasWidth := maxInt(40, m.width-4)
	canvasHeight := maxInt(12, m.height-4)
	modalWidth := clampInt(int(float64(canvasWidth)*0.56), 42, 78)
	if modalWidth > canvasWidth-2 {
		modalWidth = canvasWidth - 2
	}

	busy := 0
	for _, s := range m.sessions {
		if s.Sending {
			busy++
		}
	}
	note := "Conversations live on the backend; nothing is lost on exit."
	if busy > 0 {
		note = fmt.Sprintf("%d session(s) still waiting for an answer. Quitting abandons them.", busy)
	}
	title := m.theme.errorStatus.Render("QUIT RAGCONSOLE?")
	prompt := m.theme.settingPick.Render("[Y / Enter] Quit") + "    " + m.theme.helpText.Render("[N / Esc] Return")
	accent := m.theme.modalAccent.Render(strings.Repeat("=", 40))
	body := strings.Join([]string{
		title,
		"",
		accent,
		m.theme.helpText.Render(note),
		accent,
		"",
		prompt,
	}, "\n")
	panel := m.theme.modalFrame.Width(modalWidth).Render(body)
	return lipgloss.Place(
		canvasWidth,
		canvasHeight,
		lipgloss.Center,
		lipgloss.Center,
		panel,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("#120924")),
	)
}

// renderPanes refreshes viewport content, keeping the scroll position unless
// the viewport was pinned to the bottom.
func (m *model) renderPanes() {
	prevTimelineYOffset := m.timeline.YOffset
	prevTimelineAtBottom := m.timeline.AtBottom()

	contentHeight := maxInt(8, m.height-12)
	contentWidth := maxInt(40, m.width-4)
	mainPanelHeight, _ := chatPanelHeights(contentHeight)
	leftWidth, rightWidth := splitWidths(contentWidth)

	m.timeline.Width = maxInt(20, leftWidth-4)
	m.timeline.Height = maxInt(5, mainPanelHeight-3)
	m.sidebar.Width = maxInt(20, rightWidth-4)
	m.sidebar.Height = maxInt(5, mainPanelHeight-3)

	m.timeline.SetContent(m.renderTimeline())
	if prevTimelineAtBottom {
		m.timeline.GotoBottom()
	} else {
		m.timeline.SetYOffset(prevTimelineYOffset)
	}
	m.sidebar.SetContent(m.renderSidebar())
}

func (m *model) resize() {
	contentWidth := maxInt(40, m.width-4)
	m.input.Width = maxInt(20, contentWidth-6)
}

func (m *model) renderTimeline() string {
	s := m.activeSession()
	if s == nil {
		return "No session open. Press Ctrl+N or type /new."
	}
	width := maxInt(24, m.timeline.Width-2)
	var b strings.Builder
	for _, msg := range s.Messages {
		b.WriteString(m.theme.roleStyle(msg.Role).Render("[" + string(msg.Role) + "]"))
		b.WriteString("\n")
		preview := compactTimelineMessage(msg.Content, timelineMaxLines, timelineMaxChars)
		if msg.Role == console.RoleAssistant {
			b.WriteString(m.markdown.render(preview, width))
		} else {
			b.WriteString(wrapText(preview, width))
		}
		b.WriteString("\n\n")
	}
	if s.Sending {
		b.WriteString(m.theme.summaryWait.Render(fmt.Sprintf("%s %s...", m.spinner.View(), stageLabel(s.Stage))))
		b.WriteString("\n")
	}
	if s.Error != "" {
		b.WriteString(m.theme.errorStatus.Render("error: " + s.Error))
		b.WriteString("\n")
	}
	if strings.TrimSpace(b.String()) == "" {
		if s.SummaryStatus == console.SummaryWaiting {
			return "Loading history..."
		}
		return "No messages yet. Type a question and press Enter."
	}
	return strings.TrimSpace(b.String())
}

func (m *model) renderSidebar() string {
	var b strings.Builder
	if len(m.sessions) == 0 {
		b.WriteString(m.theme.helpText.Render("No sessions."))
	}
	idWidth := maxInt(8, m.sidebar.Width-14)
	for i, s := range m.sessions {
		label := fmt.Sprintf("%d %s", i+1, padRight(shortID(nullCoalesce(s.ConversationID, "(unset)"), idWidth-2), idWidth))
		state := string(s.SummaryStatus)
		switch {
		case s.Sending:
			state = stageLabel(s.Stage)
		case s.Error != "":
			state = "error"
		}
		line := label + " " + state
		if s.ID == m.activeID {
			b.WriteString(m.theme.sessionPick.Render("▶ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if len(m.conversations) > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.panelTitle.Render("Backend conversations"))
		b.WriteString("\n")
		for _, id := range m.conversations {
			b.WriteString(m.theme.helpText.Render("  " + shortID(id, idWidth)))
			b.WriteString("\n")
		}
	}

	if len(m.logs) > 0 {
		b.WriteString("\n")
		b.WriteString(m.theme.panelTitle.Render("Activity"))
		b.WriteString("\n")
		start := maxInt(0, len(m.logs)-6)
		for _, line := range m.logs[start:] {
			b.WriteString(m.theme.helpText.Render(truncate(line, maxInt(20, m.sidebar.Width))))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func stageLabel(stage console.Stage) string {
	switch stage {
	case console.StageSearch:
		return "searching"
	case console.StagePrompt:
		return "building prompt"
	case console.StageGenerate:
		return "generating"
	default:
		return "idle"
	}
}

func (m *model) renderSettings() string {
	var b strings.Builder
	b.WriteString(m.theme.helpText.Render("Use ↑/↓ to select and ←/→ (or -/+) to change values. Edits auto-apply; s saves now, r reloads."))
	b.WriteString("\n\n")
	if !m.settings.Loaded {
		b.WriteString(m.theme.helpText.Render("Runtime config not loaded yet."))
		return b.String()
	}
	dirty := runtimeconfig.Diff(m.settings.Local, m.settings.Persisted)
	for i, field := range runtimeconfig.Fields {
		labelStyle := m.theme.settingKey
		valueStyle := m.theme.settingValue
		prefix := "  "
		if i == m.settingsIndex {
			labelStyle = m.theme.settingPick
			valueStyle = m.theme.settingPick
			prefix = "▶ "
		}
		value := field.Format(m.settings.Local[field.Key])
		if _, ok := dirty[field.Key]; ok {
			value += " *"
		}
		b.WriteString(prefix + labelStyle.Render(fmt.Sprintf("%-18s", field.Label)) + " " + valueStyle.Render(value) + "\n")
		b.WriteString("   " + m.theme.helpText.Render(field.Key+" · "+field.Help) + "\n")
	}
	b.WriteString("\n" + m.settingsState())
	return strings.TrimSpace(b.String())
}

func (m *model) settingsState() string {
	switch {
	case m.settings.Saving:
		return m.theme.summaryWait.Render("saving...")
	case m.settings.LastError != "":
		return m.theme.errorStatus.Render("save failed: " + compactSingleLine(m.settings.LastError, 120))
	case m.settings.Dirty:
		return m.theme.summaryWait.Render("unsaved changes")
	case !m.settings.LastSaved.IsZero():
		return m.theme.summaryReady.Render("saved " + m.settings.LastSaved.Format("15:04:05"))
	default:
		return m.theme.helpText.Render("in sync with backend")
	}
}

func (m *model) renderHelp() string {
	lines := []string{
		"Core Keys",
		"- Enter: send the draft of the active session",
		"- Ctrl+N / Ctrl+W: open / close a session",
		"- Ctrl+Left / Ctrl+Right (or Alt+[ / Alt+]): switch session",
		"- Ctrl+O: edit the conversation id (history reloads after a short pause)",
		"- Ctrl+R: reload history and summary now",
		"- Tab / Shift+Tab: switch views",
		"- Timeline scroll: PgUp/PgDn, Up/Down (input empty), Home/End",
		"- Esc: quit prompt (Sessions) or back to Sessions",
		"- Ctrl+C: quit",
		"",
		"Slash Commands",
		"- /new",
		"- /close",
		"- /conv [conversation_id]",
		"- /conversations",
		"- /reload",
		"- /help",
		"- /quit",
		"",
		"Sessions",
		"- Each session keeps its own draft, timeline, summary and in-flight request",
		"- The summary panel waits for the backend to settle after each answer",
		"- Runtime config edits are shared by all sessions",
	}
	return m.theme.helpText.Render(strings.Join(lines, "\n"))
}
