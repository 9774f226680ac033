// Package tui — терминальная консоль оператора: список диалогов слева, переписка выбранного
// диалога справа, строка ввода снизу.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/psds-microservice/operator-console/internal/messenger"
	"github.com/psds-microservice/operator-console/internal/model"
)

// Console описывает, что нужно TUI от messenger.Console.
type Console interface {
	DialogsView() (messenger.View, bool)
	Navigate(authorID, issueID string) (messenger.View, error)
	Send(ctx context.Context, text string) (model.Message, error)
	SetClosed(ctx context.Context, issueID string, closed bool) (model.Issue, error)
	Wait(ctx context.Context) bool
}

const (
	listWidth     = 34
	previewLength = 24
	timeLayout    = "02.01 15:04"
)

type pane int

const (
	paneList pane = iota
	paneInput
)

type (
	changedMsg struct{}
	sentMsg    struct{ err error }
	closedMsg  struct {
		issue model.Issue
		err   error
	}
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	operatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	userStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	aiStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	borderStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238"))
	activeBorder  = borderStyle.BorderForeground(lipgloss.Color("63"))
)

type Model struct {
	ctx     context.Context
	console Console

	dialogs []*model.Issue
	cursor  int

	authorID string
	issueID  string
	view     messenger.View

	focus    pane
	input    textinput.Model
	messages viewport.Model
	spinner  spinner.Model

	width, height int
	status        string
	ready         bool
}

// New создаёт модель; ctx ограничивает ожидание обновлений сессий.
func New(ctx context.Context, console Console) Model {
	in := textinput.New()
	in.Placeholder = "Сообщение"
	in.CharLimit = 8000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		ctx:      ctx,
		console:  console,
		input:    in,
		messages: viewport.New(0, 0),
		spinner:  sp,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.spinner.Tick, textinput.Blink)
}

func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		if !m.console.Wait(m.ctx) {
			return nil
		}
		return changedMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case sentMsg:
		if msg.err != nil {
			m.status = "send: " + msg.err.Error()
		}
		m.refresh()
		return m, nil

	case closedMsg:
		if msg.err != nil {
			m.status = "close: " + msg.err.Error()
		} else if msg.issue.IsClosed {
			m.status = "issue " + msg.issue.IssueID + " closed"
		} else {
			m.status = "issue " + msg.issue.IssueID + " reopened"
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.toggleFocus()
		return m, nil
	case "ctrl+x":
		return m, m.toggleClosed()
	}

	if m.focus == paneInput {
		switch msg.String() {
		case "esc":
			m.toggleFocus()
			return m, nil
		case "enter":
			text := m.input.Value()
			// поле очищается всегда, даже если отправка не удалась
			m.input.Reset()
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			return m, m.send(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.dialogs)-1 {
			m.cursor++
		}
	case "enter":
		if m.cursor < len(m.dialogs) {
			d := m.dialogs[m.cursor]
			m.open(d.AuthorID, d.IssueID)
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.messages, cmd = m.messages.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) toggleFocus() {
	if m.focus == paneList {
		m.focus = paneInput
		m.input.Focus()
		return
	}
	m.focus = paneList
	m.input.Blur()
}

// open фокусирует консоль на диалоге и переводит ввод в поле сообщения.
func (m *Model) open(authorID, issueID string) {
	m.authorID, m.issueID = authorID, issueID
	m.status = ""
	m.refresh()
	if m.focus == paneList {
		m.toggleFocus()
	}
}

func (m Model) send(text string) tea.Cmd {
	ctx, console := m.ctx, m.console
	return func() tea.Msg {
		_, err := console.Send(ctx, text)
		return sentMsg{err: err}
	}
}

// toggleClosed закрывает или переоткрывает тикет под курсором (или открытый диалог).
func (m Model) toggleClosed() tea.Cmd {
	target := m.target()
	if target == nil {
		return nil
	}
	ctx, console := m.ctx, m.console
	issueID, closed := target.IssueID, !target.IsClosed
	return func() tea.Msg {
		issue, err := console.SetClosed(ctx, issueID, closed)
		return closedMsg{issue: issue, err: err}
	}
}

func (m Model) target() *model.Issue {
	if m.focus == paneList && m.cursor < len(m.dialogs) {
		return m.dialogs[m.cursor]
	}
	if n := len(m.view.Visible); n > 0 {
		return m.view.Visible[n-1]
	}
	return nil
}

// refresh перечитывает оба снимка консоли.
func (m *Model) refresh() {
	if v, ok := m.console.DialogsView(); ok {
		m.dialogs = v.Issues
		if m.cursor >= len(m.dialogs) {
			m.cursor = max(len(m.dialogs)-1, 0)
		}
	}
	if m.authorID != "" {
		v, err := m.console.Navigate(m.authorID, m.issueID)
		if err != nil {
			m.status = err.Error()
		} else {
			m.view = v
		}
	}
	m.messages.SetContent(m.renderMessages())
	m.messages.GotoBottom()
}

func (m *Model) layout() {
	w := m.width - listWidth - 6
	h := m.height - 7
	m.messages.Width = max(w, 10)
	m.messages.Height = max(h, 3)
	m.input.Width = max(w-4, 10)
	m.messages.SetContent(m.renderMessages())
	m.messages.GotoBottom()
}

func (m Model) View() string {
	if !m.ready {
		return "Загрузка..."
	}
	list := borderStyle
	chat := borderStyle
	if m.focus == paneList {
		list = activeBorder
	} else {
		chat = activeBorder
	}
	left := list.Width(listWidth).Height(m.height - 4).Render(m.renderDialogs())
	right := chat.Width(m.messages.Width + 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.messages.View(), m.input.View()),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		m.renderStatus(),
	)
}

func (m Model) renderDialogs() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Диалоги") + "\n")
	if len(m.dialogs) == 0 {
		b.WriteString(mutedStyle.Render("нет диалогов"))
		return b.String()
	}
	for i, d := range m.dialogs {
		line := fmt.Sprintf("%s · %s", d.AuthorID, shorten(d.IssueID, 8))
		if d.IsClosed {
			line += " ✓"
		}
		if last, ok := d.LastMessage(); ok {
			line += "\n  " + mutedStyle.Render(shorten(last.Text, previewLength))
		}
		if i == m.cursor {
			line = selectedStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderHeader() string {
	if m.authorID == "" {
		return titleStyle.Render("Диалог не выбран")
	}
	header := titleStyle.Render(m.authorID)
	if m.issueID != "" {
		header += mutedStyle.Render(" / " + m.issueID)
	}
	if m.view.Loading {
		header += " " + m.spinner.View()
	}
	return header
}

func (m Model) renderMessages() string {
	if m.authorID == "" {
		return mutedStyle.Render("Выберите диалог в списке (enter)")
	}
	var b strings.Builder
	for _, issue := range m.view.Visible {
		state := "открыт"
		if issue.IsClosed {
			state = "закрыт"
		}
		b.WriteString(mutedStyle.Render(fmt.Sprintf("── %s (%s) ──", shorten(issue.IssueID, 12), state)) + "\n")
		for _, msg := range issue.Messages {
			b.WriteString(renderMessage(msg) + "\n")
		}
	}
	return b.String()
}

func renderMessage(msg model.Message) string {
	var who string
	switch msg.Role {
	case model.RoleOperator:
		who = operatorStyle.Render("оператор")
	case model.RoleUser:
		who = userStyle.Render("клиент")
	case model.RoleAI:
		who = aiStyle.Render("AI")
	}
	line := fmt.Sprintf("%s %s: %s", mutedStyle.Render(msg.CreatedAt.Local().Format(timeLayout)), who, msg.Text)
	switch msg.Delivery {
	case model.DeliveryPending:
		line += mutedStyle.Render(" …")
	case model.DeliveryFailed:
		line += errorStyle.Render(" не доставлено")
	}
	for _, d := range msg.Documents {
		ref := d.Link
		if ref == "" {
			ref = d.FileLink
		}
		if d.Title != "" {
			ref = d.Title + " " + ref
		}
		line += "\n    " + mutedStyle.Render("📎 "+ref)
	}
	return line
}

func (m Model) renderStatus() string {
	conn := errorStyle.Render("offline")
	if v, ok := m.console.DialogsView(); ok && v.Connected {
		conn = operatorStyle.Render("online")
	}
	parts := []string{conn}
	if m.view.Notice != "" {
		parts = append(parts, errorStyle.Render(m.view.Notice))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	parts = append(parts, mutedStyle.Render("tab: панель · enter: открыть/отправить · ctrl+x: закрыть тикет · ctrl+c: выход"))
	return strings.Join(parts, "  ")
}

func shorten(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run запускает TUI и блокируется до выхода пользователя или отмены ctx.
func Run(ctx context.Context, console Console) error {
	p := tea.NewProgram(New(ctx, console), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
