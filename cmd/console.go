package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/shenikar/incident_dispatch/internal/client"
	"github.com/shenikar/incident_dispatch/internal/client/chat"
	"github.com/shenikar/incident_dispatch/internal/client/notify"
	"github.com/shenikar/incident_dispatch/internal/client/offers"
	"github.com/shenikar/incident_dispatch/internal/client/transport"
	"github.com/shenikar/incident_dispatch/internal/config"
	"github.com/shenikar/incident_dispatch/internal/models"
	"github.com/shenikar/incident_dispatch/pkg/logger"
)

const (
	refreshInterval = 500 * time.Millisecond
	actionTimeout   = 15 * time.Second
)

var consoleLogFile string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive responder console",
	Long: "Interactive responder console: live dispatch offers with countdown, accept or reject,\n" +
		"unread counter and the chat of the incident in work.",
	RunE: runConsole,
}

func init() {
	consoleCmd.Flags().StringVar(&consoleLogFile, "log-file", "console.log", "file for client logs")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("failed to load client config: %w", err)
	}

	logFile, err := os.OpenFile(consoleLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	log := logger.NewWithOutput(cfg.LogLevel, logFile)

	alerter := newConsoleAlerter()
	c, err := client.New(cfg, alerter, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	_, err = tea.NewProgram(newConsoleModel(ctx, c, alerter.ch), tea.WithAltScreen()).Run()
	cancel()
	if rerr := <-runErr; rerr != nil && !errors.Is(rerr, context.Canceled) {
		log.WithError(rerr).Error("Client stopped with error")
	}
	return err
}

// consoleAlerter передает всплывающие уведомления в интерфейс, звук - терминальный bell
type consoleAlerter struct {
	ch chan notify.Notification
}

func newConsoleAlerter() *consoleAlerter {
	return &consoleAlerter{ch: make(chan notify.Notification, 16)}
}

func (a *consoleAlerter) Sound(string) {
	fmt.Fprint(os.Stderr, "\a")
}

func (a *consoleAlerter) Toast(n notify.Notification) {
	select {
	case a.ch <- n:
	default:
	}
}

type consoleStyles struct {
	header    lipgloss.Style
	panel     lipgloss.Style
	title     lipgloss.Style
	selected  lipgloss.Style
	urgent    lipgloss.Style
	muted     lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	badge     lipgloss.Style
}

func newConsoleStyles() consoleStyles {
	pink := lipgloss.Color("#ff2a6d")
	mint := lipgloss.Color("#05ffa1")
	blue := lipgloss.Color("#01cdfe")
	muted := lipgloss.Color("#7a7c9c")
	return consoleStyles{
		header:    lipgloss.NewStyle().Bold(true).Foreground(mint).Padding(0, 1),
		panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(blue).Padding(0, 1),
		title:     lipgloss.NewStyle().Bold(true).Foreground(blue),
		selected:  lipgloss.NewStyle().Foreground(mint).Bold(true),
		urgent:    lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(muted),
		status:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		errStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		badge:     lipgloss.NewStyle().Background(pink).Foreground(lipgloss.Color("#ffffff")).Padding(0, 1),
	}
}

type (
	tickMsg    time.Time
	alertMsg   notify.Notification
	refreshMsg struct {
		offers []offers.Offer
		unread int
		state  transport.State
		chat   *chat.View
	}
	actionMsg struct {
		text     string
		err      error
		accepted string
	}
	chatOpenedMsg struct {
		session *chat.Session
		err     error
	}
)

type consoleModel struct {
	ctx    context.Context
	client *client.Client
	alerts <-chan notify.Notification
	styles consoleStyles

	offers []offers.Offer
	cursor int
	unread int
	state  transport.State
	active string

	session  *chat.Session
	chatView chat.View
	input    textinput.Model
	messages viewport.Model
	spinner  spinner.Model

	status    string
	errStatus bool
	width     int
	height    int
}

func newConsoleModel(ctx context.Context, c *client.Client, alerts <-chan notify.Notification) consoleModel {
	input := textinput.New()
	input.Placeholder = "message"
	input.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Points

	return consoleModel{
		ctx:      ctx,
		client:   c,
		alerts:   alerts,
		styles:   newConsoleStyles(),
		state:    transport.StateDisconnected,
		input:    input,
		messages: viewport.New(0, 0),
		spinner:  sp,
		status:   fmt.Sprintf("%s (%s)", c.Identity.UserID, c.Identity.Role),
	}
}

func (m consoleModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refreshCmd(), tickCmd(), m.waitAlert())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m consoleModel) waitAlert() tea.Cmd {
	return func() tea.Msg {
		select {
		case n := <-m.alerts:
			return alertMsg(n)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// refreshCmd снимает состояние клиентских компонентов через цикл событий
func (m consoleModel) refreshCmd() tea.Cmd {
	c := m.client
	session := m.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, time.Second)
		defer cancel()

		var msg refreshMsg
		if err := c.Loop.Do(ctx, func() {
			msg.offers = c.Offers.Pending()
			msg.unread = c.Notifications.Unread()
		}); err != nil {
			return nil
		}
		msg.state = c.Channel.State()
		if session != nil {
			if v, err := session.Snapshot(ctx); err == nil {
				msg.chat = &v
			}
		}
		return msg
	}
}

func (m consoleModel) acceptCmd(incidentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := m.client.Offers.Accept(ctx, incidentID); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: "accepted " + shortID(incidentID), accepted: incidentID}
	}
}

func (m consoleModel) rejectCmd(incidentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := m.client.Offers.Reject(ctx, incidentID); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: "rejected " + shortID(incidentID)}
	}
}

func (m consoleModel) openChatCmd(incidentID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		s, err := m.client.Chats.Open(ctx, incidentID)
		if err != nil {
			return chatOpenedMsg{err: err}
		}
		if err := s.LoadHistory(ctx); err != nil {
			return chatOpenedMsg{err: err}
		}
		if err := s.Join(ctx); err != nil && !errors.Is(err, models.ErrChatLocked) {
			return chatOpenedMsg{err: err}
		}
		return chatOpenedMsg{session: s}
	}
}

func (m consoleModel) sendCmd(s *chat.Session, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := s.Send(ctx, text, models.MessageText); err != nil {
			return actionMsg{err: err}
		}
		return nil
	}
}

func (m consoleModel) closeChatCmd(s *chat.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := s.Close(ctx); err != nil {
			return actionMsg{err: err}
		}
		return nil
	}
}

func (m consoleModel) markAllReadCmd() tea.Cmd {
	return func() tea.Msg {
		m.client.Loop.Post(m.client.Notifications.MarkAllRead)
		return nil
	}
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.messages.Width = max(msg.Width-4, 10)
		m.messages.Height = max(msg.Height-10, 3)
		m.input.Width = max(msg.Width-6, 10)
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		m.offers = msg.offers
		m.unread = msg.unread
		m.state = msg.state
		if m.cursor >= len(m.offers) {
			m.cursor = max(len(m.offers)-1, 0)
		}
		if msg.chat != nil && m.session != nil {
			m.chatView = *msg.chat
			m.messages.SetContent(m.renderMessages())
			m.messages.GotoBottom()
		}
		return m, nil

	case alertMsg:
		m.status = fmt.Sprintf("new offer: %s %s", msg.Incident.Category, shortID(msg.Incident.ID.String()))
		m.errStatus = false
		return m, m.waitAlert()

	case actionMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			m.errStatus = true
			return m, m.refreshCmd()
		}
		if msg.text != "" {
			m.status = msg.text
			m.errStatus = false
		}
		if msg.accepted != "" {
			m.active = msg.accepted
		}
		return m, m.refreshCmd()

	case chatOpenedMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
			m.errStatus = true
			return m, nil
		}
		m.session = msg.session
		m.chatView = chat.View{}
		m.input.Focus()
		return m, m.refreshCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.session != nil {
			return m.updateChat(msg)
		}
		return m.updateOffers(msg)
	}
	return m, nil
}

func (m consoleModel) updateOffers(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.offers)-1 {
			m.cursor++
		}
	case "a", "enter":
		if id, ok := m.selected(); ok {
			m.status = "accepting " + shortID(id)
			m.errStatus = false
			return m, m.acceptCmd(id)
		}
	case "r":
		if id, ok := m.selected(); ok {
			return m, m.rejectCmd(id)
		}
	case "c":
		if m.active == "" {
			m.status = "no incident in work"
			m.errStatus = true
			return m, nil
		}
		return m, m.openChatCmd(m.active)
	case "m":
		return m, m.markAllReadCmd()
	}
	return m, nil
}

func (m consoleModel) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		s := m.session
		m.session = nil
		m.input.Blur()
		m.input.Reset()
		return m, m.closeChatCmd(s)
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(m.session, text)
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.messages, cmd = m.messages.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m consoleModel) selected() (string, bool) {
	if m.cursor < 0 || m.cursor >= len(m.offers) {
		return "", false
	}
	return m.offers[m.cursor].Incident.ID.String(), true
}

func (m consoleModel) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	if m.session != nil {
		b.WriteString(m.renderChat())
	} else {
		b.WriteString(m.renderOffers())
	}
	b.WriteString("\n")
	if m.errStatus {
		b.WriteString(m.styles.errStatus.Render(m.status))
	} else {
		b.WriteString(m.styles.status.Render(m.status))
	}
	return b.String()
}

func (m consoleModel) renderHeader() string {
	conn := string(m.state)
	if m.state != transport.StateConnected {
		conn = m.spinner.View() + " " + conn
	}
	head := m.styles.header.Render("DISPATCH") + " " + m.styles.muted.Render(conn)
	if m.unread > 0 {
		head += " " + m.styles.badge.Render(fmt.Sprintf("%d unread", m.unread))
	}
	if m.active != "" {
		head += " " + m.styles.muted.Render("in work: "+shortID(m.active))
	}
	return head
}

func (m consoleModel) renderOffers() string {
	var b strings.Builder
	b.WriteString(m.styles.title.Render("Offers"))
	b.WriteString("\n")
	if len(m.offers) == 0 {
		b.WriteString(m.styles.muted.Render("no pending offers"))
	}
	now := time.Now()
	for i, o := range m.offers {
		left := o.Deadline.Sub(now).Truncate(time.Second)
		if left < 0 {
			left = 0
		}
		line := fmt.Sprintf("%-10s %-30s %s", o.Incident.Category, truncate(o.Incident.Title, 30), shortID(o.Incident.ID.String()))
		countdown := fmt.Sprintf("%4s", left)
		if left <= 5*time.Second {
			countdown = m.styles.urgent.Render(countdown)
		}
		if i == m.cursor {
			line = m.styles.selected.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "  " + countdown + "\n")
	}
	b.WriteString("\n")
	b.WriteString(m.styles.muted.Render("a accept  r reject  c chat  m mark read  q quit"))
	return m.styles.panel.Render(b.String())
}

func (m consoleModel) renderChat() string {
	title := fmt.Sprintf("Chat %s  %s", shortID(m.chatView.IncidentID), m.chatView.Connectivity)
	var b strings.Builder
	b.WriteString(m.styles.title.Render(title))
	b.WriteString("\n")
	b.WriteString(m.messages.View())
	b.WriteString("\n")
	if m.chatView.CanSend {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(m.styles.muted.Render("read-only"))
	}
	b.WriteString("\n")
	b.WriteString(m.styles.muted.Render("enter send  esc back  pgup/pgdown scroll"))
	return m.styles.panel.Render(b.String())
}

func (m consoleModel) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.chatView.Messages {
		author := msg.AuthorID
		if author == m.client.Identity.UserID {
			author = "me"
		}
		content := msg.Content
		if msg.Kind == models.MessageImage {
			content = "[image]"
		}
		fmt.Fprintf(&b, "%s %s: %s\n",
			m.styles.muted.Render(msg.CreatedAt.Local().Format("15:04")),
			m.styles.selected.Render(author),
			content)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
