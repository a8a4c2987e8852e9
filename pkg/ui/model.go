// Package ui is the terminal front end: a Bubble Tea model that renders the
// session log, the connection indicator and the wallet and tool panels.
package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/cdp-chat/pkg/chat"
)

const sidebarWidth = 34

// Session is the part of session.Channel the model drives.
type Session interface {
	State() chat.State
	Send(text string) bool
	Clear()
}

// WalletRefresher re-fetches the wallet on demand.
type WalletRefresher interface {
	Refresh(ctx context.Context) chat.WalletInfo
}

// StateMsg carries a new session snapshot.
type StateMsg chat.State

// StatesClosedMsg is delivered when the state subscription ends.
type StatesClosedMsg struct{}

// WalletMsg carries a wallet poller change.
type WalletMsg struct {
	Info    *chat.WalletInfo
	Loading bool
}

// ToolsMsg carries a new tool catalog.
type ToolsMsg []chat.ToolInfo

// sendResultMsg reports a send; input is the editor content it was taken
// from, so the editor is only reset if the user has not typed since.
type sendResultMsg struct {
	input string
	ok    bool
}

type clearedMsg struct{}

type statusMsg string

// WaitForState blocks on the next snapshot from a session subscription.
func WaitForState(ch <-chan chat.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return StatesClosedMsg{}
		}
		return StateMsg(st)
	}
}

type Option func(*Model)

// WithStates makes the model re-render on every snapshot from ch.
func WithStates(ch <-chan chat.State) Option {
	return func(m *Model) { m.states = ch }
}

func WithWalletRefresher(w WalletRefresher) Option {
	return func(m *Model) { m.wallet = w }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) Option {
	return func(m *Model) { m.copy = fn }
}

// WithMarkdownStyle picks a glamour standard style ("dark", "light", "notty").
func WithMarkdownStyle(style string) Option {
	return func(m *Model) { m.renderer = NewRenderer(style, 80) }
}

func WithTitle(title string) Option {
	return func(m *Model) { m.title = title }
}

type Model struct {
	ctx      context.Context
	session  Session
	wallet   WalletRefresher
	states   <-chan chat.State
	copy     func(string) error
	renderer *Renderer
	title    string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	state         chat.State
	walletInfo    *chat.WalletInfo
	walletLoading bool
	tools         []chat.ToolInfo
	status        string

	width  int
	height int
}

func NewModel(ctx context.Context, session Session, options ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask about your wallet, balances, transfers…"
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := Model{
		ctx:      ctx,
		session:  session,
		copy:     clipboard.WriteAll,
		renderer: NewRenderer("dark", 80),
		title:    "CDP Agent Chat",
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		state:    session.State(),
	}
	for _, opt := range options {
		opt(&m)
	}
	m.refreshViewport()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.states != nil {
		cmds = append(cmds, WaitForState(m.states))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			raw := m.input.Value()
			text := strings.TrimSpace(raw)
			if text == "" {
				return m, nil
			}
			return m, m.sendCmd(raw, text)
		case tea.KeyCtrlL:
			return m, m.clearCmd()
		case tea.KeyCtrlR:
			if m.wallet != nil {
				m.walletLoading = true
				return m, m.refreshWalletCmd()
			}
			return m, nil
		case tea.KeyCtrlY:
			return m, m.copyLastCmd()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshViewport()
		return m, nil

	case StateMsg:
		m.state = chat.State(msg)
		m.refreshViewport()
		if m.states != nil {
			cmds = append(cmds, WaitForState(m.states))
		}
		return m, tea.Batch(cmds...)

	case StatesClosedMsg:
		return m, tea.Quit

	case WalletMsg:
		m.walletInfo = msg.Info
		m.walletLoading = msg.Loading
		return m, nil

	case ToolsMsg:
		m.tools = append([]chat.ToolInfo(nil), msg...)
		return m, nil

	case sendResultMsg:
		if msg.ok {
			if m.input.Value() == msg.input {
				m.input.Reset()
			}
			m.status = ""
		} else {
			m.status = "not connected, message kept"
		}
		if m.states == nil {
			m.state = m.session.State()
			m.refreshViewport()
		}
		return m, nil

	case clearedMsg:
		m.status = "history cleared"
		if m.states == nil {
			m.state = m.session.State()
			m.refreshViewport()
		}
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) sendCmd(input, text string) tea.Cmd {
	s := m.session
	return func() tea.Msg {
		return sendResultMsg{input: input, ok: s.Send(text)}
	}
}

func (m Model) clearCmd() tea.Cmd {
	s := m.session
	return func() tea.Msg {
		s.Clear()
		return clearedMsg{}
	}
}

func (m Model) refreshWalletCmd() tea.Cmd {
	w, ctx := m.wallet, m.ctx
	return func() tea.Msg {
		info := w.Refresh(ctx)
		return WalletMsg{Info: &info}
	}
}

func (m Model) copyLastCmd() tea.Cmd {
	last, ok := m.state.LastAssistant()
	copyFn := m.copy
	return func() tea.Msg {
		if !ok {
			return statusMsg("nothing to copy")
		}
		if err := copyFn(last.Content); err != nil {
			return statusMsg("copy failed: " + err.Error())
		}
		return statusMsg("copied last reply")
	}
}

func (m *Model) layout() {
	w := m.width - sidebarWidth - 2
	if w < 20 {
		w = 20
	}
	h := m.height - 4
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 3
	m.renderer.SetWidth(w)
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderer.Log(m.state.Messages))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	header := headerStyle.Render(m.title)
	if m.state.Thinking {
		header += "  " + m.spinner.View() + mutedStyle.Render(" thinking")
	}
	if m.status != "" {
		header += "  " + mutedStyle.Render(m.status)
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		m.input.View(),
		mutedStyle.Render("enter send · ctrl+l clear · ctrl+r wallet · ctrl+y copy · esc quit"),
	)
	side := Sidebar(sidebarWidth, m.state, m.walletInfo, m.walletLoading, m.tools)
	return lipgloss.JoinHorizontal(lipgloss.Top, main, " ", side)
}
