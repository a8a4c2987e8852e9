package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/cdp-chat/pkg/chat"
)

// Renderer turns the message log into terminal text. Markdown in assistant
// replies and tool-call labels goes through glamour; everything else is
// printed as-is.
type Renderer struct {
	style    string
	width    int
	markdown *glamour.TermRenderer
}

func NewRenderer(style string, width int) *Renderer {
	r := &Renderer{style: style}
	r.SetWidth(width)
	return r
}

func (r *Renderer) SetWidth(width int) {
	if width <= 0 {
		width = 80
	}
	if width == r.width && r.markdown != nil {
		return
	}
	r.width = width
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r.markdown = nil
		return
	}
	r.markdown = md
}

func (r *Renderer) renderMarkdown(s string) string {
	if r.markdown == nil {
		return s
	}
	out, err := r.markdown.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

func (r *Renderer) Message(m chat.Message) string {
	stamp := mutedStyle.Render(m.Timestamp.Local().Format("15:04:05"))
	switch {
	case m.Role == chat.RoleUser:
		return fmt.Sprintf("%s %s\n%s", stamp, userStyle.Render("You"), m.Content)
	case m.Role == chat.RoleAssistant:
		return fmt.Sprintf("%s %s\n%s", stamp, assistantStyle.Render("Agent"), r.renderMarkdown(m.Content))
	case m.IsToolCall():
		name := "tool"
		if m.ToolName != nil {
			name = *m.ToolName
		}
		// Tool names are snake_case; markdown would read the underscores as emphasis.
		out := fmt.Sprintf("%s %s Calling %s", stamp, mutedStyle.Render("Tool"), toolNameStyle.Render(name))
		if args := strings.TrimSpace(*m.ToolArguments); args != "" && args != "{}" {
			out += "\n" + jsonStyle.Render(args)
		}
		return out
	case m.IsToolOutput():
		name := "tool"
		if m.ToolName != nil {
			name = *m.ToolName
		}
		return fmt.Sprintf("%s %s\n%s", stamp, subHeaderStyle.Render(name+" returned"), jsonStyle.Render(m.Content))
	case m.Role == chat.RoleError:
		return fmt.Sprintf("%s %s %s", stamp, errorStyle.Render("Error:"), m.Content)
	default:
		return fmt.Sprintf("%s %s", stamp, m.Content)
	}
}

func (r *Renderer) Log(msgs []chat.Message) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("No messages yet. Ask the agent about your wallet.")
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, r.Message(m))
	}
	return strings.Join(parts, "\n\n")
}

// Sidebar renders connection, wallet and tool catalog panels.
func Sidebar(width int, st chat.State, wallet *chat.WalletInfo, walletLoading bool, tools []chat.ToolInfo) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Agent") + "\n")
	if st.Connected {
		b.WriteString(onlineStyle.Render("● connected") + "\n")
	} else {
		b.WriteString(offlineStyle.Render("● disconnected") + "\n")
	}

	b.WriteString("\n" + headerStyle.Render("Wallet") + "\n")
	switch {
	case wallet == nil && walletLoading:
		b.WriteString(mutedStyle.Render("loading…") + "\n")
	case wallet == nil:
		b.WriteString(mutedStyle.Render("unknown") + "\n")
	default:
		status := offlineStyle.Render(wallet.Status)
		if wallet.IsConnected() {
			status = onlineStyle.Render(wallet.Status)
		}
		b.WriteString("status:  " + status + "\n")
		b.WriteString("address: " + deref(wallet.Address, "-") + "\n")
		b.WriteString("network: " + deref(wallet.NetworkID, "-") + "\n")
		if walletLoading {
			b.WriteString(mutedStyle.Render("refreshing…") + "\n")
		}
	}

	b.WriteString("\n" + headerStyle.Render(fmt.Sprintf("Tools (%d)", len(tools))) + "\n")
	for _, t := range tools {
		b.WriteString(toolNameStyle.Render(t.Name) + "\n")
		if t.Description != nil && *t.Description != "" {
			b.WriteString(mutedStyle.Render(truncate(*t.Description, width-4)) + "\n")
		}
	}
	return sidebarStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func truncate(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
