package ui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	toolNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	jsonStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	onlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offlineStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	sidebarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)
