package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scribe-backend/internal/apiclient"
	"scribe-backend/internal/conversation"
	"scribe-backend/internal/orchestrator"
)

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	documentStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

func roleLabel(role conversation.Role) string {
	if role == conversation.RoleUser {
		return userStyle.Render("you")
	}
	return assistantStyle.Render("scribe")
}

func renderMessage(w io.Writer, m conversation.Message) {
	fmt.Fprintf(w, "%s %s\n%s\n\n", roleLabel(m.Role), dimStyle.Render(m.Timestamp.Local().Format("15:04")), m.Content)
}

// renderOutcome prints a turn's result and reports whether it failed.
func renderOutcome(w io.Writer, out orchestrator.Outcome) bool {
	for _, n := range out.Notices {
		fmt.Fprintln(w, noticeStyle.Render("! "+n))
	}

	switch out.Kind {
	case orchestrator.ContentUpdated:
		fmt.Fprintln(w, documentStyle.Render(out.Content))
		fmt.Fprintf(w, "%s %s\n", roleLabel(conversation.RoleAssistant), out.Reply)
		return false
	case orchestrator.ChatReply:
		fmt.Fprintf(w, "%s %s\n", roleLabel(conversation.RoleAssistant), out.Reply)
		return false
	}

	switch out.ErrorKind {
	case orchestrator.ErrKindCanceled:
		fmt.Fprintln(w, noticeStyle.Render("[Cancelled]"))
	case orchestrator.ErrKindUnauthenticated:
		fmt.Fprintln(w, errorStyle.Render("Not signed in.")+" Run `scribe login` first.")
	default:
		msg := out.Reply
		if msg == "" && out.Err != nil {
			msg = out.Err.Error()
		}
		fmt.Fprintln(w, errorStyle.Render("[Error]")+" "+msg)
	}
	return true
}

func renderModels(w io.Writer, resp *apiclient.ModelsResponse, current string) {
	for _, p := range resp.Providers {
		status := assistantStyle.Render("available")
		if !p.Available {
			status = dimStyle.Render("needs API key")
		}
		fmt.Fprintf(w, "%s (%s)\n", lipgloss.NewStyle().Bold(true).Render(p.Name), status)
		for _, m := range p.Models {
			marker := "  "
			if m == current {
				marker = "* "
			}
			line := marker + m
			if m == resp.Default {
				line += dimStyle.Render(" (default)")
			}
			fmt.Fprintln(w, line)
		}
	}
}

func modelKnown(resp *apiclient.ModelsResponse, model string) bool {
	for _, p := range resp.Providers {
		for _, m := range p.Models {
			if strings.EqualFold(m, model) {
				return true
			}
		}
	}
	return false
}
