package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/GriffinCanCode/zcraft/internal/domain/buffer"
	"github.com/GriffinCanCode/zcraft/internal/domain/conversation"
	"github.com/GriffinCanCode/zcraft/internal/domain/job"
	"github.com/GriffinCanCode/zcraft/internal/shared/errs"
	"github.com/GriffinCanCode/zcraft/internal/shared/types"
)

// renderer styles output for the terminal. With color off every style
// renders plain text, which keeps test output stable.
type renderer struct {
	bold    lipgloss.Style
	italic  lipgloss.Style
	code    lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	errText lipgloss.Style
	ok      lipgloss.Style
}

func newRenderer(color bool) *renderer {
	if !color {
		plain := lipgloss.NewStyle()
		return &renderer{plain, plain, plain, plain, plain, plain, plain}
	}
	return &renderer{
		bold:   lipgloss.NewStyle().Bold(true),
		italic: lipgloss.NewStyle().Italic(true),
		code: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

func (r *renderer) message(m conversation.Message) string {
	var sb strings.Builder
	who := "you"
	if m.Role == types.RoleAssistant {
		who = "assistant"
	}
	sb.WriteString(r.label.Render(who) + r.dim.Render(" "+m.Timestamp.Format("15:04:05")) + "\n")

	if m.Failed {
		sb.WriteString(r.errText.Render(m.Content) + "\n")
		return sb.String()
	}
	if len(m.Segments) == 0 {
		sb.WriteString(m.Content + "\n")
	} else {
		sb.WriteString(r.segments(m.Segments))
	}

	for i, p := range m.Proposals {
		line := fmt.Sprintf("[%d] %s", i+1, r.bold.Render(p.Command))
		if p.Description != "" {
			line += r.dim.Render("  " + p.Description)
		}
		sb.WriteString(line + "\n")
	}
	if m.Degraded {
		sb.WriteString(r.dim.Render("(some suggested commands could not be read)") + "\n")
	}
	return sb.String()
}

func (r *renderer) segments(segs []conversation.Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		switch s.Kind {
		case conversation.SegmentBold:
			sb.WriteString(r.bold.Render(s.Payload))
		case conversation.SegmentItalic:
			sb.WriteString(r.italic.Render(s.Payload))
		case conversation.SegmentBullet:
			sb.WriteString("  • " + s.Payload + "\n")
		case conversation.SegmentCode:
			if s.Language != "" {
				sb.WriteString(r.dim.Render(s.Language) + "\n")
			}
			sb.WriteString(r.code.Render(conversation.TrimCode(s.Payload)) + "\n")
		default:
			sb.WriteString(s.Payload)
		}
	}
	out := sb.String()
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

func (r *renderer) buffer(b buffer.Buffer) string {
	marker := " "
	if b.Active {
		marker = "*"
	}
	line := fmt.Sprintf("%s %-28s %-6s %s", marker, b.Ref, b.Language, r.status(b.SaveStatus))
	if b.Dirty {
		line += r.bold.Render(" [modified]")
	}
	if b.StatusDetail != "" {
		line += " " + r.errText.Render(b.StatusDetail)
	}
	return line
}

func (r *renderer) status(s types.SaveStatus) string {
	switch s {
	case types.SaveSaved:
		return r.ok.Render(string(s))
	case types.SaveError:
		return r.errText.Render(string(s))
	default:
		return r.dim.Render(string(s))
	}
}

func (r *renderer) job(j job.Job) string {
	status := string(j.Status)
	switch j.Status {
	case types.JobCompleted:
		status = r.ok.Render(status)
	case types.JobFailed:
		status = r.errText.Render(status)
	}
	line := fmt.Sprintf("%-10s %-8s %s", j.ID, j.Name, status)
	if j.RemoteStatus != "" {
		line += r.dim.Render(" (" + j.RemoteStatus + ")")
	}
	if j.Ref.Valid() {
		line += r.dim.Render("  " + j.Ref.String())
	}
	return line
}

func (r *renderer) err(err error) string {
	if kind, ok := errs.KindOf(err); ok {
		return r.errText.Render(fmt.Sprintf("%s: %s", kind, errs.DetailOf(err)))
	}
	return r.errText.Render(err.Error())
}
