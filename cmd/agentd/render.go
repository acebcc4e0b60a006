package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	answerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))
)

// stageBanners maps message types onto the headings shown above their
// streamed output. Types absent here render without a banner.
var stageBanners = map[transcript.Type]string{
	transcript.TypeTaskAnalysis:      "Analysis",
	transcript.TypeTaskDecomposition: "Subtasks",
	transcript.TypePlanning:          "Planning",
	transcript.TypeDoSubtask:         "Execution",
	transcript.TypeSubtaskResult:     "Execution",
	transcript.TypeToolCallResult:    "Tool output",
	transcript.TypeObservation:       "Observation",
	transcript.TypeFinalAnswer:       "Answer",
}

// renderer prints streamed show_content fragments, inserting a styled
// banner whenever output moves to a new stage.
type renderer struct {
	w        io.Writer
	lastType transcript.Type
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

// Batch renders one merged fragment batch.
func (r *renderer) Batch(batch []transcript.Message) {
	for _, m := range batch {
		r.message(m)
	}
}

func (r *renderer) message(m transcript.Message) {
	if m.ShowContent == "" {
		return
	}
	if m.Type != r.lastType {
		if banner, ok := stageBanners[m.Type]; ok {
			fmt.Fprintf(r.w, "\n%s\n", bannerStyle.Render(banner))
		}
		r.lastType = m.Type
	}

	switch {
	case m.Role == transcript.RoleTool:
		fmt.Fprint(r.w, toolStyle.Render(m.ShowContent))
	case m.Type == transcript.TypeFinalAnswer:
		fmt.Fprint(r.w, answerStyle.Render(m.ShowContent))
	default:
		fmt.Fprint(r.w, m.ShowContent)
	}
}
