package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"storyreel/internal/export"
	"storyreel/internal/render"
)

// QueueListener adapts render queue events to table row updates.
func QueueListener(send func(tea.Msg)) func(render.Event) {
	return func(ev render.Event) {
		fields := map[string]string{}
		switch ev.Type {
		case render.EventStarted:
			fields["STATUS"] = "rendering"
		case render.EventProgress:
			fields["STATUS"] = fmt.Sprintf("rendering %.0f%%", ev.Percent)
		case render.EventComplete:
			fields["STATUS"] = "ready"
			fields["OUTPUT"] = ev.CompositePath
		case render.EventError:
			fields["STATUS"] = "failed"
			if ev.Err != nil {
				fields["OUTPUT"] = ev.Err.Error()
			}
		}
		send(RowUpdateMsg{Key: SegmentKey(ev.Index), Fields: fields})
	}
}

// ExportListener adapts export progress to the stage footer.
func ExportListener(send func(tea.Msg)) func(export.Progress) {
	return func(p export.Progress) {
		send(ExportProgressMsg{
			Stage:      string(p.Stage),
			Percent:    p.Percent,
			ETASeconds: p.ETASeconds,
		})
	}
}

// SegmentKey is the row key for a timeline segment index.
func SegmentKey(index int) string {
	return fmt.Sprintf("segment-%d", index)
}
