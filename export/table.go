package export

import (
	"fmt"
	"strings"
)

// tableWriter renders a snapshot as aligned plain text.
type tableWriter struct {
	sb strings.Builder
}

func newTableWriter() *tableWriter {
	return &tableWriter{}
}

// WriteSnapshot renders the whole snapshot.
func (w *tableWriter) WriteSnapshot(snap *Snapshot) {
	w.writeHeading(fmt.Sprintf("Principles (%d)", len(snap.Principles)))
	for _, row := range snap.Principles {
		w.writeRow(row.ID, row.Status, row.Flag, row.Statement)
	}
	w.sb.WriteString("\n")

	for _, project := range snap.Projects {
		w.writeHeading(fmt.Sprintf("Project %s (%d features)", project.Project, len(project.Features)))
		for _, row := range project.Features {
			detail := row.Name
			if len(row.Principles) > 0 {
				detail += "  [" + strings.Join(row.Principles, ", ") + "]"
			}
			w.writeRow(row.ID, row.Status, row.Flag, detail)
		}
		w.sb.WriteString("\n")
	}
}

func (w *tableWriter) writeHeading(text string) {
	w.sb.WriteString(text + "\n")
	w.sb.WriteString(strings.Repeat("-", len(text)) + "\n")
}

func (w *tableWriter) writeRow(id, status, flag, detail string) {
	marker := ""
	if flag != "" {
		marker = " !" + flag
	}
	w.sb.WriteString(fmt.Sprintf("%-48s %-11s%s  %s\n", id, status, marker, detail))
}

// String returns the accumulated table output.
func (w *tableWriter) String() string {
	return w.sb.String()
}
