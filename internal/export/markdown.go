package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// MarkdownExporter writes a readable transcript
type MarkdownExporter struct{}

// Export implements Exporter
func (e *MarkdownExporter) Export(session *internal.Session, w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Enrollment session %s\n\n", session.ID)
	fmt.Fprintf(&b, "**Topic:** %s  \n", session.Topic)
	if session.UserID != "" {
		fmt.Fprintf(&b, "**User:** %s  \n", session.UserID)
	}
	fmt.Fprintf(&b, "**State:** %s  \n", session.State)
	if !session.StartedAt.IsZero() {
		fmt.Fprintf(&b, "**Started:** %s  \n", session.StartedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "**Duration:** %s  \n", internal.FormatElapsed(session.ElapsedSeconds))
	fmt.Fprintf(&b, "**Chunks accepted:** %d\n\n", session.ChunksAccepted)

	b.WriteString("## Transcript\n\n")
	if len(session.Turns) == 0 {
		b.WriteString("_No turns recorded._\n")
	}
	for i, turn := range session.Turns {
		if i > 0 {
			b.WriteString("---\n\n")
		}
		at := ""
		if !turn.InsertedAt.IsZero() {
			at = fmt.Sprintf(" (%s)", turn.InsertedAt.UTC().Format("15:04:05"))
		}
		fmt.Fprintf(&b, "**%s:**%s\n\n%s\n\n", speaker(turn.Role), at, escapeMarkdown(turn.Content))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func speaker(r internal.Role) string {
	if r == internal.RoleUser {
		return "You"
	}
	return "Assistant"
}

// escapeMarkdown escapes emphasis markers outside fenced code blocks
func escapeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	inCode := false
	for i, line := range lines {
		if strings.HasPrefix(line, "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			continue
		}
		line = strings.ReplaceAll(line, "**", `\*\*`)
		lines[i] = strings.ReplaceAll(line, "__", `\_\_`)
	}
	return strings.Join(lines, "\n")
}

// Extension implements Exporter
func (e *MarkdownExporter) Extension() string {
	return "md"
}
