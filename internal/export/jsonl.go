package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// JSONLExporter writes one JSON object per transcript turn
type JSONLExporter struct{}

type turnLine struct {
	SessionID  string        `json:"session_id"`
	Index      int           `json:"index"`
	Role       internal.Role `json:"role"`
	Content    string        `json:"content"`
	InsertedAt string        `json:"inserted_at,omitempty"`
}

// Export implements Exporter
func (e *JSONLExporter) Export(session *internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, turn := range session.Turns {
		line := turnLine{SessionID: session.ID, Index: i, Role: turn.Role, Content: turn.Content}
		if !turn.InsertedAt.IsZero() {
			line.InsertedAt = turn.InsertedAt.UTC().Format(time.RFC3339)
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("failed to encode turn %d: %w", i, err)
		}
	}
	return nil
}

// Extension implements Exporter
func (e *JSONLExporter) Extension() string {
	return "jsonl"
}
