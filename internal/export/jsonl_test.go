package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

func TestJSONLExporter_Export(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 30, 0, time.UTC)

	tests := []struct {
		name      string
		turns     []internal.Turn
		wantLines []turnLine
	}{
		{
			name:  "empty transcript",
			turns: []internal.Turn{},
		},
		{
			name: "turns in order",
			turns: []internal.Turn{
				{Role: internal.RoleAssistant, Content: "Hi!", InsertedAt: at},
				{Role: internal.RoleUser, Content: "Hello", InsertedAt: at.Add(time.Second)},
			},
			wantLines: []turnLine{
				{SessionID: "s1", Index: 0, Role: internal.RoleAssistant, Content: "Hi!", InsertedAt: "2024-03-01T09:00:30Z"},
				{SessionID: "s1", Index: 1, Role: internal.RoleUser, Content: "Hello", InsertedAt: "2024-03-01T09:00:31Z"},
			},
		},
		{
			name:  "turn without time",
			turns: []internal.Turn{{Role: internal.RoleUser, Content: "multi\nline"}},
			wantLines: []turnLine{
				{SessionID: "s1", Index: 0, Role: internal.RoleUser, Content: "multi\nline"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&JSONLExporter{}).Export(internal.NewTestSessionWithTurns("s1", tt.turns), &buf); err != nil {
				t.Fatalf("JSONLExporter.Export() error = %v", err)
			}

			out := strings.TrimSpace(buf.String())
			if len(tt.wantLines) == 0 {
				if out != "" {
					t.Errorf("empty transcript should produce no output, got %q", out)
				}
				return
			}

			lines := strings.Split(out, "\n")
			if len(lines) != len(tt.wantLines) {
				t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(tt.wantLines), out)
			}
			for i, line := range lines {
				var got turnLine
				if err := json.Unmarshal([]byte(line), &got); err != nil {
					t.Fatalf("line %d is not valid JSON: %v", i, err)
				}
				if got != tt.wantLines[i] {
					t.Errorf("line %d = %+v, want %+v", i, got, tt.wantLines[i])
				}
			}
		})
	}
}
