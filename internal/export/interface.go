// Package export writes journaled enrollment transcripts in several formats.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/iksnae/enroll-session/internal"
)

// Exporter writes one session to w
type Exporter interface {
	Export(session *internal.Session, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names
var Formats = []string{"jsonl", "md", "yaml", "json"}

// NewExporter returns the exporter for format
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "jsonl":
		return &JSONLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

// Stats summarizes a transcript
type Stats struct {
	UserTurns      int `json:"user_turns" yaml:"user_turns"`
	AssistantTurns int `json:"assistant_turns" yaml:"assistant_turns"`
	UserWords      int `json:"user_words" yaml:"user_words"`
}

// document is the shape written by the JSON and YAML exporters
type document struct {
	internal.Session `yaml:",inline"`
	Stats            Stats `json:"stats" yaml:"stats"`
}

func newDocument(s *internal.Session) document {
	return document{Session: *s, Stats: Summarize(s)}
}

// Summarize counts turns per role and the words the user spoke
func Summarize(s *internal.Session) Stats {
	var st Stats
	for _, t := range s.Turns {
		switch t.Role {
		case internal.RoleUser:
			st.UserTurns++
			st.UserWords += len(strings.Fields(t.Content))
		case internal.RoleAssistant:
			st.AssistantTurns++
		}
	}
	return st
}
