package export

import (
	"encoding/json"
	"io"

	"github.com/iksnae/enroll-session/internal"
)

// JSONExporter writes the session and its stats as indented JSON
type JSONExporter struct{}

// Export implements Exporter
func (e *JSONExporter) Export(session *internal.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(newDocument(session))
}

// Extension implements Exporter
func (e *JSONExporter) Extension() string {
	return "json"
}
