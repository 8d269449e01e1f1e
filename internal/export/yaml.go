package export

import (
	"fmt"
	"io"

	"github.com/iksnae/enroll-session/internal"
	"gopkg.in/yaml.v3"
)

// YAMLExporter writes the session and its stats as YAML
type YAMLExporter struct{}

// Export implements Exporter
func (e *YAMLExporter) Export(session *internal.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(session)); err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.ID, err)
	}
	return enc.Close()
}

// Extension implements Exporter
func (e *YAMLExporter) Extension() string {
	return "yaml"
}
