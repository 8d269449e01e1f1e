package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/testutil"
)

func TestInspectJournal(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := seedJournal(t, dir)

	db, err := internal.OpenDatabase(path)
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	tests := []struct {
		name     string
		samples  int
		contains []string
		excludes []string
	}{
		{
			name:     "schema only",
			samples:  0,
			contains: []string{"sessions", "(1 rows)", "turns", "(2 rows)", "chunks", "(3 rows)", "• id TEXT", "PRIMARY KEY", "NOT NULL"},
			excludes: []string{"row 1"},
		},
		{
			name:     "with samples",
			samples:  1,
			contains: []string{"row 1", "topic: Movies & Books", "content: What are you reading?"},
			excludes: []string{"row 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := inspectJournal(&buf, db, path, tt.samples); err != nil {
				t.Fatalf("inspectJournal() error = %v", err)
			}
			out := buf.String()
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(out, unwanted) {
					t.Errorf("output should not contain %q:\n%s", unwanted, out)
				}
			}
		})
	}
}

func TestSampleValue(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "nil", v: nil, want: "<NULL>"},
		{name: "int", v: int64(42), want: "42"},
		{name: "bytes", v: []byte("abc"), want: "abc"},
		{name: "multiline", v: "first\nsecond", want: "first..."},
		{name: "long", v: strings.Repeat("a", 130), want: strings.Repeat("a", 120) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sampleValue(tt.v); got != tt.want {
				t.Errorf("sampleValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInspectCommand(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	path := seedJournal(t, dir)

	out, err := executeRoot(t, "inspect", path, "--sample", "0")
	if err != nil {
		t.Fatalf("inspect error = %v", err)
	}
	if !strings.Contains(out, "Journal: "+path) {
		t.Errorf("output missing journal path:\n%s", out)
	}
}
