package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/testutil"
)

// executeRoot runs rootCmd with args and returns its combined output. Flag
// variables are package globals, so the ones tests touch are reset afterwards.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath, serverURL, journalPath = "", "", ""
		listState, exportState, sessionID = "", "", ""
		format, outputDir = "jsonl", "./exports"
		limit = 0
		healthcheckDetails = false
		verifyUserID, profileUserID = "", ""
		profileHistory = 5
		inspectSampleRows = 3
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// seedJournal writes one terminated session with two turns and three chunk
// outcomes into a journal under dir and returns the journal path
func seedJournal(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "journal.db")
	j, err := internal.OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	defer func() { _ = j.Close() }()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &internal.Session{ID: "sess-1", UserID: "user-1", Topic: "Movies & Books", State: internal.StateActive, StartedAt: start}
	if err := j.RecordSessionStart(s); err != nil {
		t.Fatalf("RecordSessionStart() error = %v", err)
	}
	turns := []internal.Turn{
		{Role: internal.RoleAssistant, Content: "What are you reading?", InsertedAt: start},
		{Role: internal.RoleUser, Content: "A travel memoir.", InsertedAt: start.Add(5 * time.Second)},
	}
	for _, turn := range turns {
		if err := j.AppendTurn(s.ID, turn); err != nil {
			t.Fatalf("AppendTurn() error = %v", err)
		}
	}
	for seq, ok := range []bool{true, true, false} {
		if err := j.RecordChunk(s.ID, seq, 2048, ok, start.Add(time.Duration(seq)*10*time.Second)); err != nil {
			t.Fatalf("RecordChunk() error = %v", err)
		}
	}
	if err := j.UpdateElapsed(s.ID, 95); err != nil {
		t.Fatalf("UpdateElapsed() error = %v", err)
	}
	end := start.Add(2 * time.Minute)
	if err := j.UpdateSessionState(s.ID, internal.StateTerminated, &end); err != nil {
		t.Fatalf("UpdateSessionState() error = %v", err)
	}
	return path
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{
			name: "version flag",
			args: []string{"--version"},
			want: "commit:",
		},
		{
			name: "help flag",
			args: []string{"--help"},
			want: "enroll-session enroll",
		},
		{
			name:    "unknown command",
			args:    []string{"frobnicate"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeRoot(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want it to contain %q", out, tt.want)
			}
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"enroll", "list", "show", "export", "healthcheck", "verify", "profile", "inspect"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	t.Cleanup(func() { configPath, serverURL, journalPath = "", "", "" })

	configPath = testutil.CreateConfigFixture(t, dir, "")
	serverURL = "http://override:1234"
	journalPath = filepath.Join(dir, "other.db")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.ServerURL != serverURL {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, serverURL)
	}
	if cfg.JournalPath != journalPath {
		t.Errorf("JournalPath = %q, want %q", cfg.JournalPath, journalPath)
	}
	if cfg.UserID != "fixture-user" {
		t.Errorf("UserID = %q, want fixture-user from the file", cfg.UserID)
	}
}

func TestResolveUserID(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	identity := testutil.CreateIdentityFixture(t, dir, "")

	tests := []struct {
		name    string
		cfg     *internal.Config
		flag    string
		want    string
		wantErr bool
	}{
		{
			name: "flag wins",
			cfg:  &internal.Config{UserID: "from-config", IdentityPath: identity},
			flag: " from-flag ",
			want: "from-flag",
		},
		{
			name: "config before identity",
			cfg:  &internal.Config{UserID: "from-config", IdentityPath: identity},
			want: "from-config",
		},
		{
			name: "identity store",
			cfg:  &internal.Config{IdentityPath: identity},
			want: "user-123",
		},
		{
			name:    "nothing known",
			cfg:     &internal.Config{IdentityPath: filepath.Join(dir, "missing.yaml")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveUserID(tt.cfg, tt.flag)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveUserID() = %q, want %q", got, tt.want)
			}
		})
	}
}
