package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/iksnae/enroll-session/internal"
	"github.com/iksnae/enroll-session/internal/device"
	"github.com/iksnae/enroll-session/internal/enroll"
	"github.com/spf13/cobra"
)

var (
	enrollTopic  string
	enrollUserID string
	enrollEmail  string
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Start an enrollment session",
	Long: `Start a real-time enrollment session.

Pick a topic, allow camera and microphone access, then talk with the
assistant. Type a message and press Enter to send it, or use /talk to speak.
Once enough material has been collected you can finish with /done.

Commands during a session:
  /talk     start recording your voice; press Enter on an empty line to stop
  /status   show elapsed time and progress
  /done     complete the enrollment
  /cancel   discard the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		internal.SetLogOutput(cmd.ErrOrStderr())
		defer internal.SetLogOutput(os.Stderr)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if enrollEmail != "" {
			cfg.Email = enrollEmail
		}

		identities := internal.NewIdentityStore(cfg.IdentityPath)
		if enrollUserID != "" {
			cfg.UserID = enrollUserID
		} else if cfg.UserID == "" {
			if ident, err := identities.Load(); err == nil && ident.UserID != "" {
				internal.LogDebug("Reusing user id %s from %s", ident.UserID, identities.Path())
				cfg.UserID = ident.UserID
			}
		}

		sinks := internal.MultiSink{identities}
		if journal, err := openJournal(cfg); err != nil {
			internal.LogWarn("Sessions will not be journaled: %v", err)
		} else {
			defer func() { _ = journal.Close() }()
			sinks = append(sinks, internal.NewJournalRecorder(journal))
		}

		ctx, stop := signal.NotifyContext(requestContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		host := newEnrollHost(cmd.InOrStdin(), cmd.OutOrStdout())
		client := newClient(cfg)
		ctrl := enroll.NewController(enroll.ConfigFrom(cfg), enroll.Deps{
			Devices:       device.NewDevices(cfg.Devices),
			Enrollment:    client,
			Conversation:  client,
			Transcription: client,
			Player:        device.NewPlayer(),
			Events:        append(internal.MultiSink{host}, sinks...),
		})
		return host.run(ctx, ctrl, enrollTopic)
	},
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().StringVarP(&enrollTopic, "topic", "t", "", "Conversation topic (number from the list or free text)")
	enrollCmd.Flags().StringVar(&enrollUserID, "user-id", "", "Enroll as an existing user")
	enrollCmd.Flags().StringVar(&enrollEmail, "email", "", "Email to associate with a new user")
}

// enrollHost drives a Controller from line-based terminal input and prints
// the controller's events as they arrive
type enrollHost struct {
	out   io.Writer
	lines chan string

	mu sync.Mutex
}

func newEnrollHost(in io.Reader, out io.Writer) *enrollHost {
	h := &enrollHost{out: out, lines: make(chan string)}
	go func() {
		defer close(h.lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			h.lines <- scanner.Text()
		}
	}()
	return h
}

func (h *enrollHost) println(a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintln(h.out, a...)
}

func (h *enrollHost) printf(format string, a ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = fmt.Fprintf(h.out, format, a...)
}

// readLine returns the next input line; ok is false on EOF or cancellation
func (h *enrollHost) readLine(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-h.lines:
		return strings.TrimSpace(line), ok
	}
}

// Emit implements internal.EventSink
func (h *enrollHost) Emit(e internal.Event) {
	switch e.Type {
	case internal.EventTurnAppended:
		if e.Turn != nil {
			h.println(internal.RenderTurn(*e.Turn))
		}
	case internal.EventCompletionUnlocked:
		h.println("✓ Enough material collected. Keep chatting or type /done to finish.")
	case internal.EventMicChanged:
		if e.Transcribing {
			h.println("… transcribing")
		}
	case internal.EventError:
		var perr *internal.PermissionError
		if errors.As(e.Err, &perr) {
			h.println("⚠ " + perr.Guidance())
			return
		}
		h.println("⚠ " + e.Err.Error())
	}
}

func (h *enrollHost) run(ctx context.Context, ctrl *enroll.Controller, topic string) error {
	if err := h.chooseTopic(ctx, ctrl, topic); err != nil {
		ctrl.Cancel()
		return err
	}
	if err := h.start(ctx, ctrl); err != nil {
		ctrl.Cancel()
		return err
	}

	h.println("Type a message and press Enter, /talk to speak, /status, /done or /cancel.")

	sendCtx, cancelSends := context.WithCancel(ctx)
	var sends sync.WaitGroup
	defer sends.Wait()
	defer cancelSends()

	talking := false
	for {
		line, ok := h.readLine(ctx)
		if !ok {
			ctrl.Cancel()
			h.println("Session cancelled.")
			return nil
		}

		switch {
		case talking && line == "":
			talking = false
			if err := ctrl.EndTalk(); err != nil {
				h.println("⚠ " + err.Error())
			}
		case line == "":
		case line == "/talk":
			if err := ctrl.BeginTalk(); err != nil {
				h.println("⚠ Cannot record right now: " + err.Error())
				continue
			}
			talking = true
			h.println("● Listening. Press Enter when you are done speaking.")
		case line == "/status":
			h.println(internal.RenderStatus(ctrl.Snapshot()))
		case line == "/cancel":
			ctrl.Cancel()
			h.println("Session cancelled.")
			return nil
		case line == "/done":
			if talking {
				talking = false
				_ = ctrl.EndTalk()
			}
			if h.complete(ctx, ctrl) {
				return nil
			}
		case strings.HasPrefix(line, "/"):
			h.printf("Unknown command %s\n", line)
		default:
			sends.Add(1)
			go func(text string) {
				defer sends.Done()
				err := ctrl.SendMessage(sendCtx, text)
				switch {
				case errors.Is(err, internal.ErrAwaitingResponse):
					h.println("⚠ Still waiting for the assistant to reply.")
				case err != nil && !errors.Is(err, context.Canceled):
					h.println("⚠ " + err.Error())
				}
			}(line)
		}
	}
}

func (h *enrollHost) chooseTopic(ctx context.Context, ctrl *enroll.Controller, topic string) error {
	if topic == "" {
		h.println("Choose a topic to talk about:")
		for i, t := range internal.Topics {
			h.printf("  %d. %s\n", i+1, t)
		}
		h.printf("Topic [%s]: ", internal.DefaultTopic)
		line, ok := h.readLine(ctx)
		if !ok {
			return errors.New("no topic chosen")
		}
		topic = line
	}
	if err := ctrl.ChooseTopic(topic); err != nil {
		return err
	}
	return ctrl.Continue()
}

// start retries while the failure is one the user can fix and they agree
func (h *enrollHost) start(ctx context.Context, ctrl *enroll.Controller) error {
	for {
		err := internal.ShowProgress(ctx, "Opening camera and microphone", func() error {
			return ctrl.Start(ctx)
		})
		if err == nil {
			return nil
		}

		var perr *internal.PermissionError
		var serr *internal.SessionError
		retryable := (errors.As(err, &perr) && perr.Retryable()) ||
			(errors.As(err, &serr) && serr.Kind == internal.KindStartFailed)
		if !retryable || ctx.Err() != nil {
			return err
		}

		h.printf("Try again? [Y/n]: ")
		answer, ok := h.readLine(ctx)
		if !ok || strings.HasPrefix(strings.ToLower(answer), "n") {
			return err
		}
	}
}

// complete finalizes the session and reports whether the host is done
func (h *enrollHost) complete(ctx context.Context, ctrl *enroll.Controller) bool {
	err := internal.ShowProgress(ctx, "Finishing enrollment", func() error {
		return ctrl.Complete(ctx)
	})
	switch {
	case err == nil:
		h.println(renderSummary(ctrl.Summary()))
		if s := ctrl.Session(); s != nil {
			h.printf("Session %s: %d turns in %s\n", s.ID, len(s.Turns), internal.FormatElapsed(s.ElapsedSeconds))
		}
		return true
	case errors.Is(err, internal.ErrCompletionLocked):
		h.println("Keep talking a little longer before finishing.")
	case errors.Is(err, internal.ErrNoSession):
		return true
	default:
		h.println("⚠ Could not complete the enrollment. Type /done to retry or /cancel to discard.")
	}
	return false
}

func renderSummary(s *internal.CompletionSummary) string {
	if s == nil {
		return "Enrollment complete."
	}
	var b strings.Builder
	b.WriteString("Enrollment complete.\n")
	fmt.Fprintf(&b, "Profile strength: %.0f%%", s.ProfileStrength*100)

	kinds := make([]string, 0, len(s.EmbeddingsCollected))
	for k := range s.EmbeddingsCollected {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "\n  %s samples: %d", k, s.EmbeddingsCollected[k])
	}
	if s.Message != "" {
		fmt.Fprintf(&b, "\n%s", s.Message)
	}
	return b.String()
}
