package device

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/iksnae/enroll-session/internal"
)

// pipeWaitDelay bounds how long Wait keeps copying I/O after the process
// exits or is killed
const pipeWaitDelay = 500 * time.Millisecond

var defaultPlayerArgs = []string{"-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0"}

// Player plays encoded clips by piping them to ffplay
type Player struct {
	Binary string   // "ffplay" when empty
	Args   []string // defaultPlayerArgs when nil
}

// NewPlayer returns an ffplay-backed player
func NewPlayer() *Player {
	return &Player{}
}

// Play implements internal.Player
func (p *Player) Play(clip []byte) (internal.Playback, error) {
	if len(clip) == 0 {
		return nil, errors.New("empty clip")
	}
	args := p.Args
	if args == nil {
		args = defaultPlayerArgs
	}

	var stderr bytes.Buffer
	cmd := exec.Command(orDefault(p.Binary, "ffplay"), args...)
	cmd.Stdin = bytes.NewReader(clip)
	cmd.Stderr = &stderr
	// A killed ffplay may leave children holding the pipes.
	cmd.WaitDelay = pipeWaitDelay
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}

	pb := &playback{cmd: cmd, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		if pb.stopped.Load() {
			err = nil
		} else if err != nil {
			if line := firstLine(stderr.String()); line != "" {
				err = fmt.Errorf("%w: %s", err, line)
			}
		}
		pb.done <- err
		close(pb.done)
	}()
	return pb, nil
}

type playback struct {
	cmd     *exec.Cmd
	done    chan error
	stopped atomic.Bool
}

func (pb *playback) Done() <-chan error {
	return pb.done
}

// Stop kills the player; Done then yields nil
func (pb *playback) Stop() {
	if pb.stopped.Swap(true) {
		return
	}
	_ = pb.cmd.Process.Kill()
}
