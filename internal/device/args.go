package device

import (
	"fmt"
	"strconv"

	"github.com/iksnae/enroll-session/internal"
)

// inputArgs returns the ffmpeg input arguments that open the camera and
// microphone on goos. With withVideo false only the microphone is opened.
// inputFormat overrides the audio demuxer on linux and the combined demuxer
// elsewhere.
func inputArgs(goos string, c internal.Constraints, inputFormat string, withVideo bool) ([]string, error) {
	size := fmt.Sprintf("%dx%d", c.Video.Width, c.Video.Height)

	switch goos {
	case "darwin":
		format := orDefault(inputFormat, "avfoundation")
		audio := orDefault(c.Audio.Device, "0")
		if !withVideo {
			return []string{"-f", format, "-i", ":" + audio}, nil
		}
		video := orDefault(c.Video.Device, "0")
		return []string{
			"-f", format,
			"-framerate", "30",
			"-video_size", size,
			"-i", video + ":" + audio,
		}, nil

	case "linux":
		audioIn := []string{"-f", orDefault(inputFormat, "pulse"), "-i", orDefault(c.Audio.Device, "default")}
		if !withVideo {
			return audioIn, nil
		}
		videoIn := []string{"-f", "v4l2", "-video_size", size, "-i", orDefault(c.Video.Device, "/dev/video0")}
		return append(videoIn, audioIn...), nil

	case "windows":
		format := orDefault(inputFormat, "dshow")
		if c.Audio.Device == "" {
			return nil, fmt.Errorf("%s needs devices.constraints.audio.device to be set", format)
		}
		if !withVideo {
			return []string{"-f", format, "-i", "audio=" + c.Audio.Device}, nil
		}
		if c.Video.Device == "" {
			return nil, fmt.Errorf("%s needs devices.constraints.video.device to be set", format)
		}
		return []string{
			"-f", format,
			"-video_size", size,
			"-i", "video=" + c.Video.Device + ":audio=" + c.Audio.Device,
		}, nil
	}
	return nil, fmt.Errorf("media capture is not supported on %s; supported platforms: darwin, linux, windows", goos)
}

// audioArgs applies the microphone constraints. ffmpeg has no echo
// canceller, so EchoCancellation is left to the operating system.
func audioArgs(a internal.AudioConstraints) []string {
	args := []string{"-ac", "1"}
	if a.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(a.SampleRate))
	}
	if a.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	return args
}

// recorderArgs builds the full ffmpeg command line for a recorder of kind.
// Audio+video is encoded as a live WebM stream; audio-only is a WAV file
// suitable for transcription. Both are written to stdout.
func recorderArgs(goos string, c internal.Constraints, inputFormat string, kind internal.RecorderKind) ([]string, error) {
	in, err := inputArgs(goos, c, inputFormat, kind == internal.RecordAudioVideo)
	if err != nil {
		return nil, err
	}

	args := append([]string{"-hide_banner", "-loglevel", "error"}, in...)
	args = append(args, audioArgs(c.Audio)...)
	if kind == internal.RecordAudioOnly {
		return append(args, "-f", "wav", "pipe:1"), nil
	}
	return append(args,
		"-c:v", "libvpx", "-deadline", "realtime", "-b:v", "1M",
		"-c:a", "libopus",
		"-f", "webm", "pipe:1",
	), nil
}

// probeArgs opens the devices briefly and discards the result. It is how
// Open finds out whether access is granted.
func probeArgs(in []string) []string {
	args := append([]string{"-hide_banner", "-loglevel", "error"}, in...)
	return append(args, "-t", "0.5", "-f", "null", "-")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
