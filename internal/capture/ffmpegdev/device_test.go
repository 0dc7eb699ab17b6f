package ffmpegdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"rehearse/internal/capture"
	"rehearse/internal/config"
)

const sampleEncoders = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libvpx               libvpx VP8 (codec vp8)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`

func TestParseEncoders(t *testing.T) {
	encoders := parseEncoders(sampleEncoders)
	for _, name := range []string{"libvpx", "libvpx-vp9", "libx264", "aac", "libopus"} {
		if !encoders[name] {
			t.Errorf("expected encoder %s", name)
		}
	}
	if encoders["Video"] || encoders["="] {
		t.Fatalf("legend lines must be ignored: %v", encoders)
	}
}

func TestPlanFor(t *testing.T) {
	full := parseEncoders(sampleEncoders)
	vp8Only := map[string]bool{"libvpx": true, "libopus": true}

	cases := []struct {
		name      string
		mime      string
		available map[string]bool
		ok        bool
		video     string
		audio     string
		format    string
	}{
		{"vp9 opus", "video/webm;codecs=vp9,opus", full, true, "libvpx-vp9", "libopus", "webm"},
		{"vp9 missing", "video/webm;codecs=vp9,opus", vp8Only, false, "", "", ""},
		{"vp8 opus", "video/webm;codecs=vp8,opus", vp8Only, true, "libvpx", "libopus", "webm"},
		{"bare webm falls back", "video/webm", vp8Only, true, "libvpx", "libopus", "webm"},
		{"mp4", "video/mp4", full, true, "libx264", "aac", "mp4"},
		{"mp4 without x264", "video/mp4", vp8Only, false, "", "", ""},
		{"unknown codec", "video/webm;codecs=av1", full, false, "", "", ""},
		{"unknown container", "video/ogg", full, false, "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, ok := planFor(tc.mime, tc.available)
			if ok != tc.ok {
				t.Fatalf("planFor ok=%v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if plan.video != tc.video || plan.audio != tc.audio || plan.format != tc.format {
				t.Fatalf("unexpected plan %+v", plan)
			}
		})
	}
}

func TestRecorderArgsForMP4(t *testing.T) {
	s := &stream{info: capture.DeviceInfo{Width: 640, Height: 480, FrameRate: 29.97}, audioDevice: "hw:1"}
	plan, _ := planFor("video/mp4", parseEncoders(sampleEncoders))
	args := newRecorder(s, plan).args()
	joined := strings.Join(args, " ")
	for _, want := range []string{"-video_size 640x480", "-framerate 29.97", "-f alsa -i hw:1", "-shortest", "-c:v libx264", "-c:a aac", "-movflags frag_keyframe+empty_moov+default_base_moof", "pipe:1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected %q in %q", want, joined)
		}
	}
}

func TestOpenMissingNode(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Device = filepath.Join(t.TempDir(), "video9")
	_, err := New(&cfg, nil).Open(context.Background(), capture.Constraints{Width: 2, Height: 2})
	if !errors.Is(err, capture.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func stubCommands(t *testing.T) {
	t.Helper()
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		helperArgs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], helperArgs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })
}

func fakeNode(t *testing.T) *config.Config {
	t.Helper()
	node := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatalf("write node: %v", err)
	}
	cfg := config.Default()
	cfg.Capture.Device = node
	return &cfg
}

func TestOpenStreamsFrames(t *testing.T) {
	stubCommands(t)
	dev := New(fakeNode(t), nil)

	s, err := dev.Open(context.Background(), capture.Constraints{Width: 2, Height: 2, FrameRate: 30})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if !s.Supports("video/webm;codecs=vp9,opus") {
		t.Fatal("expected probed vp9 support")
	}
	select {
	case frame, ok := <-s.Frames():
		if !ok {
			t.Fatal("frame channel closed before first frame")
		}
		if frame.Width != 2 || len(frame.Pix) != 12 || frame.Seq == 0 {
			t.Fatalf("unexpected frame %+v", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestRecorderDeliversChunksOnStop(t *testing.T) {
	stubCommands(t)
	dev := New(fakeNode(t), nil)
	s, err := dev.Open(context.Background(), capture.Constraints{Width: 2, Height: 2, FrameRate: 30})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	rec, err := s.NewRecorder("video/webm;codecs=vp9,opus")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	var mu sync.Mutex
	var got []byte
	var failures []error
	err = rec.Start(context.Background(), func(chunk []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, chunk...)
	}, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rec.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "webm-container" {
		t.Fatalf("unexpected recording bytes %q", got)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected recorder failures %v", failures)
	}
}

func TestNewRecorderRejectsUnsupportedEncoding(t *testing.T) {
	stubCommands(t)
	dev := New(fakeNode(t), nil)
	s, err := dev.Open(context.Background(), capture.Constraints{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if _, err := s.NewRecorder("video/ogg"); !errors.Is(err, capture.ErrNoEncoding) {
		t.Fatalf("expected ErrNoEncoding, got %v", err)
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	if idx := slices.Index(args, "--"); idx >= 0 {
		args = args[idx+1:]
	}

	switch {
	case slices.Contains(args, "-encoders"):
		fmt.Print(sampleEncoders)
		os.Exit(0)
	case slices.Contains(args, "v4l2"):
		frame := make([]byte, 12)
		for i := range 3 {
			frame[0] = byte(i)
			_, _ = os.Stdout.Write(frame)
		}
		time.Sleep(30 * time.Second)
		os.Exit(0)
	case slices.Contains(args, "pipe:0"):
		_, _ = io.Copy(io.Discard, os.Stdin)
		fmt.Print("webm-container")
		os.Exit(0)
	default:
		os.Exit(2)
	}
}
