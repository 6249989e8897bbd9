package ffmpeg

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wavetap/wavetap/pkg/extract"
	"github.com/wavetap/wavetap/pkg/transcode"
)

func TestAudioArgs(t *testing.T) {
	t.Parallel()
	args := audioArgs("https://cdn.example.com/a.m4a", "192k")
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-i https://cdn.example.com/a.m4a",
		"-acodec libmp3lame",
		"-ab 192k",
		"-f mp3",
		"-flush_packets 1",
		"-vn",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("audio args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output must be stdout, got %q", args[len(args)-1])
	}
}

func TestPCMArgs(t *testing.T) {
	t.Parallel()
	args := pcmArgs("https://cdn.example.com/a.m4a", 44100, 2)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-acodec pcm_s16le",
		"-ar 44100",
		"-ac 2",
		"-f s16le",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("pcm args missing %q: %s", want, joined)
		}
	}
}

func TestCheckSource_Expired(t *testing.T) {
	t.Parallel()
	src := &extract.ResolvedSource{
		MediaURL:  "https://cdn.example.com/a.m4a",
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	err := checkSource(src)
	var tErr *transcode.Error
	if !errors.As(err, &tErr) || tErr.Kind != transcode.KindSourceUnavailable {
		t.Fatalf("expected KindSourceUnavailable for expired locator, got %v", err)
	}
}

func TestCheckSource_MissingURL(t *testing.T) {
	t.Parallel()
	for _, src := range []*extract.ResolvedSource{nil, {Title: "x"}} {
		err := checkSource(src)
		var tErr *transcode.Error
		if !errors.As(err, &tErr) || tErr.Kind != transcode.KindSourceUnavailable {
			t.Fatalf("expected KindSourceUnavailable, got %v", err)
		}
	}
}

func TestCheckSource_Valid(t *testing.T) {
	t.Parallel()
	src := &extract.ResolvedSource{
		MediaURL:  "https://cdn.example.com/a.m4a",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := checkSource(src); err != nil {
		t.Fatalf("checkSource: %v", err)
	}
}

func TestExitError_Classification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		stderr string
		want   transcode.ErrorKind
	}{
		{"https://cdn.example.com/a.m4a: Server returned 403 Forbidden", transcode.KindSourceUnavailable},
		{"https://cdn.example.com/a.m4a: Server returned 404 Not Found", transcode.KindSourceUnavailable},
		{"Invalid data found when processing input", transcode.KindSourceUnavailable},
		{"Error while decoding stream #0:0", transcode.KindProcessFailed},
		{"", transcode.KindProcessFailed},
	}

	for _, tc := range tests {
		s := &stream{stderr: &tailWriter{limit: 1024}}
		if tc.stderr != "" {
			_, _ = s.stderr.Write([]byte(tc.stderr))
		}
		err := s.exitError(errors.New("read error"), errors.New("exit status 1"))

		var tErr *transcode.Error
		if !errors.As(err, &tErr) {
			t.Fatalf("exitError(%q): not a transcode.Error: %v", tc.stderr, err)
		}
		if tErr.Kind != tc.want {
			t.Errorf("exitError(%q) = %s, want %s", tc.stderr, tErr.Kind, tc.want)
		}
	}
}

func TestTailWriter_KeepsTail(t *testing.T) {
	t.Parallel()
	w := &tailWriter{limit: 8}
	_, _ = w.Write([]byte("0123456789abcdef"))
	if got := w.String(); got != "89abcdef" {
		t.Errorf("tail = %q, want %q", got, "89abcdef")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p := New()
	if p.binary != "ffmpeg" || p.bitrate != "192k" {
		t.Errorf("defaults: binary=%q bitrate=%q", p.binary, p.bitrate)
	}
	if p.sampleRate != 44100 || p.channels != 2 {
		t.Errorf("defaults: rate=%d channels=%d", p.sampleRate, p.channels)
	}

	p = New(WithBinary("/usr/local/bin/ffmpeg"), WithBitrate("128k"), WithPCMFormat(48000, 1), WithStartupTimeout(3*time.Second))
	if p.binary != "/usr/local/bin/ffmpeg" || p.bitrate != "128k" || p.sampleRate != 48000 || p.channels != 1 || p.startupTimeout != 3*time.Second {
		t.Errorf("options not applied: %+v", p)
	}
}
