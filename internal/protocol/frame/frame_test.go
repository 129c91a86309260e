package frame

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/promisectl/internal/testutil/testlog"
)

func TestReadFrameConsumesTerminator(t *testing.T) {
	testlog.Start(t)

	r := NewReader(strings.NewReader("{\"a\":1}\n\n{\"b\":2}\r\n\r\n"), nil)
	first, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	second, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if first != `{"a":1}` || second != `{"b":2}` {
		t.Fatalf("unexpected frames %q %q", first, second)
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrameToleratesMissingTerminator(t *testing.T) {
	testlog.Start(t)

	r := NewReader(strings.NewReader("payload\n"), nil)
	payload, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if payload != "payload" {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestReadLineLimit(t *testing.T) {
	testlog.Start(t)

	r := NewReader(strings.NewReader(strings.Repeat("x", 64)+"\n"), nil)
	r.SetLimits(Limits{MaxLineBytes: 16})
	if _, err := r.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	testlog.Start(t)

	var out bytes.Buffer
	w := NewWriter(&out, nil)
	if err := w.WriteLine("log_info=hello"); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if err := w.WriteFrame(`{"operation":"init"}`); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if out.String() != "log_info=hello\n{\"operation\":\"init\"}\n\n" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := w.WriteFrame("a\nb"); !errors.Is(err, ErrEmbeddedNewline) {
		t.Fatalf("expected ErrEmbeddedNewline, got %v", err)
	}
}

func TestTranscriptMirrorsBothDirections(t *testing.T) {
	testlog.Start(t)

	var rec bytes.Buffer
	tr := NewTranscript(&rec)
	r := NewReader(strings.NewReader("req\n\n"), tr)
	w := NewWriter(io.Discard, tr)

	if _, err := r.ReadFrame(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := w.WriteLine("log_error=bad"); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if err := w.WriteFrame("resp"); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	want := "< req\n< \nlog_error=bad\n> resp\n> \n"
	if rec.String() != want {
		t.Fatalf("unexpected transcript %q", rec.String())
	}
}

func TestOpenTranscriptAppends(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "session.log")
	for i := 0; i < 2; i++ {
		tr, err := OpenTranscript(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		tr.Outbound("line")
		if err := tr.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if string(data) != "> line\n> line\n" {
		t.Fatalf("unexpected transcript %q", data)
	}

	var nilTranscript *Transcript
	nilTranscript.Inbound("ignored")
	if err := nilTranscript.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
