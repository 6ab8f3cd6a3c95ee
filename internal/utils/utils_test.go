package utils

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	// Use bufio.Scanner with our custom Split function
	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	// Scan() should skip the first garbage bytes and find the JPEG
	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}

	// Verify the extracted token is exactly the JPEG
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}

	// Scan() again should return false (EOF) because the trailing garbage is not a JPEG
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
	if err := scanner.Err(); err != nil {
		t.Errorf("Unexpected scanner error: %v", err)
	}
}

func TestSplitJpegBackToBack(t *testing.T) {
	a := []byte{0xFF, 0xD8, 0xAA, 0xFF, 0xD9}
	b := []byte{0xFF, 0xD8, 0xBB, 0xBB, 0xFF, 0xD9}
	stream := append(append([]byte{}, a...), b...)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, append([]byte{}, scanner.Bytes()...))
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Errorf("Frames out of order or corrupted: %X %X", got[0], got[1])
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	tests := []struct {
		input    string
		wantV4L2 bool
	}{
		{"rtsp://camera.local/stream", false},
		{"/dev/video0", true},
		{"/tmp/clip.mp4", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd := NewFFmpegCmd(tt.input)
			args := strings.Join(cmd.Args, " ")
			if !strings.Contains(args, "-i "+tt.input) {
				t.Errorf("NewFFmpegCmd(%q) args = %q, missing input", tt.input, args)
			}
			if got := strings.Contains(args, "-f v4l2"); got != tt.wantV4L2 {
				t.Errorf("NewFFmpegCmd(%q) v4l2 = %v, want %v", tt.input, got, tt.wantV4L2)
			}
			if !strings.HasSuffix(args, "mjpeg -q:v 4 -") {
				t.Errorf("NewFFmpegCmd(%q) should pipe mjpeg to stdout, got %q", tt.input, args)
			}
		})
	}
}

func TestSafeCommandTail(t *testing.T) {
	s := NewSafeCommand("true")
	s.Stderr.WriteString("one\ntwo\nthree\n")

	if got := s.Tail(2); got != "two\nthree" {
		t.Errorf("Tail(2) = %q, want %q", got, "two\nthree")
	}

	var nilCmd *SafeCommand
	if got := nilCmd.Tail(5); got != "" {
		t.Errorf("Tail on nil = %q, want empty", got)
	}
}
