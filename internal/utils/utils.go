package utils

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (decoder logs)
// This ensures we don't lose the reason a helper process died.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Tail returns the last n lines captured on Stderr.
func (s *SafeCommand) Tail(n int) string {
	if s == nil || s.Stderr.Len() == 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(s.Stderr.String(), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Die is the unified exit strategy for facegate.
// It prints a formatted error box and dumps helper process logs if a SafeCommand is provided.
func Die(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEGATE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if tail := s.Tail(20); tail != "" {
		fmt.Fprintf(os.Stderr, "\nDECODER LOGS:\n%s\n", tail)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	os.Exit(1)
}

// --- 2. Video Engine (ffmpeg frame source) ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd creates a live decoder pipe
// It configures FFmpeg to output raw MJPEG frames to Stdout for ingestion.
// Input buffering is disabled so the newest frame is always the one we see.
func NewFFmpegCmd(input string) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-fflags", "nobuffer", "-flags", "low_delay"}
	if strings.HasPrefix(input, "/dev/video") {
		args = append(args, "-f", "v4l2")
	}
	args = append(args, "-i", input, "-an", "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "4", "-")
	return NewSafeCommand("ffmpeg", args...)
}
