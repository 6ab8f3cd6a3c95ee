package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/andresmejia3/facegate/internal/utils"
)

const megabyte = 1024 * 1024

// OpenTimeout bounds how long an opener waits for the first frame before
// declaring the descriptor unusable.
var OpenTimeout = 5 * time.Second

// jpegStream decodes a concatenated MJPEG byte stream in the background and
// keeps only the newest frame.
type jpegStream struct {
	box  *mailbox
	done chan struct{}
}

func newJpegStream(r io.Reader) *jpegStream {
	s := &jpegStream{box: newMailbox(), done: make(chan struct{})}
	go s.pump(r)
	return s
}

func (s *jpegStream) pump(r io.Reader) {
	defer close(s.done)
	defer s.box.close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			slog.Debug("dropping undecodable frame", "bytes", len(scanner.Bytes()), "error", err)
			continue
		}
		s.box.put(img)
	}
	if err := scanner.Err(); err != nil {
		slog.Debug("frame pipe closed", "error", err)
	}
}

func (s *jpegStream) Read(timeout time.Duration) (image.Image, bool) {
	return s.box.get(timeout)
}

// ffmpegStream runs ffmpeg as a helper process and reads MJPEG from its stdout.
type ffmpegStream struct {
	*jpegStream
	cmd *utils.SafeCommand
	out io.ReadCloser
}

// OpenFFmpeg starts ffmpeg on the input after the "ffmpeg:" prefix and waits
// for its first frame.
func OpenFFmpeg(ctx context.Context, descriptor string) (Stream, error) {
	input := strings.TrimPrefix(strings.TrimSpace(descriptor), "ffmpeg:")
	if input == "" {
		return nil, fmt.Errorf("empty ffmpeg input")
	}

	cmd := utils.NewFFmpegCmd(input)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &ffmpegStream{jpegStream: newJpegStream(out), cmd: cmd, out: out}
	if err := s.waitFirst(ctx); err != nil {
		s.Close()
		if tail := cmd.Tail(5); tail != "" {
			return nil, fmt.Errorf("%w: %s", err, tail)
		}
		return nil, err
	}
	return s, nil
}

func (s *ffmpegStream) waitFirst(ctx context.Context) error {
	ready := make(chan bool, 1)
	go func() { ready <- s.box.peek(OpenTimeout) }()
	select {
	case ok := <-ready:
		if !ok {
			return fmt.Errorf("no frame from ffmpeg within %s", OpenTimeout)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the helper process and reaps it.
func (s *ffmpegStream) Close() error {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.out.Close()
	<-s.done
	s.cmd.Wait()
	return nil
}
