// Package source delivers camera frames from a primary descriptor with a
// fallback, and decides when a silent source is gone for good.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"
)

var (
	ErrNoSource   = errors.New("no frame source available")
	ErrSourceLost = errors.New("frame source stopped delivering frames")
)

// Stream is an opened frame source. Read returns false when no frame
// arrived within timeout; it never blocks longer than that.
type Stream interface {
	Read(timeout time.Duration) (image.Image, bool)
	Close() error
}

// Opener opens a stream for one descriptor.
type Opener func(ctx context.Context, descriptor string) (Stream, error)

// Kind classifies a descriptor.
type Kind int

const (
	KindPipeline Kind = iota // GStreamer launch string
	KindSDP                  // SDP file for an RTP raw-video stream
	KindFFmpeg               // ffmpeg:<input>
	KindDevice               // V4L2 index or /dev/videoN
)

func (k Kind) String() string {
	switch k {
	case KindSDP:
		return "sdp"
	case KindFFmpeg:
		return "ffmpeg"
	case KindDevice:
		return "device"
	default:
		return "pipeline"
	}
}

// Classify decides which backend handles descriptor.
func Classify(descriptor string) Kind {
	d := strings.TrimSpace(descriptor)
	switch {
	case strings.HasPrefix(d, "ffmpeg:"):
		return KindFFmpeg
	case strings.HasPrefix(d, "/dev/video") || isIndex(d):
		return KindDevice
	case strings.HasSuffix(d, ".sdp"):
		return KindSDP
	default:
		return KindPipeline
	}
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DevicePath maps a device index to its V4L2 node.
func DevicePath(descriptor string) string {
	if isIndex(descriptor) {
		return "/dev/video" + descriptor
	}
	return descriptor
}

const sinkTail = "appsink name=sink sync=false drop=true max-buffers=1"

// Pipeline returns the GStreamer launch string for an SDP or pipeline
// descriptor. Frames always leave the pipeline as RGBA through an appsink
// named "sink".
func Pipeline(descriptor string) string {
	d := strings.TrimSpace(descriptor)
	if Classify(d) == KindSDP {
		return fmt.Sprintf("filesrc location=%s ! sdpdemux ! rtpjitterbuffer latency=0 ! rtpvrawdepay ! "+
			"videoconvert ! video/x-raw,format=RGBA ! %s", d, sinkTail)
	}
	if strings.Contains(d, "appsink") {
		return d
	}
	return d + " ! videoconvert ! video/x-raw,format=RGBA ! " + sinkTail
}

// Resolver dispatches descriptors to backend openers. A nil opener means
// the backend is not available in this build.
type Resolver struct {
	GStreamer Opener
	FFmpeg    Opener
	Device    Opener
}

// Backends returns a resolver wired to every backend compiled into this
// binary.
func Backends() Resolver {
	return Resolver{GStreamer: OpenGStreamer, FFmpeg: OpenFFmpeg, Device: OpenDevice}
}

// Open implements Opener.
func (r Resolver) Open(ctx context.Context, descriptor string) (Stream, error) {
	kind := Classify(descriptor)
	var open Opener
	switch kind {
	case KindFFmpeg:
		open = r.FFmpeg
	case KindDevice:
		open = r.Device
	default:
		open = r.GStreamer
	}
	if open == nil {
		return nil, fmt.Errorf("no %s backend for %q", kind, descriptor)
	}
	return open(ctx, descriptor)
}

// Source is the session frame source: primary with fallback, and a bound
// on consecutive empty reads.
type Source struct {
	primary     string
	fallback    string
	readTimeout time.Duration
	maxMisses   int
	open        Opener

	stream Stream
	active string
	misses int
}

// New returns an unopened source.
func New(primary, fallback string, open Opener, readTimeout time.Duration, maxMisses int) *Source {
	if maxMisses < 1 {
		maxMisses = 1
	}
	return &Source{
		primary:     primary,
		fallback:    fallback,
		readTimeout: readTimeout,
		maxMisses:   maxMisses,
		open:        open,
	}
}

// Open tries the primary descriptor, then the fallback.
func (s *Source) Open(ctx context.Context) error {
	var errs []error
	for _, d := range []string{s.primary, s.fallback} {
		if d == "" {
			continue
		}
		st, err := s.open(ctx, d)
		if err != nil {
			slog.Warn("frame source unavailable", "descriptor", d, "kind", Classify(d), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
			continue
		}
		s.stream = st
		s.active = d
		s.misses = 0
		slog.Info("frame source opened", "descriptor", d, "kind", Classify(d))
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNoSource, errors.Join(errs...))
}

// Read returns the next frame or false when none arrived within one
// polling interval.
func (s *Source) Read() (image.Image, bool) {
	if s.stream == nil {
		return nil, false
	}
	img, ok := s.stream.Read(s.readTimeout)
	if !ok || img == nil {
		s.misses++
		if s.misses == s.maxMisses {
			slog.Warn("frame source silent, declaring it lost", "descriptor", s.active, "misses", s.misses)
		}
		return nil, false
	}
	s.misses = 0
	return img, true
}

// Lost reports whether the miss bound has been reached.
func (s *Source) Lost() bool {
	return s.misses >= s.maxMisses
}

// Active returns the descriptor that opened, or "" before Open.
func (s *Source) Active() string {
	return s.active
}

// Close releases the stream. It is safe to call more than once.
func (s *Source) Close() error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
