//go:build linux

package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
)

const (
	fourccMJPEG webcam.PixelFormat = 0x47504A4D // MJPG
	fourccYUYV  webcam.PixelFormat = 0x56595559 // YUYV
)

// Largest capture size requested from a device.
const (
	maxDeviceWidth  = 1280
	maxDeviceHeight = 720
)

type frameSizes []webcam.FrameSize

func (s frameSizes) Len() int      { return len(s) }
func (s frameSizes) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s frameSizes) Less(i, j int) bool {
	return s[i].MaxWidth*s[i].MaxHeight < s[j].MaxWidth*s[j].MaxHeight
}

type webcamStream struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int
	box    *mailbox
	stop   atomic.Bool
	done   chan struct{}
}

// OpenDevice opens a V4L2 device by index or path, preferring MJPEG and
// falling back to YUYV.
func OpenDevice(ctx context.Context, descriptor string) (Stream, error) {
	path := DevicePath(descriptor)
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	formats := cam.GetSupportedFormats()
	format := webcam.PixelFormat(0)
	for _, f := range []webcam.PixelFormat{fourccMJPEG, fourccYUYV} {
		if _, ok := formats[f]; ok {
			format = f
			break
		}
	}
	if format == 0 {
		cam.Close()
		return nil, fmt.Errorf("%s offers neither MJPEG nor YUYV", path)
	}

	w, h := uint32(640), uint32(480)
	sizes := frameSizes(cam.GetSupportedFrameSizes(format))
	sort.Sort(sizes)
	for _, s := range sizes {
		if s.MaxWidth <= maxDeviceWidth && s.MaxHeight <= maxDeviceHeight {
			w, h = s.MaxWidth, s.MaxHeight
		}
	}

	f, w, h, err := cam.SetImageFormat(format, w, h)
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("set format on %s: %w", path, err)
	}
	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, fmt.Errorf("start streaming %s: %w", path, err)
	}
	slog.Debug("v4l2 device streaming", "device", path, "format", formats[f], "width", w, "height", h)

	s := &webcamStream{
		cam:    cam,
		format: f,
		width:  int(w),
		height: int(h),
		box:    newMailbox(),
		done:   make(chan struct{}),
	}
	go s.pump()

	ready := make(chan bool, 1)
	go func() { ready <- s.box.peek(OpenTimeout) }()
	select {
	case ok := <-ready:
		if !ok {
			s.Close()
			return nil, fmt.Errorf("no frame from %s within %s", path, OpenTimeout)
		}
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

func (s *webcamStream) pump() {
	defer close(s.done)
	defer s.box.close()

	for !s.stop.Load() {
		err := s.cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			slog.Warn("v4l2 wait failed", "error", err)
			return
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			slog.Warn("v4l2 read failed", "error", err)
			return
		}
		if len(frame) == 0 {
			continue
		}

		img, err := s.decode(frame)
		if err != nil {
			slog.Debug("dropping undecodable frame", "bytes", len(frame), "error", err)
			continue
		}
		s.box.put(img)
	}
}

func (s *webcamStream) decode(frame []byte) (image.Image, error) {
	if s.format == fourccMJPEG {
		return jpeg.Decode(bytes.NewReader(frame))
	}
	return YUYV(frame, s.width, s.height)
}

func (s *webcamStream) Read(timeout time.Duration) (image.Image, bool) {
	return s.box.get(timeout)
}

func (s *webcamStream) Close() error {
	s.stop.Store(true)
	<-s.done
	s.cam.StopStreaming()
	return s.cam.Close()
}
