//go:build gst

package source

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

var gstInit sync.Once

type gstStream struct {
	pipeline *gst.Pipeline
	box      *mailbox
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// OpenGStreamer builds the pipeline for an SDP or launch-string descriptor
// and waits for its first RGBA frame.
func OpenGStreamer(ctx context.Context, descriptor string) (Stream, error) {
	gstInit.Do(func() { gst.Init(nil) })

	launch := Pipeline(descriptor)
	slog.Debug("creating capture pipeline", "pipeline", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("pipeline has no appsink named sink: %w", err)
	}

	s := &gstStream{pipeline: pipeline, box: newMailbox()}
	sink := app.SinkFromElement(elem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			if img := pullRGBA(sink); img != nil {
				s.box.put(img)
			}
			return gst.FlowOK
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	monCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.monitor(monCtx)

	ready := make(chan bool, 1)
	go func() { ready <- s.box.peek(OpenTimeout) }()
	select {
	case ok := <-ready:
		if !ok {
			s.Close()
			return nil, fmt.Errorf("no frame from pipeline within %s", OpenTimeout)
		}
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
	return s, nil
}

// monitor watches the bus; an error or EOS ends the stream.
func (s *gstStream) monitor(ctx context.Context) {
	defer s.wg.Done()
	bus := s.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("capture pipeline reached end of stream")
			s.box.close()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Warn("capture pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			s.box.close()
			return
		}
	}
}

func pullRGBA(sink *app.Sink) image.Image {
	sample := sink.PullSample()
	if sample == nil {
		return nil
	}
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return nil
	}
	st := caps.GetStructureAt(0)
	width, height := intField(st, "width"), intField(st, "height")
	if width <= 0 || height <= 0 {
		return nil
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	img, err := RGBA(mapInfo.Bytes(), width, height)
	if err != nil {
		slog.Debug("dropping malformed sample", "error", err)
		return nil
	}
	return img
}

func intField(st *gst.Structure, name string) int {
	val, err := st.GetValue(name)
	if err != nil {
		return 0
	}
	v, _ := val.(int)
	return v
}

func (s *gstStream) Read(timeout time.Duration) (image.Image, bool) {
	return s.box.get(timeout)
}

func (s *gstStream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.box.close()
	return s.pipeline.SetState(gst.StateNull)
}
