//go:build !gst

package source

import (
	"context"
	"errors"
)

// OpenGStreamer needs cgo GStreamer bindings; build with -tags gst.
func OpenGStreamer(ctx context.Context, descriptor string) (Stream, error) {
	return nil, errors.New("gstreamer pipelines require building with -tags gst")
}
