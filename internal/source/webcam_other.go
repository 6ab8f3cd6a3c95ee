//go:build !linux

package source

import (
	"context"
	"errors"
)

// OpenDevice is only available on linux, where V4L2 exists.
func OpenDevice(ctx context.Context, descriptor string) (Stream, error) {
	return nil, errors.New("v4l2 devices require linux; use an ffmpeg: descriptor instead")
}
