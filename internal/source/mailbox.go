package source

import (
	"image"
	"sync"
	"time"
)

// mailbox holds only the newest decoded frame. Producers never block;
// a frame nobody read is replaced.
type mailbox struct {
	frames chan image.Image
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	return &mailbox{frames: make(chan image.Image, 1), done: make(chan struct{})}
}

func (m *mailbox) put(img image.Image) {
	for {
		select {
		case m.frames <- img:
			return
		default:
		}
		select {
		case <-m.frames:
		default:
		}
	}
}

func (m *mailbox) get(timeout time.Duration) (image.Image, bool) {
	select {
	case img := <-m.frames:
		return img, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case img := <-m.frames:
		return img, true
	case <-m.done:
		return nil, false
	case <-timer.C:
		return nil, false
	}
}

// peek waits for the first frame without consuming it.
func (m *mailbox) peek(timeout time.Duration) bool {
	img, ok := m.get(timeout)
	if ok {
		m.put(img)
	}
	return ok
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
