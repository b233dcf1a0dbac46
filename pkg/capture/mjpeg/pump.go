// Package mjpeg captures from external processes that write an MJPEG
// stream to stdout (rpicam-vid, ffmpeg).
package mjpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	readChunkSize  = 4096
	maxFrameBuffer = 10 * 1024 * 1024
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// ErrStale is returned when the stream stopped producing frames.
var ErrStale = errors.New("mjpeg: no frame within timeout")

// Pump splits an MJPEG byte stream into JPEG images and keeps the latest.
type Pump struct {
	mu     sync.Mutex
	frame  []byte
	fresh  chan struct{}
	done   chan struct{}
	err    error
	frames int
}

// NewPump starts reading r in the background until it fails or ends.
func NewPump(r io.Reader) *Pump {
	p := &Pump{
		fresh: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go p.run(r)
	return p
}

// Next waits up to timeout for a frame newer than the last one returned.
func (p *Pump) Next(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.fresh:
		return p.latest(), nil
	case <-p.done:
		select {
		case <-p.fresh:
			return p.latest(), nil
		default:
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err != nil {
			return nil, fmt.Errorf("mjpeg stream ended: %w", p.err)
		}
		return nil, errors.New("mjpeg stream ended")
	case <-timer.C:
		return nil, ErrStale
	}
}

func (p *Pump) latest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.frame))
	copy(out, p.frame)
	return out
}

// Frames returns how many complete images were parsed.
func (p *Pump) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func (p *Pump) publish(frame []byte) {
	p.mu.Lock()
	p.frame = append(p.frame[:0], frame...)
	p.frames++
	p.mu.Unlock()
	select {
	case p.fresh <- struct{}{}:
	default:
	}
}

func (p *Pump) run(r io.Reader) {
	defer close(p.done)

	chunk := make([]byte, readChunkSize)
	var buf []byte
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = p.scan(append(buf, chunk[:n]...))
			if len(buf) > maxFrameBuffer {
				slog.Warn("mjpeg frame buffer overflow, resetting")
				buf = nil
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
			}
			return
		}
	}
}

// scan publishes every complete image in buf and returns the unconsumed tail.
func (p *Pump) scan(buf []byte) []byte {
	for {
		start := bytes.Index(buf, soi)
		if start == -1 {
			// Keep a trailing 0xFF in case the marker is split across reads.
			if len(buf) > 0 && buf[len(buf)-1] == 0xFF {
				return buf[len(buf)-1:]
			}
			return buf[:0]
		}
		end := bytes.Index(buf[start+len(soi):], eoi)
		if end == -1 {
			if start > 0 {
				buf = append(buf[:0], buf[start:]...)
			}
			return buf
		}
		stop := start + len(soi) + end + len(eoi)
		p.publish(buf[start:stop])
		buf = append(buf[:0], buf[stop:]...)
	}
}
