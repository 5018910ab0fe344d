// Package camera owns frame acquisition: a background goroutine reads
// the device through gocv and keeps the latest JPEG-encoded frame
// behind a mutex. Readers always get their own copy; nobody holds a
// reference across the lock.
package camera

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	captureInterval = 40 * time.Millisecond // ~25 FPS read rate
	reopenWait      = 2 * time.Second
	maxReopens      = 5
)

// Camera is a FrameSource backed by a local capture device.
type Camera struct {
	index  int
	logger *zap.Logger

	mu      sync.Mutex
	frame   []byte // latest JPEG, nil until first successful read
	running bool
	cap     *gocv.VideoCapture

	stop chan struct{}
	done chan struct{}
}

// New builds a camera for the given device index; the device is not
// touched until Start.
func New(index int, logger *zap.Logger) *Camera {
	return &Camera{index: index, logger: logger.Named("camera")}
}

// Start opens the device and launches the capture goroutine. It
// reports false when the device cannot be opened; the caller decides
// whether that is fatal.
func (c *Camera) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return true
	}

	cap, err := gocv.OpenVideoCapture(c.index)
	if err != nil {
		c.logger.Error("opening capture device failed",
			zap.Int("index", c.index), zap.Error(err))
		return false
	}
	c.cap = cap
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go c.capture()
	c.logger.Info("camera started", zap.Int("index", c.index))
	return true
}

// Stop ends capture and releases the device. Safe to call when not
// running.
func (c *Camera) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	c.logger.Info("camera stopped")
}

// Running reports whether the capture goroutine is active.
func (c *Camera) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Frame returns a copy of the most recent JPEG frame, or nil when no
// frame has been captured yet.
func (c *Camera) Frame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil
	}
	out := make([]byte, len(c.frame))
	copy(out, c.frame)
	return out
}

func (c *Camera) capture() {
	defer close(c.done)
	defer c.release()

	mat := gocv.NewMat()
	defer mat.Close()

	reopens := 0
	ticker := time.NewTicker(captureInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		if ok := c.readFrame(&mat); !ok {
			reopens++
			c.logger.Warn("frame read failed, reopening device",
				zap.Int("attempt", reopens), zap.Int("max", maxReopens))
			if reopens > maxReopens {
				c.logger.Error("camera unrecoverable, capture goroutine exiting")
				c.markStopped()
				return
			}
			if !c.reopen() {
				select {
				case <-c.stop:
					return
				case <-time.After(reopenWait):
				}
			}
			continue
		}
		reopens = 0
	}
}

// readFrame pulls one frame and swaps in its JPEG encoding.
func (c *Camera) readFrame(mat *gocv.Mat) bool {
	c.mu.Lock()
	cap := c.cap
	c.mu.Unlock()
	if cap == nil {
		return false
	}

	if ok := cap.Read(mat); !ok || mat.Empty() {
		return false
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		c.logger.Warn("jpeg encode failed", zap.Error(err))
		return false
	}
	defer buf.Close()

	jpeg := make([]byte, buf.Len())
	copy(jpeg, buf.GetBytes())

	c.mu.Lock()
	c.frame = jpeg
	c.mu.Unlock()
	return true
}

func (c *Camera) reopen() bool {
	c.mu.Lock()
	if c.cap != nil {
		c.cap.Close()
		c.cap = nil
	}
	c.mu.Unlock()

	cap, err := gocv.OpenVideoCapture(c.index)
	if err != nil {
		c.logger.Warn("reopening capture device failed",
			zap.Int("index", c.index), zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.cap = cap
	c.mu.Unlock()
	return true
}

func (c *Camera) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap != nil {
		if err := c.cap.Close(); err != nil {
			c.logger.Warn("closing capture device", zap.Error(err))
		}
		c.cap = nil
	}
}

func (c *Camera) markStopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Describe returns a short identifier for logs and events.
func (c *Camera) Describe() string {
	return fmt.Sprintf("camera-%d", c.index)
}
