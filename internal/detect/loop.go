package detect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

// FrameSource is the camera contract. Frame returns nil when no frame
// is currently available; reconnecting a dropped camera is the source's
// own responsibility, the loop just waits.
type FrameSource interface {
	Running() bool
	Frame() []byte
}

// EventSink is the slice of the event store the loop writes to.
type EventSink interface {
	SaveEvent(ctx context.Context, userID string, ev *event.FallEvent) (string, error)
}

// SnapshotSink persists the frame captured at the moment of a fall.
type SnapshotSink interface {
	Save(ctx context.Context, userID, eventID string, jpeg []byte) (string, error)
}

// Loop states.
const (
	stateStopped int32 = iota
	stateRunning
)

const (
	cameraWait     = 500 * time.Millisecond
	emptyFrameWait = 100 * time.Millisecond
	joinTimeout    = 2 * time.Second
)

// Loop is the detection worker: STOPPED or RUNNING, nothing else.
// Start and Stop may be called from any goroutine.
type Loop struct {
	cfg        config.DetectionConfig
	source     FrameSource
	classifier Classifier
	snapshots  SnapshotSink
	events     EventSink
	logger     *zap.Logger

	userID   string
	cameraID string

	// onFall receives each accepted event on its own goroutine, so a
	// slow notification path never stalls frame processing.
	onFall func(ev *event.FallEvent, frame []byte)

	state   atomic.Int32
	stop    chan struct{}
	done    chan struct{}
	stopMu  sync.Mutex
	lastErr atomic.Pointer[error]

	nowFn func() time.Time
}

// NewLoop builds a detection loop for one user and camera. onFall may
// be nil when nobody listens for accepted events.
func NewLoop(cfg config.DetectionConfig, source FrameSource, classifier Classifier,
	snapshots SnapshotSink, events EventSink, userID, cameraID string,
	onFall func(ev *event.FallEvent, frame []byte), logger *zap.Logger) *Loop {
	return &Loop{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		snapshots:  snapshots,
		events:     events,
		userID:     userID,
		cameraID:   cameraID,
		onFall:     onFall,
		logger:     logger.Named("detect"),
		nowFn:      time.Now,
	}
}

// Running reports whether the worker goroutine is active.
func (l *Loop) Running() bool { return l.state.Load() == stateRunning }

// Err returns the error that stopped the loop, or nil after a clean
// stop.
func (l *Loop) Err() error {
	if p := l.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Start launches the worker. Starting a running loop is an error.
func (l *Loop) Start() error {
	if !l.state.CompareAndSwap(stateStopped, stateRunning) {
		return fmt.Errorf("detect: loop already running")
	}
	l.stopMu.Lock()
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.stopMu.Unlock()
	l.lastErr.Store(nil)

	go l.run(l.stop, l.done)
	l.logger.Info("detection loop started",
		zap.Int("target_fps", l.cfg.TargetFPS),
		zap.Duration("cooldown", l.cfg.Cooldown))
	return nil
}

// Stop signals the worker and joins it with a bounded wait; past the
// timeout it detaches rather than hanging the caller. Safe to call
// from any goroutine, and more than once.
func (l *Loop) Stop() {
	l.stopMu.Lock()
	stop, done := l.stop, l.done
	l.stopMu.Unlock()
	if stop == nil {
		return
	}

	select {
	case <-stop:
	default:
		close(stop)
	}

	select {
	case <-done:
		l.logger.Info("detection loop stopped")
	case <-time.After(joinTimeout):
		l.logger.Warn("detection loop did not stop in time, detaching")
	}
}

// run owns one generation of the loop; stop and done are captured so a
// detached worker can never touch a successor's channels.
func (l *Loop) run(stop, done chan struct{}) {
	defer func() {
		l.state.Store(stateStopped)
		close(done)
	}()

	interval := time.Second
	if l.cfg.TargetFPS > 0 {
		interval = time.Second / time.Duration(l.cfg.TargetFPS)
	}

	var (
		lastAccepted time.Time
		consecutive  int
	)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !l.source.Running() {
			if !l.sleep(stop, cameraWait) {
				return
			}
			continue
		}

		frame := l.source.Frame()
		if len(frame) == 0 {
			if !l.sleep(stop, emptyFrameWait) {
				return
			}
			continue
		}

		if !l.classifier.Loaded() {
			err := fmt.Errorf("detect: model not loaded")
			l.lastErr.Store(&err)
			l.logger.Error("model not loaded, stopping detection loop")
			return
		}

		res, err := l.classifier.Detect(frame)
		if err != nil {
			consecutive++
			l.logger.Error("classification failed",
				zap.Int("consecutive", consecutive), zap.Error(err))
			if consecutive >= l.cfg.MaxConsecutiveErrors {
				stopErr := fmt.Errorf("detect: %d consecutive errors, last: %w", consecutive, err)
				l.lastErr.Store(&stopErr)
				l.logger.Error("too many consecutive errors, stopping detection loop",
					zap.Int("max", l.cfg.MaxConsecutiveErrors))
				return
			}
			if !l.sleep(stop, interval) {
				return
			}
			continue
		}
		consecutive = 0

		now := l.nowFn()
		if res.Fall && res.Confidence >= l.cfg.ConfidenceThreshold &&
			(lastAccepted.IsZero() || now.Sub(lastAccepted) > l.cfg.Cooldown) {
			lastAccepted = now
			l.accept(res, frame)
		}

		if !l.sleep(stop, interval) {
			return
		}
	}
}

// accept turns one debounced detection into a persisted, dispatched
// event. Snapshot failure degrades to an event without an image;
// storage failure is logged but the alert still goes out.
func (l *Loop) accept(res Result, frame []byte) {
	ctx := context.Background()

	ev := event.NewFallEvent(l.userID, l.cameraID, res.Confidence)
	l.logger.Info("fall detected",
		zap.String("event_id", ev.ID),
		zap.Float64("confidence", res.Confidence))

	// The frame buffer belongs to the source; keep our own copy before
	// handing it to slower consumers.
	shot := make([]byte, len(frame))
	copy(shot, frame)

	ref, err := l.snapshots.Save(ctx, l.userID, ev.ID, shot)
	if err != nil {
		l.logger.Error("saving snapshot failed", zap.String("event_id", ev.ID), zap.Error(err))
	} else {
		ev.ImageRef = ref
	}

	if _, err := l.events.SaveEvent(ctx, l.userID, ev); err != nil {
		l.logger.Error("persisting event failed", zap.String("event_id", ev.ID), zap.Error(err))
	}

	if l.onFall != nil {
		go l.onFall(ev, shot)
	}
}

// sleep waits for d or for Stop, whichever comes first; false means the
// loop should exit.
func (l *Loop) sleep(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}
