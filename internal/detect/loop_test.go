package detect

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/fallguard/internal/config"
	"github.com/mikeyg42/fallguard/internal/event"
)

type fakeSource struct {
	running atomic.Bool
	frame   []byte
}

func (s *fakeSource) Running() bool { return s.running.Load() }
func (s *fakeSource) Frame() []byte { return s.frame }

type fakeClassifier struct {
	loaded bool
	res    Result
	err    error
	calls  atomic.Int64
}

func (c *fakeClassifier) Loaded() bool { return c.loaded }
func (c *fakeClassifier) Detect([]byte) (Result, error) {
	c.calls.Add(1)
	return c.res, c.err
}

type memorySink struct {
	mu     sync.Mutex
	events []event.FallEvent
}

func (m *memorySink) SaveEvent(_ context.Context, _ string, ev *event.FallEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return ev.ID, nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type fakeSnaps struct{ err error }

func (f *fakeSnaps) Save(_ context.Context, _, eventID string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "snapshots/" + eventID + ".jpg", nil
}

func loopConfig() config.DetectionConfig {
	return config.DetectionConfig{
		TargetFPS:            1000,
		Cooldown:             10 * time.Second,
		MaxConsecutiveErrors: 3,
		ConfidenceThreshold:  0.5,
	}
}

// fakeClock advances a fixed step on every reading, simulating elapsed
// time without real sleeps.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopDebouncesSustainedFall(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, res: Result{Fall: true, Confidence: 0.95}}
	sink := &memorySink{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0), step: 10 * time.Millisecond}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, sink, "user-1", "cam-1", nil, zap.NewNop())
	l.nowFn = clock.Now

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 100 consecutive positive classifications span about one simulated
	// second, well inside the 10s cooldown window.
	waitFor(t, func() bool { return classifier.calls.Load() >= 100 }, "100 classifications")
	l.Stop()

	if got := sink.count(); got != 1 {
		t.Fatalf("accepted events = %d across %d positive detections, want exactly 1",
			got, classifier.calls.Load())
	}
}

func TestLoopAcceptsAgainAfterCooldown(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, res: Result{Fall: true, Confidence: 0.95}}
	sink := &memorySink{}
	// Each cycle advances the clock past the whole cooldown.
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0), step: 11 * time.Second}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, sink, "user-1", "cam-1", nil, zap.NewNop())
	l.nowFn = clock.Now

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return sink.count() >= 3 }, "3 accepted events")
	l.Stop()
}

func TestLoopBelowThresholdIgnored(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, res: Result{Fall: true, Confidence: 0.3}}
	sink := &memorySink{}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, sink, "user-1", "cam-1", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return classifier.calls.Load() >= 20 }, "20 classifications")
	l.Stop()

	if got := sink.count(); got != 0 {
		t.Fatalf("accepted events = %d for sub-threshold detections, want 0", got)
	}
}

func TestLoopStopsWhenModelNotLoaded(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: false}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, &memorySink{}, "u", "c", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return !l.Running() }, "loop to stop itself")

	if err := l.Err(); err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("Err() = %v, want model-not-loaded", err)
	}
	if n := classifier.calls.Load(); n != 0 {
		t.Fatalf("Detect called %d times on an unloaded model", n)
	}
}

func TestLoopStopsAfterConsecutiveErrors(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, err: errors.New("inference blew up")}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, &memorySink{}, "u", "c", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return !l.Running() }, "loop to stop itself")

	if err := l.Err(); err == nil || !strings.Contains(err.Error(), "consecutive errors") {
		t.Fatalf("Err() = %v, want consecutive-errors", err)
	}
	if n := classifier.calls.Load(); n != 3 {
		t.Fatalf("Detect called %d times, want exactly MaxConsecutiveErrors (3)", n)
	}
}

func TestLoopErrorCountResetsOnSuccess(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &flakyClassifier{}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, &memorySink{}, "u", "c", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Alternating failure and success never reaches 3 consecutive.
	waitFor(t, func() bool { return classifier.calls.Load() >= 20 }, "20 classifications")
	if !l.Running() {
		t.Fatalf("loop stopped on non-consecutive errors: %v", l.Err())
	}
	l.Stop()
}

type flakyClassifier struct{ calls atomic.Int64 }

func (c *flakyClassifier) Loaded() bool { return true }
func (c *flakyClassifier) Detect([]byte) (Result, error) {
	if c.calls.Add(1)%2 == 1 {
		return Result{}, errors.New("transient")
	}
	return Result{}, nil
}

func TestLoopAcceptPersistsAndDispatches(t *testing.T) {
	source := &fakeSource{frame: []byte{0xff, 0xd8}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, res: Result{Fall: true, Confidence: 0.92}}
	sink := &memorySink{}

	dispatched := make(chan *event.FallEvent, 1)
	onFall := func(ev *event.FallEvent, frame []byte) {
		select {
		case dispatched <- ev:
		default:
		}
	}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{}, sink, "user-1", "cam-1", onFall, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	var ev *event.FallEvent
	select {
	case ev = <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatalf("onFall hook never invoked")
	}

	waitFor(t, func() bool { return sink.count() >= 1 }, "event persisted")
	sink.mu.Lock()
	saved := sink.events[0]
	sink.mu.Unlock()

	if saved.ID != ev.ID {
		t.Fatalf("dispatched event %s, persisted %s", ev.ID, saved.ID)
	}
	if saved.ImageRef != "snapshots/"+saved.ID+".jpg" {
		t.Fatalf("ImageRef = %q", saved.ImageRef)
	}
	if saved.UserID != "user-1" || saved.CameraID != "cam-1" {
		t.Fatalf("event identity = %s/%s", saved.UserID, saved.CameraID)
	}
}

func TestLoopSnapshotFailureStillPersistsEvent(t *testing.T) {
	source := &fakeSource{frame: []byte{1}}
	source.running.Store(true)
	classifier := &fakeClassifier{loaded: true, res: Result{Fall: true, Confidence: 0.9}}
	sink := &memorySink{}

	l := NewLoop(loopConfig(), source, classifier, &fakeSnaps{err: errors.New("bucket gone")}, sink,
		"user-1", "cam-1", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	waitFor(t, func() bool { return sink.count() >= 1 }, "event persisted")
	sink.mu.Lock()
	saved := sink.events[0]
	sink.mu.Unlock()
	if saved.ImageRef != "" {
		t.Fatalf("ImageRef = %q after snapshot failure, want empty", saved.ImageRef)
	}
}

func TestLoopDoubleStartRejected(t *testing.T) {
	source := &fakeSource{}
	l := NewLoop(loopConfig(), source, &fakeClassifier{loaded: true}, &fakeSnaps{}, &memorySink{},
		"u", "c", nil, zap.NewNop())
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	if err := l.Start(); err == nil {
		t.Fatalf("second Start succeeded on a running loop")
	}
}
