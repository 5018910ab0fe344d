// Package classifier wraps the fall detection model behind the
// detect.Classifier contract. The model is an ONNX network executed
// through OpenCV's DNN module; it sees one frame at a time and returns
// a fall probability.
package classifier

import (
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/fallguard/internal/detect"
)

const inputSize = 224

// Model runs the fall detector network. A Model that failed to load
// still satisfies the contract; it just reports Loaded false, which
// stops the detection loop.
type Model struct {
	mu     sync.Mutex
	net    gocv.Net
	loaded bool
	logger *zap.Logger
}

// Load reads the ONNX network from path. Load never fails hard: a
// missing or broken model produces an unloaded Model, and the loop
// surfaces that as its stop reason.
func Load(path string, logger *zap.Logger) *Model {
	m := &Model{logger: logger.Named("classifier")}

	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		m.logger.Error("loading model failed", zap.String("path", path))
		return m
	}
	m.net = net
	m.loaded = true
	m.logger.Info("model loaded", zap.String("path", path))
	return m
}

// Loaded reports whether the network is ready for inference.
func (m *Model) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

// Detect classifies one JPEG frame. The network outputs a single fall
// probability in [0,1].
func (m *Model) Detect(frame []byte) (detect.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return detect.Result{}, fmt.Errorf("classifier: model not loaded")
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return detect.Result{}, fmt.Errorf("classifier: decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return detect.Result{}, fmt.Errorf("classifier: empty frame")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0,
		image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	if out.Total() == 0 {
		return detect.Result{}, fmt.Errorf("classifier: empty network output")
	}
	prob := float64(out.GetFloatAt(0, 0))
	return detect.Result{Fall: prob >= 0.5, Confidence: prob}, nil
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil
	}
	m.loaded = false
	return m.net.Close()
}
