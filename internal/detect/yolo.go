package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/queue"
	"turntable/internal/services"
)

// COCO class IDs the pipeline accepts as a spin subject.
var vehicleClasses = map[int]string{
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}

const cocoClassCount = 80

// YOLO runs a YOLOv8 ONNX model through OpenCV's DNN module. The network
// loads lazily on first use and a single net instance is shared across
// worker goroutines, so Forward runs under a lock.
type YOLO struct {
	modelPath     string
	inputSize     int
	confThreshold float32
	nmsThreshold  float32

	once    sync.Once
	loadErr error
	loaded  bool

	mu  sync.Mutex
	net gocv.Net
}

func NewYOLO(cfg *config.Config) *YOLO {
	return &YOLO{
		modelPath:     cfg.DetectorModelPath(),
		inputSize:     cfg.Detect.InputSize,
		confThreshold: float32(cfg.Detect.ConfidenceThreshold),
		nmsThreshold:  float32(cfg.Detect.NMSThreshold),
	}
}

func (y *YOLO) ensure() error {
	y.once.Do(func() {
		if _, err := os.Stat(y.modelPath); err != nil {
			y.loadErr = fmt.Errorf("model file %s: %w", y.modelPath, err)
			return
		}
		net := gocv.ReadNetFromONNX(y.modelPath)
		if net.Empty() {
			y.loadErr = fmt.Errorf("could not load ONNX model %s", y.modelPath)
			return
		}
		y.net = net
		y.loaded = true
	})
	return y.loadErr
}

// Detect locates the primary vehicle in a frame. A nil Detection with nil
// error means the frame holds no vehicle above the confidence threshold.
func (y *YOLO) Detect(frame gocv.Mat) (*Detection, error) {
	if err := y.ensure(); err != nil {
		return nil, services.Wrap(services.ErrDetection, "detect", "load", "detector model unavailable", err)
	}
	if frame.Empty() {
		return nil, services.Wrap(services.ErrDetection, "detect", "input", "empty frame", nil)
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0, image.Pt(y.inputSize, y.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	output := y.net.Forward("")
	y.mu.Unlock()
	defer output.Close()

	boxes, scores := y.decode(output, frame.Cols(), frame.Rows())
	if len(boxes) == 0 {
		return nil, nil
	}

	kept := gocv.NMSBoxes(boxes, scores, y.confThreshold, y.nmsThreshold)
	candidates := make([]Detection, 0, len(kept))
	for _, idx := range kept {
		box := boxes[idx]
		candidates = append(candidates, Detection{
			Box: queue.BoundingBox{
				X1: box.Min.X, Y1: box.Min.Y,
				X2: box.Max.X, Y2: box.Max.Y,
			},
			Confidence: float64(scores[idx]),
		})
	}
	return selectPrimary(candidates, frame.Cols(), frame.Rows()), nil
}

// decode unpacks the [1 x 84 x N] YOLOv8 output tensor: four box channels
// followed by one score channel per class, laid out channel-major.
func (y *YOLO) decode(output gocv.Mat, frameWidth, frameHeight int) ([]image.Rectangle, []float32) {
	dims := output.Size()
	if len(dims) != 3 || dims[1] < 4+cocoClassCount {
		return nil, nil
	}
	anchors := dims[2]

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, nil
	}

	scaleX := float32(frameWidth) / float32(y.inputSize)
	scaleY := float32(frameHeight) / float32(y.inputSize)

	var boxes []image.Rectangle
	var scores []float32
	for i := 0; i < anchors; i++ {
		classID := -1
		best := float32(0)
		for c := 0; c < cocoClassCount; c++ {
			score := data[(4+c)*anchors+i]
			if score > best {
				best = score
				classID = c
			}
		}
		if best < y.confThreshold {
			continue
		}
		if _, ok := vehicleClasses[classID]; !ok {
			continue
		}

		cx := data[i] * scaleX
		cy := data[anchors+i] * scaleY
		w := data[2*anchors+i] * scaleX
		h := data[3*anchors+i] * scaleY
		boxes = append(boxes, image.Rect(
			clamp(int(cx-w/2), 0, frameWidth),
			clamp(int(cy-h/2), 0, frameHeight),
			clamp(int(cx+w/2), 0, frameWidth),
			clamp(int(cy+h/2), 0, frameHeight),
		))
		scores = append(scores, best)
	}
	return boxes, scores
}

// Close releases the loaded network.
func (y *YOLO) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.loaded {
		return y.net.Close()
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
