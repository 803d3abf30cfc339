package normalize

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/queue"
	"turntable/internal/services"
)

// Normalizer turns a raw selected frame into a fixed-size canvas with the
// subject centered and exposure equalized across the sequence.
type Normalizer struct {
	canvasWidth   int
	canvasHeight  int
	paddingFactor float64
}

func New(cfg *config.Config) *Normalizer {
	return &Normalizer{
		canvasWidth:   cfg.Pipeline.CanvasWidth,
		canvasHeight:  cfg.Pipeline.CanvasHeight,
		paddingFactor: cfg.Pipeline.PaddingFactor,
	}
}

// Crop describes the padded square window around the subject: the part that
// overlaps the source frame plus the replicated border needed where the
// window runs off the edge.
type Crop struct {
	Window image.Rectangle
	Top    int
	Bottom int
	Left   int
	Right  int
}

// PlanCrop computes the square crop for a bounding box: centered on the box
// centroid, sized to the larger box side times the padding factor. Windows
// that exceed the frame keep their size and mark the overhang for
// edge-replication. A degenerate box falls back to a centered square.
func PlanCrop(box queue.BoundingBox, frameWidth, frameHeight int, paddingFactor float64) Crop {
	side := int(float64(maxInt(box.Width(), box.Height())) * paddingFactor)
	cx := (box.X1 + box.X2) / 2
	cy := (box.Y1 + box.Y2) / 2
	if side <= 0 {
		side = minInt(frameWidth, frameHeight)
		cx = frameWidth / 2
		cy = frameHeight / 2
	}

	x1 := cx - side/2
	y1 := cy - side/2
	x2 := x1 + side
	y2 := y1 + side

	crop := Crop{
		Window: image.Rect(
			maxInt(x1, 0),
			maxInt(y1, 0),
			minInt(x2, frameWidth),
			minInt(y2, frameHeight),
		),
	}
	if x1 < 0 {
		crop.Left = -x1
	}
	if y1 < 0 {
		crop.Top = -y1
	}
	if x2 > frameWidth {
		crop.Right = x2 - frameWidth
	}
	if y2 > frameHeight {
		crop.Bottom = y2 - frameHeight
	}
	return crop
}

// Apply crops, pads, resizes, and exposure-normalizes one frame. The caller
// owns the returned Mat.
func (n *Normalizer) Apply(frame gocv.Mat, box queue.BoundingBox) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, services.Wrap(services.ErrNormalization, "normalize", "input", "empty frame", nil)
	}

	crop := PlanCrop(box, frame.Cols(), frame.Rows(), n.paddingFactor)
	if crop.Window.Dx() <= 0 || crop.Window.Dy() <= 0 {
		return gocv.Mat{}, services.Wrap(services.ErrNormalization, "normalize", "crop", "crop window does not overlap frame", nil)
	}

	region := frame.Region(crop.Window)
	defer region.Close()

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(region, &padded, crop.Top, crop.Bottom, crop.Left, crop.Right,
		gocv.BorderReplicate, color.RGBA{})

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(padded, &resized, image.Pt(n.canvasWidth, n.canvasHeight), 0, 0, gocv.InterpolationLanczos4)

	out := gocv.NewMat()
	if err := equalizeExposure(resized, &out); err != nil {
		out.Close()
		return gocv.Mat{}, err
	}
	return out, nil
}

// equalizeExposure applies CLAHE to the lightness channel in LAB space so
// outdoor lighting shifts between frames do not show as flicker in the spin.
func equalizeExposure(src gocv.Mat, dst *gocv.Mat) error {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(src, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	if len(channels) != 3 {
		for _, ch := range channels {
			ch.Close()
		}
		return services.Wrap(services.ErrNormalization, "normalize", "equalize", "unexpected channel count", nil)
	}
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	clahe.Apply(channels[0], &channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)
	gocv.CvtColor(merged, dst, gocv.ColorLabToBGR)
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
