package matte

import (
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/services"
)

// Alpha values below keepThreshold after matting are treated as halo and
// dropped; minForeground is the fraction of opaque pixels below which the
// cut is considered failed.
const (
	keepThreshold = 220
	minForeground = 0.05
)

// Matter cuts the subject out of a normalized frame with GrabCut seeded by
// the known subject window, then refines the alpha edge.
type Matter struct {
	paddingFactor float64
	logger        *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Matter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matter{
		paddingFactor: cfg.Pipeline.PaddingFactor,
		logger:        logger.With(logging.String(logging.FieldComponent, "matte")),
	}
}

// Cut returns a BGRA copy of the frame with background pixels transparent.
// Errors here are per-frame: the caller falls back to the opaque frame and
// flags the record instead of failing the job.
func (m *Matter) Cut(frame gocv.Mat) (gocv.Mat, error) {
	if frame.Empty() {
		return gocv.Mat{}, services.Wrap(services.ErrMatting, "matte", "input", "empty frame", nil)
	}

	seed := seedRect(frame.Cols(), frame.Rows(), m.paddingFactor)

	mask := gocv.NewMatWithSize(frame.Rows(), frame.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	gocv.GrabCut(frame, &mask, seed, &bgdModel, &fgdModel, 5, gocv.GCInitWithRect)

	maskData, err := mask.DataPtrUint8()
	if err != nil {
		return gocv.Mat{}, services.Wrap(services.ErrMatting, "matte", "grabcut", "could not read mask", err)
	}
	alphaBytes := alphaFromMask(maskData)

	alpha, err := gocv.NewMatFromBytes(frame.Rows(), frame.Cols(), gocv.MatTypeCV8U, alphaBytes)
	if err != nil {
		return gocv.Mat{}, services.Wrap(services.ErrMatting, "matte", "grabcut", "could not build alpha channel", err)
	}
	defer alpha.Close()

	refined := refineAlpha(alpha)
	defer refined.Close()

	opaque := gocv.CountNonZero(refined)
	if float64(opaque) < minForeground*float64(frame.Rows()*frame.Cols()) {
		return gocv.Mat{}, services.Wrap(services.ErrMatting, "matte", "refine", "foreground collapsed during matting", nil)
	}

	channels := gocv.Split(frame)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	if len(channels) != 3 {
		return gocv.Mat{}, services.Wrap(services.ErrMatting, "matte", "compose", "expected BGR input", nil)
	}

	out := gocv.NewMat()
	gocv.Merge([]gocv.Mat{channels[0], channels[1], channels[2], refined}, &out)
	return out, nil
}

// seedRect is the window the subject is known to occupy on a normalized
// canvas: the normalizer padded the crop by paddingFactor, so the subject
// sits centered at 1/paddingFactor of the canvas.
func seedRect(width, height int, paddingFactor float64) image.Rectangle {
	if paddingFactor < 1 {
		paddingFactor = 1
	}
	w := int(float64(width) / paddingFactor)
	h := int(float64(height) / paddingFactor)
	x := (width - w) / 2
	y := (height - h) / 2
	// GrabCut needs a strict border of assumed background.
	if x == 0 {
		x = 1
		w = width - 2
	}
	if y == 0 {
		y = 1
		h = height - 2
	}
	return image.Rect(x, y, x+w, y+h)
}

// alphaFromMask maps GrabCut mask classes to alpha: foreground and probable
// foreground (1 and 3) become opaque.
func alphaFromMask(mask []byte) []byte {
	alpha := make([]byte, len(mask))
	for i, v := range mask {
		if v == 1 || v == 3 {
			alpha[i] = 255
		}
	}
	return alpha
}

// refineAlpha removes halo and smooths edges: hard-threshold the matte,
// erode a pixel of fringe, close small holes, then feather with a blur.
func refineAlpha(alpha gocv.Mat) gocv.Mat {
	hard := gocv.NewMat()
	defer hard.Close()
	gocv.Threshold(alpha, &hard, keepThreshold, 255, gocv.ThresholdBinary)

	kernelSmall := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer kernelSmall.Close()
	kernelMed := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernelMed.Close()

	eroded := gocv.NewMat()
	defer eroded.Close()
	gocv.Erode(hard, &eroded, kernelSmall)

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(eroded, &closed, gocv.MorphClose, kernelMed)

	feathered := gocv.NewMat()
	gocv.GaussianBlur(closed, &feathered, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
	return feathered
}
