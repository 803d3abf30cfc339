package sprite

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"turntable/internal/config"
	"turntable/internal/services"
)

// Layout is the sprite grid geometry. Frames tile row-major in index order,
// so a viewer addresses frame i at row i/Columns, column i%Columns.
type Layout struct {
	Columns     int `json:"columns"`
	Rows        int `json:"rows"`
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`
}

// GridLayout computes the near-square grid for frameCount frames.
func GridLayout(frameCount, frameWidth, frameHeight int) Layout {
	columns := int(math.Ceil(math.Sqrt(float64(frameCount))))
	if columns < 1 {
		columns = 1
	}
	rows := (frameCount + columns - 1) / columns
	if rows < 1 {
		rows = 1
	}
	return Layout{Columns: columns, Rows: rows, FrameWidth: frameWidth, FrameHeight: frameHeight}
}

// Position returns the grid cell for a frame index.
func (l Layout) Position(index int) (row, col int) {
	return index / l.Columns, index % l.Columns
}

// Cell returns the pixel rectangle of a frame index on the sheet.
func (l Layout) Cell(index int) image.Rectangle {
	row, col := l.Position(index)
	x := col * l.FrameWidth
	y := row * l.FrameHeight
	return image.Rect(x, y, x+l.FrameWidth, y+l.FrameHeight)
}

// Builder assembles processed frames into a sprite sheet and encodes
// artifacts: WebP for opaque sequences, PNG where alpha must survive.
type Builder struct {
	webpQuality int
}

func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{webpQuality: cfg.Pipeline.WebPQuality}
}

// Compose tiles the frames in index order onto one sheet. All frames must
// share dimensions and type; trailing empty cells stay blank.
func (b *Builder) Compose(frames []gocv.Mat) (gocv.Mat, Layout, error) {
	if len(frames) == 0 {
		return gocv.Mat{}, Layout{}, services.Wrap(services.ErrBuild, "sprite", "compose", "no frames to compose", nil)
	}
	width := frames[0].Cols()
	height := frames[0].Rows()
	layout := GridLayout(len(frames), width, height)

	sheet := gocv.NewMatWithSize(layout.Rows*height, layout.Columns*width, frames[0].Type())
	for i, frame := range frames {
		if frame.Cols() != width || frame.Rows() != height {
			sheet.Close()
			return gocv.Mat{}, Layout{}, services.Wrap(services.ErrBuild, "sprite", "compose",
				fmt.Sprintf("frame %d is %dx%d, expected %dx%d", i, frame.Cols(), frame.Rows(), width, height), nil)
		}
		cell := sheet.Region(layout.Cell(i))
		frame.CopyTo(&cell)
		cell.Close()
	}
	return sheet, layout, nil
}

// Encode serializes an image for storage. Transparent output must keep
// lossless alpha, so it goes to PNG; opaque output goes to size-optimized
// WebP at the configured quality.
func (b *Builder) Encode(img gocv.Mat, transparent bool) ([]byte, string, error) {
	ext := ".webp"
	params := []int{gocv.IMWriteWebpQuality, b.webpQuality}
	if transparent {
		ext = ".png"
		params = []int{gocv.IMWritePngCompression, 6}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.FileExt(ext), img, params)
	if err != nil {
		return nil, "", services.Wrap(services.ErrBuild, "sprite", "encode", "image encoding failed", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, ext, nil
}
