package viewer

import (
	"bytes"
	_ "embed"
	"html/template"

	"turntable/internal/services"
	"turntable/internal/sprite"
)

//go:embed viewer.html.tmpl
var viewerTemplate string

var tmpl = template.Must(template.New("viewer").Parse(viewerTemplate))

// Params drives one rendered viewer page.
type Params struct {
	TotalFrames int
	Columns     int
	FrameWidth  int
	FrameHeight int
	Transparent bool
	SpriteFile  string
}

// SpriteSheetWidth is the full sheet width used for CSS background sizing.
func (p Params) SpriteSheetWidth() int { return p.Columns * p.FrameWidth }

// FromLayout fills the grid geometry from a sprite layout.
func FromLayout(layout sprite.Layout, totalFrames int, transparent bool, spriteFile string) Params {
	return Params{
		TotalFrames: totalFrames,
		Columns:     layout.Columns,
		FrameWidth:  layout.FrameWidth,
		FrameHeight: layout.FrameHeight,
		Transparent: transparent,
		SpriteFile:  spriteFile,
	}
}

// Render produces the self-contained viewer document. The page maps
// horizontal pointer drag to frame index with wrap-around at the 0/N
// boundary and offers auto-rotate; transparent sequences additionally get a
// background selector.
func Render(params Params) ([]byte, error) {
	if params.TotalFrames <= 0 || params.Columns <= 0 {
		return nil, services.Wrap(services.ErrBuild, "viewer", "render", "viewer needs at least one frame and column", nil)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, services.Wrap(services.ErrBuild, "viewer", "render", "template execution failed", err)
	}
	return buf.Bytes(), nil
}
