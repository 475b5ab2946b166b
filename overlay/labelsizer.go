package overlay

import (
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"go.viam.com/overlay/geometry"
)

// Label font size bounds used when none are configured.
const (
	DefaultMaxFontSize = 20.0
	DefaultMinFontSize = 1.0
)

// A Measurer reports the rendered extent of text at a font size.
type Measurer interface {
	Measure(text string, fontSize float64) geometry.Size
}

// MeasureFunc adapts a function to the Measurer interface.
type MeasureFunc func(text string, fontSize float64) geometry.Size

// Measure calls f.
func (f MeasureFunc) Measure(text string, fontSize float64) geometry.Size {
	return f(text, fontSize)
}

// FitFontSize finds the largest font size, stepping down by one point from maxFontSize, at which
// text fits within box in both dimensions. If nothing down to minFontSize fits, minFontSize is
// returned even though the text overflows.
func FitFontSize(m Measurer, text string, box geometry.Size, maxFontSize, minFontSize float64) float64 {
	for fontSize := maxFontSize; fontSize >= minFontSize; fontSize-- {
		extent := m.Measure(text, fontSize)
		if extent.Width <= box.Width && extent.Height <= box.Height {
			return fontSize
		}
	}
	return minFontSize
}

// FontMeasurer measures text set in a truetype font. Width is the advance of the string and
// height is the line height of the face. Faces are cached per size; a FontMeasurer is safe for
// concurrent use.
type FontMeasurer struct {
	font *truetype.Font

	mu    sync.Mutex
	faces map[float64]font.Face
}

// NewFontMeasurer returns a measurer for the given font, or the default overlay font if f is nil.
func NewFontMeasurer(f *truetype.Font) *FontMeasurer {
	if f == nil {
		f = Font()
	}
	return &FontMeasurer{font: f, faces: map[float64]font.Face{}}
}

// Measure returns the extent of text at fontSize points (72 DPI, so points are pixels).
func (fm *FontMeasurer) Measure(text string, fontSize float64) geometry.Size {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	face := fm.faceLocked(fontSize)
	advance := font.MeasureString(face, text)
	return geometry.Size{
		Width:  float64(advance) / 64,
		Height: float64(face.Metrics().Height) / 64,
	}
}

func (fm *FontMeasurer) faceLocked(fontSize float64) font.Face {
	face, ok := fm.faces[fontSize]
	if !ok {
		face = truetype.NewFace(fm.font, &truetype.Options{Size: fontSize})
		fm.faces[fontSize] = face
	}
	return face
}
