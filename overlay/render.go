package overlay

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"

	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/utils"
)

// Render rasterises the layer tree under root. Layers with a content gravity are filled with
// preview, when one is given; box layers are drawn on top in tree order. Boxes with no area are
// skipped.
func Render(root *Layer, preview image.Image) (image.Image, error) {
	frame := root.Frame()
	width, height := int(math.Ceil(frame.Width)), int(math.Ceil(frame.Height))
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("cannot render layer %q with frame %v", root.Name(), frame)
	}
	dc := gg.NewContext(width, height)
	renderLayer(dc, root, 0, 0, preview, true)
	return dc.Image(), nil
}

func renderLayer(dc *gg.Context, l *Layer, originX, originY float64, preview image.Image, isRoot bool) {
	frame := l.Frame()
	if !isRoot {
		originX += frame.X
		originY += frame.Y
	}
	if preview != nil && l.Gravity() == GravityResizeAspectFill && !frame.IsEmpty() {
		filled := imaging.Fill(preview, int(math.Ceil(frame.Width)), int(math.Ceil(frame.Height)), imaging.Center, imaging.Linear)
		dc.DrawImage(filled, int(originX), int(originY))
	}
	for _, box := range l.Boxes() {
		if box.Frame.IsEmpty() {
			continue
		}
		drawBox(dc, box, originX, originY)
	}
	for _, sub := range l.Sublayers() {
		renderLayer(dc, sub, originX, originY, preview, false)
	}
}

func drawBox(dc *gg.Context, box Box, originX, originY float64) {
	r := box.Frame
	x, y := originX+r.X, originY+r.Y
	if box.Style.BorderColor != nil && box.Style.BorderWidth > 0 {
		DrawRectangleEmpty(dc, geometry.NewRect(x, y, r.Width, r.Height), box.Style, box.Style.BorderWidth)
	}
	if box.Label.Text == "" || box.Style.LabelColor == nil {
		return
	}
	dc.Push()
	defer dc.Pop()
	cx, cy := x+r.Width/2, y+r.Height/2
	if box.Label.RotationDegrees != 0 {
		dc.RotateAbout(utils.DegToRad(box.Label.RotationDegrees), cx, cy)
	}
	DrawString(dc, box.Label.Text, cx, y, box.Style, box.Label.FontSize)
}

// DrawString writes a string centered horizontally on x with its top at y.
func DrawString(dc *gg.Context, text string, x, y float64, style Style, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(style.LabelColor)
	dc.DrawStringAnchored(text, x, y, 0.5, 1)
}

// DrawRectangleEmpty strokes the outline of r with rounded corners.
func DrawRectangleEmpty(dc *gg.Context, r geometry.Rect, style Style, width float64) {
	dc.SetColor(style.BorderColor)
	dc.SetLineWidth(width)
	if style.CornerRadius > 0 {
		dc.DrawRoundedRectangle(r.X, r.Y, r.Width, r.Height, style.CornerRadius)
	} else {
		dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
	}
	dc.Stroke()
}
