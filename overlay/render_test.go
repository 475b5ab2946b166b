package overlay_test

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"

	"go.viam.com/overlay/geometry"
	"go.viam.com/overlay/overlay"
)

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := img.At(x, y).RGBA()
	return a
}

func TestRenderBoxes(t *testing.T) {
	root := overlay.NewLayer("detections")
	root.SetFrame(geometry.NewRect(0, 0, 100, 100))
	root.SetBoxes([]overlay.Box{
		{Frame: geometry.NewRect(10, 10, 50, 50), Style: overlay.DefaultStyle()},
		{Frame: geometry.NewRect(70, 70, 0, 0), Style: overlay.DefaultStyle()},
	})

	img, err := overlay.Render(root, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 100, 100))
	// On the left border.
	test.That(t, alphaAt(img, 10, 35), test.ShouldBeGreaterThan, 0)
	// Inside the box, with no label.
	test.That(t, alphaAt(img, 35, 35), test.ShouldEqual, 0)
	// The zero-area box is skipped.
	test.That(t, alphaAt(img, 70, 70), test.ShouldEqual, 0)
}

func TestRenderPreviewAndLabel(t *testing.T) {
	view := overlay.NewLayer("view")
	view.SetFrame(geometry.NewRect(0, 0, 80, 40))
	preview := overlay.NewLayer("preview")
	preview.SetFrame(geometry.NewRect(0, 0, 80, 40))
	preview.SetGravity(overlay.GravityResizeAspectFill)
	detections := overlay.NewLayer("detections")
	detections.SetFrame(geometry.NewRect(0, 0, 80, 40))
	test.That(t, view.AddSublayer(preview), test.ShouldBeNil)
	test.That(t, view.AddSublayer(detections), test.ShouldBeNil)

	style := overlay.DefaultStyle()
	style.LabelColor = color.NRGBA{R: 255, A: 255}
	detections.SetBoxes([]overlay.Box{{
		Frame: geometry.NewRect(0, 0, 80, 40),
		Label: overlay.Label{Text: "MMMM", FontSize: 20, RotationDegrees: 180},
		Style: style,
	}})

	frame := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for i := range frame.Pix {
		frame.Pix[i] = 255
	}
	img, err := overlay.Render(view, frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 80, 40))
	// The white preview fills the whole view.
	test.That(t, alphaAt(img, 40, 20), test.ShouldEqual, 0xffff)

	// Some label pixels are red.
	red := 0
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if r > 0xc000 && g < 0x4000 {
				red++
			}
		}
	}
	test.That(t, red, test.ShouldBeGreaterThan, 0)
}

func TestRenderEmptyRoot(t *testing.T) {
	_, err := overlay.Render(overlay.NewLayer("detections"), nil)
	test.That(t, err, test.ShouldNotBeNil)
}
