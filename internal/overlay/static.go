package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// renderStatic synthesizes a transparent still image in-process: background
// bar, accent line, and the overlay text. It is the guaranteed fallback when
// the animated renderer is unavailable, so it touches no external binaries
// and fails only when the file cannot be written.
func (r *Renderer) renderStatic(text string) (string, error) {
	width := r.frameWidth()
	height := r.barHeight()

	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	barAlpha := uint8(140)
	if r.Style.BarOpacity > 0 && r.Style.BarOpacity <= 1 {
		barAlpha = uint8(r.Style.BarOpacity * 255)
	}
	bar := color.NRGBA{A: barAlpha}
	draw.Draw(img, img.Bounds(), image.NewUniform(bar), image.Point{}, draw.Src)

	accentHeight := height / 12
	if accentHeight < 4 {
		accentHeight = 4
	}
	accent := color.NRGBA{R: 255, G: 255, B: 255, A: 220}
	accentRect := image.Rect(0, height-accentHeight, width, height)
	draw.Draw(img, accentRect, image.NewUniform(accent), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(40),
			Y: fixed.I(height/2 + face.Metrics().Ascent.Ceil()/2),
		},
	}
	drawer.DrawString(text)

	outPath := r.artifactPath(uuid.NewString(), ".png")
	f, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create static overlay: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("encode static overlay: %w", err)
	}
	return outPath, nil
}
