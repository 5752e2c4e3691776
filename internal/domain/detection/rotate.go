package detection

import (
	"image"
	"image/draw"
)

// quarterTurns converts a capture rotation into the clockwise quarter turns
// that undo it.
func quarterTurns(rotation int) (int, error) {
	if rotation%90 != 0 {
		return 0, ErrInvalidRotation
	}
	return ((rotation/90)%4 + 4) % 4, nil
}

// Rotate turns img clockwise by turns quarter turns.
func Rotate(img image.Image, turns int) *image.RGBA {
	b := img.Bounds()
	src := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(src, src.Bounds(), img, b.Min, draw.Src)

	for i := 0; i < ((turns%4)+4)%4; i++ {
		src = rotateCW(src)
	}
	return src
}

func rotateCW(src *image.RGBA) *image.RGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.SetRGBA(h-1-y, x, src.RGBAAt(x, y))
		}
	}
	return dst
}
