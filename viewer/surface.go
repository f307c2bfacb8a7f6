package viewer

import "image"

// Surface is where decoded frames end up. It owns no network state: it
// gets a bitmap, its encoded byte size, and status text, nothing more.
type Surface interface {
	Render(img image.Image, frameBytes int)
	SetStatus(status string)
}

// FitSize computes the aspect-preserving dimensions for displaying an
// imgWidth x imgHeight frame inside a boxWidth x boxHeight window. An
// image already smaller than the box keeps its native size.
func FitSize(imgWidth, imgHeight, boxWidth, boxHeight int) (int, int) {
	if imgWidth <= 0 || imgHeight <= 0 || boxWidth <= 0 || boxHeight <= 0 {
		return imgWidth, imgHeight
	}
	if imgWidth <= boxWidth && imgHeight <= boxHeight {
		return imgWidth, imgHeight
	}
	widthRatio := float64(boxWidth) / float64(imgWidth)
	heightRatio := float64(boxHeight) / float64(imgHeight)
	ratio := widthRatio
	if heightRatio < ratio {
		ratio = heightRatio
	}
	width := int(float64(imgWidth) * ratio)
	height := int(float64(imgHeight) * ratio)
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}
