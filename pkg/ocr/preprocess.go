package ocr

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	minOCRHeight   = 900
	ocrHeight      = 1300
	thresholdBlock = 15
	thresholdBias  = 7
)

// Preprocess prepares a photo of a receipt for recognition: grayscale,
// contrast and sharpening, upscaling of small images, then a mean adaptive
// threshold.
func Preprocess(img image.Image) *image.NRGBA {
	gray := imaging.Grayscale(img)
	gray = imaging.AdjustContrast(gray, 15)
	gray = imaging.Sharpen(gray, 0.7)
	if gray.Bounds().Dy() < minOCRHeight {
		gray = imaging.Resize(gray, 0, ocrHeight, imaging.Lanczos)
	}
	return adaptiveThreshold(gray, thresholdBlock, thresholdBias)
}

// adaptiveThreshold blackens pixels darker than the mean of their window
// minus bias. img must be grayscale with its origin at 0,0.
func adaptiveThreshold(img *image.NRGBA, window, bias int) *image.NRGBA {
	if window < 3 {
		window = 3
	}
	if window%2 == 0 {
		window++
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})
	if w == 0 || h == 0 {
		return out
	}

	// summed-area table over the red channel, which equals the gray level
	sums := make([]int, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := 0
		for x := 0; x < w; x++ {
			row += int(img.Pix[y*img.Stride+x*4])
			sums[(y+1)*(w+1)+x+1] = sums[y*(w+1)+x+1] + row
		}
	}

	half := window / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half, w-1)
			sum := sums[(y1+1)*(w+1)+x1+1] - sums[y0*(w+1)+x1+1] - sums[(y1+1)*(w+1)+x0] + sums[y0*(w+1)+x0]
			mean := sum / ((x1 - x0 + 1) * (y1 - y0 + 1))
			if int(img.Pix[y*img.Stride+x*4]) < mean-bias {
				i := y*out.Stride + x*4
				out.Pix[i], out.Pix[i+1], out.Pix[i+2] = 0, 0, 0
			}
		}
	}
	return out
}

// Thumbnail writes a copy of src scaled to width pixels wide. The format
// follows dst's extension.
func Thumbnail(src, dst string, width int) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	return imaging.Save(img, dst)
}
