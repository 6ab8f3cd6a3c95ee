package source

import (
	"fmt"
	"image"
)

// YUYV converts a packed 4:2:2 frame into a YCbCr image. The driver buffer
// is copied, never retained.
func YUYV(frame []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid YUYV geometry %dx%d", width, height)
	}
	if len(frame) < width*height*2 {
		return nil, fmt.Errorf("short YUYV frame: %d bytes for %dx%d", len(frame), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := frame[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			c := y*img.CStride + x/2
			img.Cb[c] = row[i+1]
			img.Cr[c] = row[i+3]
		}
	}
	return img, nil
}

// RGBA copies a tightly or row-padded RGBA buffer into a new image.
func RGBA(data []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid RGBA geometry %dx%d", width, height)
	}
	stride := len(data) / height
	if stride < width*4 {
		return nil, fmt.Errorf("short RGBA frame: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+width*4], data[y*stride:y*stride+width*4])
	}
	return img, nil
}
