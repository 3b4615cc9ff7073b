package media

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const placeholderName = "placeholder.png"

// Placeholder dimensions; 16:9 matches exercise thumbnails and video
// posters.
const (
	placeholderWidth  = 320
	placeholderHeight = 180
)

var placeholderColor = color.NRGBA{R: 0xd9, G: 0xdc, B: 0xe1, A: 0xff}

// ensurePlaceholder renders the fallback image into dir once.
func ensurePlaceholder(dir string) (string, error) {
	path := filepath.Join(dir, placeholderName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	img := imaging.New(placeholderWidth, placeholderHeight, placeholderColor)
	// Darker band across the middle so the frame reads as "missing media"
	// rather than a blank panel.
	band := imaging.New(placeholderWidth, placeholderHeight/6, color.NRGBA{R: 0xb8, G: 0xbd, B: 0xc4, A: 0xff})
	img = imaging.Paste(img, band, image.Pt(0, (placeholderHeight-placeholderHeight/6)/2))

	if err := imaging.Save(img, path); err != nil {
		return "", err
	}
	return path, nil
}
