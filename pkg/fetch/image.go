// Package fetch downloads and decodes remote images.
package fetch

import "image"

// Image is a decoded image together with the normalised URL it was fetched from.
type Image struct {
	URL    string
	Pixels image.Image
	// Size is the length of the encoded body in bytes.
	Size int
}

// Empty reports whether there is nothing worth caching or rendering.
func (i *Image) Empty() bool {
	return i == nil || i.Pixels == nil
}

// Bounds returns the pixel bounds, or an empty rectangle for an empty image.
func (i *Image) Bounds() image.Rectangle {
	if i.Empty() {
		return image.Rectangle{}
	}
	return i.Pixels.Bounds()
}
