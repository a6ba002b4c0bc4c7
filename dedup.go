package backdrop

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"sync"

	"github.com/corona10/goimagehash"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
)

// perceptualWidth is the width images are scaled down to before hashing.
// The dHash itself only looks at 9x8 pixels.
const perceptualWidth = 256

// nearDuplicateFilter remembers perceptual hashes of files accepted in the
// current run and flags visually identical re-encodes whose bytes (and thus
// digests) differ. It is safe for concurrent use.
type nearDuplicateFilter struct {
	threshold int

	mu     sync.Mutex
	hashes []*goimagehash.ImageHash
}

func newNearDuplicateFilter(threshold int) *nearDuplicateFilter {
	return &nearDuplicateFilter{threshold: threshold}
}

// match reports whether h is within the threshold of a remembered hash.
func (f *nearDuplicateFilter) match(h *goimagehash.ImageHash) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, known := range f.hashes {
		dist, err := h.Distance(known)
		if err == nil && dist < f.threshold {
			return true
		}
	}
	return false
}

func (f *nearDuplicateFilter) remember(h *goimagehash.ImageHash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes = append(f.hashes, h)
}

// perceptualHash decodes the image at path and returns its difference hash.
func perceptualHash(fsys afero.Fs, path string) (*goimagehash.ImageHash, error) {
	file, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return goimagehash.DifferenceHash(shrink(img))
}

// shrink scales img down to perceptualWidth, keeping the aspect ratio.
// Smaller images are returned unchanged.
func shrink(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= perceptualWidth {
		return img
	}
	h := max(1, b.Dy()*perceptualWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, perceptualWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
