package backdrop

import (
	"fmt"
	"image"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// decodeLimit caps how much of a file DecodeConfig may read. The SOF0
// segment of a Spotlight asset sits in the first few hundred bytes.
const decodeLimit = 256 * 1024

// imageDimensions decodes only the header of the image at path.
func imageDimensions(fsys afero.Fs, path string) (image.Config, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return image.Config{}, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(io.LimitReader(f, decodeLimit))
	if err != nil {
		return image.Config{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}

// wideEnough reports whether the image at path is at least minWidth pixels
// wide. Files whose header cannot be decoded pass: they already matched the
// signature and orientation window.
func wideEnough(fsys afero.Fs, path string, minWidth int) bool {
	if minWidth <= 0 {
		return true
	}
	imgCfg, err := imageDimensions(fsys, path)
	if err != nil {
		slog.Debug("backdrop: dimensions unknown", "path", path, "error", err.Error())
		return true
	}
	if imgCfg.Width < minWidth {
		slog.Debug("backdrop: too narrow", "path", path, "width", imgCfg.Width, "min", minWidth)
		return false
	}
	return true
}
