package backdrop

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/bep/imagemeta"
	"github.com/spf13/afero"
)

// exifTimeLayout is how EXIF writes DateTimeOriginal.
const exifTimeLayout = "2006:01:02 15:04:05"

// CaptureInfo is the credit and capture data embedded in an accepted file.
// Spotlight assets usually carry at most a copyright line.
type CaptureInfo struct {
	Artist      string
	Copyright   string
	Description string
	Make        string
	Model       string
	Taken       string // raw DateTimeOriginal, e.g. "2019:07:13 08:30:00"
}

type captureField func(*CaptureInfo) *string

var (
	artistField      captureField = func(c *CaptureInfo) *string { return &c.Artist }
	copyrightField   captureField = func(c *CaptureInfo) *string { return &c.Copyright }
	descriptionField captureField = func(c *CaptureInfo) *string { return &c.Description }
)

// captureTags routes each decoded tag to the field it fills. Sources are
// decoded EXIF first, and a field keeps the first non-empty value, so EXIF
// wins over IPTC and XMP.
var captureTags = map[imagemeta.Source]map[string]captureField{
	imagemeta.EXIF: {
		"Artist":           artistField,
		"Copyright":        copyrightField,
		"ImageDescription": descriptionField,
		"Make":             func(c *CaptureInfo) *string { return &c.Make },
		"Model":            func(c *CaptureInfo) *string { return &c.Model },
		"DateTimeOriginal": func(c *CaptureInfo) *string { return &c.Taken },
	},
	imagemeta.IPTC: {
		"Byline":          artistField,
		"CopyrightNotice": copyrightField,
		"Caption":         descriptionField,
	},
	imagemeta.XMP: {
		"Creator":     artistField,
		"Rights":      copyrightField,
		"Description": descriptionField,
	},
}

// ReadCaptureInfo decodes the metadata of the file at path without loading
// the pixel data. Like ExtractCaptureInfo it returns nil when nothing useful
// is found.
func ReadCaptureInfo(fsys afero.Fs, path string) *CaptureInfo {
	f, err := fsys.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	return decodeCaptureInfo(f)
}

// ExtractCaptureInfo decodes metadata from raw image bytes. Empty or
// unparsable input, or input without any of the wanted tags, yields nil.
func ExtractCaptureInfo(data []byte) *CaptureInfo {
	if len(data) == 0 {
		return nil
	}
	return decodeCaptureInfo(bytes.NewReader(data))
}

type metadataReader interface {
	io.ReadSeeker
	io.ReaderAt
}

func decodeCaptureInfo(r metadataReader) *CaptureInfo {
	var info CaptureInfo
	filled := 0

	_, err := imagemeta.Decode(imagemeta.Options{
		R:       r,
		Sources: imagemeta.EXIF | imagemeta.IPTC | imagemeta.XMP,
		ShouldHandleTag: func(ti imagemeta.TagInfo) bool {
			_, ok := captureTags[ti.Source][ti.Tag]
			return ok
		},
		HandleTag: func(ti imagemeta.TagInfo) error {
			if applyTag(&info, ti) {
				filled++
			}
			return nil
		},
	})
	if err != nil || filled == 0 {
		return nil
	}
	return &info
}

// applyTag stores the value of ti if it is routed and the target field is
// still blank. It reports whether ti carried a usable value.
func applyTag(info *CaptureInfo, ti imagemeta.TagInfo) bool {
	field, ok := captureTags[ti.Source][ti.Tag]
	if !ok {
		return false
	}
	s := tagValueString(ti.Value)
	if s == "" {
		return false
	}
	if dst := field(info); *dst == "" {
		*dst = s
	}
	return true
}

// tagValueString flattens a decoded tag value. XMP alt and seq lists yield
// their first entry.
func tagValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(exifTimeLayout)
	case fmt.Stringer:
		return val.String()
	case []string:
		if len(val) == 0 {
			return ""
		}
		return val[0]
	case []any:
		if len(val) == 0 {
			return ""
		}
		s, _ := val[0].(string)
		return s
	}
	return ""
}
