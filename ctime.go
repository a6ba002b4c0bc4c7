package backdrop

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// DateLayout is the calendar format of destination base names.
const DateLayout = "20060102"

// DateStamp formats t as an 8-digit local calendar date.
func DateStamp(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// creationTime returns when the file at path was created. Birth times are
// only read from the OS filesystem; everywhere else, and when the platform
// does not record one, the modification time is used.
func creationTime(fsys afero.Fs, path string, info os.FileInfo) time.Time {
	if _, ok := fsys.(*afero.OsFs); ok {
		if t, ok := birthTime(path, info); ok {
			return t
		}
	}
	return info.ModTime()
}
