//go:build !linux && !darwin && !windows

package backdrop

import (
	"os"
	"time"
)

func birthTime(string, os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
