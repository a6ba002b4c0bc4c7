package backdrop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestDateStamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Time
		want string
	}{
		{in: time.Date(2019, 7, 13, 12, 0, 0, 0, time.Local), want: "20190713"},
		{in: time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local), want: "20240102"},
		{in: time.Date(1999, 12, 31, 23, 59, 59, 0, time.Local), want: "19991231"},
	}
	for _, tc := range tests {
		if got := DateStamp(tc.in); got != tc.want {
			t.Errorf("DateStamp(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCreationTime_MemFsUsesModTime(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/a", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	when := time.Date(2019, 7, 13, 8, 30, 0, 0, time.Local)
	if err := fsys.Chtimes("/a", when, when); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	info, err := fsys.Stat("/a")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got := creationTime(fsys, "/a", info); !got.Equal(when) {
		t.Errorf("creationTime = %v, want %v", got, when)
	}
}

func TestCreationTime_OsFsIsRecent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "asset")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	got := creationTime(afero.NewOsFs(), path, info)
	if since := time.Since(got); since < -time.Minute || since > time.Hour {
		t.Errorf("creationTime = %v, not close to now", got)
	}
}
