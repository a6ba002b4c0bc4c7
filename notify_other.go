//go:build !windows

package backdrop

// DesktopNotifier returns the native wallpaper setter of the platform, or
// nil where there is none; use a CommandNotifier there.
func DesktopNotifier() Notifier {
	return nil
}
