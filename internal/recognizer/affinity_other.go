//go:build !linux

package recognizer

import (
	"log/slog"
	"runtime"
	"sync"
)

var affinityWarnOnce sync.Once

// pinToCPU locks the calling goroutine to its OS thread. Thread affinity is
// only applied on Linux; elsewhere the request is logged once and ignored.
func pinToCPU(cpu int) error {
	if cpu < 0 {
		return nil
	}
	runtime.LockOSThread()
	affinityWarnOnce.Do(func() {
		slog.Warn("recognizer: cpu pinning is not supported on this platform", "os", runtime.GOOS)
	})
	return nil
}
