package object

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// threadCPUTime returns this goroutine's OS thread's cumulative user+system
// CPU time so far, via getrusage(RUSAGE_THREAD) (spec §4.4 "entry wall-clock
// and CPU time"). Go has no per-goroutine CPU clock — only the OS thread a
// goroutine happens to be running on has one — so the reading is only
// meaningful bracketed by runtime.LockOSThread/UnlockOSThread, which pins
// the calling goroutine to one OS thread for the window being measured;
// invoke does exactly that around a dispatched method body.
func threadCPUTime() (time.Duration, bool) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_THREAD, &ru); err != nil {
		return 0, false
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()), true
}

// measureCPU runs fn with its goroutine pinned to the current OS thread and
// returns the CPU time (user+system) it consumed, best-effort: ok is false
// on platforms or kernels where RUSAGE_THREAD isn't available, in which
// case the caller records a zero Sample.CPU rather than a misleading one.
func measureCPU(fn func()) (time.Duration, bool) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	start, ok := threadCPUTime()
	if !ok {
		fn()
		return 0, false
	}
	fn()
	end, ok := threadCPUTime()
	if !ok {
		return 0, false
	}
	return end - start, true
}
