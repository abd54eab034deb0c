package queue

import (
	"errors"
	"runtime"
)

// ErrMemoryLimit is returned by the run loops when heap usage crosses Options.MemoryLimit
var ErrMemoryLimit = errors.New("memory limit exceeded")

// readMemory returns the current heap allocation in bytes
var readMemory = func() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc
}

func memoryExceeded(limit uint64) (uint64, bool) {
	if limit == 0 {
		return 0, false
	}
	used := readMemory()
	return used, used > limit
}
