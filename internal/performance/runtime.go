package performance

import (
	"fmt"
	"runtime"
)

// RuntimeStats is a small view of process memory for the periodic report.
type RuntimeStats struct {
	HeapAlloc  uint64 `json:"heap_alloc" yaml:"heap_alloc"`
	HeapInuse  uint64 `json:"heap_inuse" yaml:"heap_inuse"`
	Sys        uint64 `json:"sys" yaml:"sys"`
	NumGC      uint32 `json:"num_gc" yaml:"num_gc"`
	Goroutines int    `json:"goroutines" yaml:"goroutines"`
}

// ReadRuntimeStats samples the Go runtime.
func ReadRuntimeStats() RuntimeStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeStats{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// FormatBytes formats bytes with binary units.
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
