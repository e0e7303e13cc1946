//go:build !linux

package watchdog

import "runtime"

// ResidentMB approximates RSS with the memory obtained from the OS by the
// Go runtime.
func ResidentMB() (float64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Sys-ms.HeapReleased) / (1 << 20), nil
}
