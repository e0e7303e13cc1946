//go:build linux

package watchdog

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ResidentMB reads the process RSS from /proc/self/statm.
func ResidentMB() (float64, error) {
	raw, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return 0, fmt.Errorf("read statm: %w", err)
	}
	return parseStatm(string(raw), unix.Getpagesize())
}

func parseStatm(raw string, pageSize int) (float64, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm: %q", raw)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse statm rss: %w", err)
	}
	return float64(pages) * float64(pageSize) / (1 << 20), nil
}
