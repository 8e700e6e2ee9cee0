// Copyright 2026 Weaver Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/crim-ca/weaver-sub003/internal/store"
)

// statistics aggregates resource usage at the end of a run: RSS growth over
// the pre-execution baseline and per-output byte sizes.
func (r *jobRun) statistics(sizes map[string]int64) *store.Statistics {
	stats := &store.Statistics{OutputsBytes: sizes}
	for _, size := range sizes {
		stats.TotalBytes += size
	}
	if rss := readRSS(); rss > r.rssStart {
		stats.RSSBytes = rss - r.rssStart
	}
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		stats.CPUSeconds = float64(ru.Utime.Sec+ru.Stime.Sec) +
			float64(ru.Utime.Usec+ru.Stime.Usec)/1e6
	}
	return stats
}

// readRSS returns the resident set size in bytes, 0 when unavailable.
func readRSS() int64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
