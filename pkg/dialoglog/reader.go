package dialoglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Filter selects which dialog entries Read returns.
type Filter struct {
	SessionID string
	HeinzelID string
	TaskID    string
	EntryType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

const maxReadLimit = 1000

// Read scans the current log file and its numbered rotations (newest file
// first, newest line first within a file), returning entries that match
// every set field of the filter. Malformed lines are skipped silently.
func Read(logDir, provider string, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > maxReadLimit {
		limit = maxReadLimit
	}

	files := candidateFiles(logDir, provider)
	var out []Entry
	for _, path := range files {
		lines, err := readLinesReversed(path)
		if err != nil {
			continue
		}
		for _, line := range lines {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				continue
			}
			if !matches(e, f) {
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func candidateFiles(logDir, provider string) []string {
	base := logDir + "/" + provider + ".jsonl"
	paths := []string{base}
	for i := 1; i <= maxBackups; i++ {
		paths = append(paths, fmt.Sprintf("%s.%d", base, i))
	}
	return paths
}

func readLinesReversed(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	reversed := make([][]byte, len(lines))
	for i, l := range lines {
		reversed[len(lines)-1-i] = l
	}
	return reversed, nil
}

func matches(e Entry, f Filter) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.HeinzelID != "" && e.HeinzelID != f.HeinzelID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.EntryType != "" && e.Type != f.EntryType {
		return false
	}
	if f.Since != nil || f.Until != nil {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return false
		}
		if f.Since != nil && ts.Before(*f.Since) {
			return false
		}
		if f.Until != nil && ts.After(*f.Until) {
			return false
		}
	}
	return true
}
