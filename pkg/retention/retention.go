// Package retention implements the log and cost-row retention sweeper:
// age-based gzip-or-delete of dialog log files, a size-budget pass, and a
// DB-side delete of aged cost rows.
package retention

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/coststore"
)

// LogResult is returned by SweepLogs.
type LogResult struct {
	Compressed int     `json:"compressed"`
	Deleted    int     `json:"deleted"`
	FreedMB    float64 `json:"freed_mb"`
}

// SweepLogs compresses or deletes dialog log files older than maxAgeDays,
// then deletes the oldest remaining uncompressed files until their total
// size is at most maxSizeMB (0 disables the size pass). The size pass
// neither counts nor deletes .gz archives.
func SweepLogs(logDir string, maxAgeDays int, maxSizeMB int, compress bool) (LogResult, error) {
	var res LogResult
	var freedBytes int64

	entries, err := jsonlFiles(logDir)
	if err != nil {
		return res, err
	}
	sortByModTime(entries)

	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	var remaining []fileStat
	for _, e := range entries {
		if strings.HasSuffix(e.path, ".gz") {
			remaining = append(remaining, e)
			continue
		}
		if e.modTime.After(cutoff) || e.modTime.Equal(cutoff) {
			remaining = append(remaining, e)
			continue
		}
		if compress {
			freed, err := gzipAndRemove(e.path)
			if err == nil {
				res.Compressed++
				freedBytes += freed
				continue
			}
		} else {
			if err := os.Remove(e.path); err == nil {
				res.Deleted++
				freedBytes += e.size
				continue
			}
		}
		remaining = append(remaining, e)
	}

	if maxSizeMB > 0 {
		var active []fileStat
		for _, e := range remaining {
			if !strings.HasSuffix(e.path, ".gz") {
				active = append(active, e)
			}
		}
		sortByModTime(active)
		var total int64
		for _, e := range active {
			total += e.size
		}
		limit := int64(maxSizeMB) * 1024 * 1024
		for _, e := range active {
			if total <= limit {
				break
			}
			if err := os.Remove(e.path); err == nil {
				freedBytes += e.size
				total -= e.size
				res.Deleted++
			}
		}
	}

	res.FreedMB = roundMB(freedBytes)
	return res, nil
}

type fileStat struct {
	path    string
	modTime time.Time
	size    int64
}

func jsonlFiles(logDir string) ([]fileStat, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "*.jsonl*"))
	if err != nil {
		return nil, err
	}
	var out []fileStat
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		out = append(out, fileStat{path: m, modTime: info.ModTime().UTC(), size: info.Size()})
	}
	return out, nil
}

func sortByModTime(files []fileStat) {
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
}

func gzipAndRemove(path string) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}
	origSize := info.Size()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return 0, err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return 0, err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if err := os.Remove(path); err != nil {
		return 0, err
	}
	gzInfo, err := os.Stat(path + ".gz")
	if err != nil {
		return 0, err
	}
	return origSize - gzInfo.Size(), nil
}

func roundMB(bytes int64) float64 {
	mb := float64(bytes) / (1024 * 1024)
	return float64(int64(mb*100)) / 100
}

// DBResult is returned by SweepCostRows.
type DBResult struct {
	Deleted int `json:"deleted"`
}

// SweepCostRows deletes cost rows older than maxAgeDays.
func SweepCostRows(ctx context.Context, store *coststore.Store, maxAgeDays int) (DBResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	n, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return DBResult{}, err
	}
	return DBResult{Deleted: n}, nil
}
