package drivers

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/logger"
)

const (
	largestFileLimit = 10
	walkSampleLimit  = 10000
)

var errWalkSampleFull = errors.New("walk sample full")

type fileCollector struct {
	cfg    config.FileProbeConfig
	logger logger.Logger
}

// NewFileCollector returns a collector that walks the file cache directory
// configured in cfg.Path.
func NewFileCollector(cfg config.FileProbeConfig, log logger.Logger) Collector {
	return &fileCollector{
		cfg:    cfg,
		logger: log.WithPrefix("[file]"),
	}
}

func (c *fileCollector) Name() string {
	return "file"
}

func (c *fileCollector) Supports(driver string) bool {
	return driver == "file"
}

func (c *fileCollector) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Driver: "file"}

	files, total, err := c.walk(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		c.logger.Warn("stats probe failed: %s", err)
		stats.Error = err.Error()
		return stats, nil
	}
	stats.Keys = int64(len(files))
	stats.DiskUsed = total

	if c.cfg.AnalyzeFileSizes {
		buckets := make(map[string]int)
		for _, f := range files {
			buckets[sizeBucket(f.Size)]++
		}
		stats.SizeBuckets = buckets

		sort.Slice(files, func(i, j int) bool { return files[i].Size > files[j].Size })
		if len(files) > largestFileLimit {
			files = files[:largestFileLimit]
		}
		stats.LargestFiles = files
	}

	if c.cfg.TrackDiskUsage {
		if usage, err := disk.UsageWithContext(ctx, c.cfg.Path); err == nil {
			stats.DiskFree = int64(usage.Free)
		} else if ctx.Err() != nil {
			return stats, ctx.Err()
		} else {
			c.logger.Warn("disk usage probe failed: %s", err)
		}
	}
	return stats, nil
}

func (c *fileCollector) MemoryUsage(ctx context.Context) (int64, error) {
	_, total, err := c.walk(ctx)
	return total, err
}

// EvictionStats is a no-op for the file backend, which never evicts.
func (c *fileCollector) EvictionStats(context.Context) (int64, int64, error) {
	return 0, 0, nil
}

// walk visits at most walkSampleLimit files so a huge cache directory
// cannot stall a probe.
func (c *fileCollector) walk(ctx context.Context) ([]FileInfo, int64, error) {
	var files []FileInfo
	var total int64
	err := filepath.WalkDir(c.cfg.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if len(files) >= walkSampleLimit {
			return errWalkSampleFull
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Path: path, Size: info.Size()})
		total += info.Size()
		return nil
	})
	if err != nil && !errors.Is(err, errWalkSampleFull) {
		return nil, 0, err
	}
	return files, total, nil
}

func sizeBucket(size int64) string {
	switch {
	case size <= 1024:
		return "0-1KB"
	case size <= 10*1024:
		return "1-10KB"
	case size <= 100*1024:
		return "10-100KB"
	case size <= 1024*1024:
		return "100KB-1MB"
	default:
		return "1MB+"
	}
}
