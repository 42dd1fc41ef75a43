package corpus

import (
	"blackfuzz/internal/utils"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// LoadStats summarizes what Load found on disk.
type LoadStats struct {
	Files   int // regular files seen
	Skipped int // zero-length files left out
}

// Load reads every regular file under path as one seed. path may also be a
// tar.gz corpus bundle, which is unpacked to a temporary directory first.
// Subdirectories are not descended into.
func Load(ctx context.Context, path string) (*Store, LoadStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to read corpus: %w", err)
	}

	dir := path
	if !info.IsDir() {
		if !utils.IsTarGz(path) {
			return nil, LoadStats{}, fmt.Errorf("corpus %s is neither a directory nor a tar.gz bundle", path)
		}
		tmpDir, err := os.MkdirTemp("", "blackfuzz-corpus-*")
		if err != nil {
			return nil, LoadStats{}, fmt.Errorf("failed to create corpus unpack dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)
		if err := utils.UnpackTarGz(path, tmpDir); err != nil {
			return nil, LoadStats{}, err
		}
		dir = tmpDir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to read corpus: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	seeds := make([]Seed, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read seed %s: %w", file, err)
			}
			id := file
			if dir != path {
				// seeds from a bundle are named after the bundle, not the temp dir
				id = filepath.Join(path, filepath.Base(file))
			}
			seeds[i] = Seed{ID: id, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, LoadStats{}, err
	}

	stats := LoadStats{Files: len(files)}
	for _, s := range seeds {
		if len(s.Data) == 0 {
			stats.Skipped++
		}
	}

	store, err := New(seeds)
	if err != nil {
		return nil, stats, err
	}
	return store, stats, nil
}
