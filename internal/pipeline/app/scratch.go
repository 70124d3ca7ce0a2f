package app

import (
	"path/filepath"

	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// SweepScratch 啟動時清除上次 crash 留下的 job-* 目錄
func SweepScratch(dir string) (int, error) {
	if err := mkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, "job-*"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range leftovers {
		if err := removeAll(p); err != nil {
			logger.Log.Warn("sweep scratch dir", zap.String("dir", p), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
