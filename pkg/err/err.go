package errprocess

import (
	"errors"
	"fmt"

	"video_pipeline_service/pkg/logger"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap 記錄錯誤並保留原始 error，讓上層可以 errors.Is 判斷
func Wrap(err error, errMsg string) error {
	wrapped := fmt.Errorf("%s : %w", errMsg, err)
	logger.Log.Error(wrapped.Error())
	return wrapped
}
