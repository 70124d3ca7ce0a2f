package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"

	"gorm.io/gorm"
)

// VideoRepo definition video / segment persistence
type VideoRepo interface {
	AutoMigrate() error
	Create(ctx context.Context, video *domain.Video) error
	GetByID(ctx context.Context, id string) (*domain.Video, error)
	TransitionStatus(ctx context.Context, id string, to domain.VideoStatus, reason string) error
	MarkReady(ctx context.Context, id, outputKey string, duration int) error
	SetThumbKey(ctx context.Context, id, thumbKey string) error
	SaveTranscript(ctx context.Context, id, subtitleKey string, segments []domain.Segment) error
	ListSegments(ctx context.Context, id string) ([]domain.Segment, error)
	Delete(ctx context.Context, id string) error
}

type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepo create VideoRepo
func NewVideoRepo(db *gorm.DB) VideoRepo {
	return &videoRepo{db: db}
}

// AutoMigrate 只新增欄位與表，不會刪除
func (r *videoRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Video{}, &domain.Segment{})
}

func (r *videoRepo) Create(ctx context.Context, video *domain.Video) error {
	if video.StatusChangedAt.IsZero() {
		video.StatusChangedAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(video).Error
}

// GetByID get Video by id，不存在回傳 domain.ErrVideoNotFound
func (r *videoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var v domain.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, err
	}
	return &v, nil
}

// TransitionStatus 條件式更新，目前狀態不在允許的來源內時回傳 ErrInvalidTransition
// 進入 PROCESSING 時清除 failure_reason，進入 FAILED 時寫入 reason
func (r *videoRepo) TransitionStatus(ctx context.Context, id string, to domain.VideoStatus, reason string) error {
	updates := map[string]interface{}{
		"status":            string(to),
		"status_changed_at": time.Now(),
	}
	switch to {
	case domain.VideoProcessing:
		updates["failure_reason"] = ""
	case domain.VideoFailed:
		updates["failure_reason"] = reason
	}

	return r.conditionalUpdate(ctx, id, domain.AllowedSources(to), updates)
}

// MarkReady 只有 PROCESSING 可以變成 READY
func (r *videoRepo) MarkReady(ctx context.Context, id, outputKey string, duration int) error {
	updates := map[string]interface{}{
		"status":            string(domain.VideoReady),
		"output_key":        outputKey,
		"duration":          duration,
		"status_changed_at": time.Now(),
	}
	return r.conditionalUpdate(ctx, id, domain.AllowedSources(domain.VideoReady), updates)
}

func (r *videoRepo) SetThumbKey(ctx context.Context, id, thumbKey string) error {
	res := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", id).Update("thumb_key", thumbKey)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVideoNotFound
	}
	return nil
}

// SaveTranscript 同一個 transaction 取代 segments 並寫入 subtitle_key
func (r *videoRepo) SaveTranscript(ctx context.Context, id, subtitleKey string, segments []domain.Segment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Video{}).Where("id = ?", id).Update("subtitle_key", subtitleKey)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrVideoNotFound
		}

		if err := tx.Where("video_id = ?", id).Delete(&domain.Segment{}).Error; err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		if len(segments) == 0 {
			return nil
		}

		rows := make([]domain.Segment, len(segments))
		for i, s := range segments {
			rows[i] = domain.Segment{VideoID: id, Start: s.Start, End: s.End, Text: s.Text}
		}
		if err := tx.CreateInBatches(rows, 200).Error; err != nil {
			return fmt.Errorf("insert segments: %w", err)
		}
		return nil
	})
}

// ListSegments 依 start 排序
func (r *videoRepo) ListSegments(ctx context.Context, id string) ([]domain.Segment, error) {
	var segs []domain.Segment
	if err := r.db.WithContext(ctx).Where("video_id = ?", id).Order("start_sec ASC").Order("id ASC").Find(&segs).Error; err != nil {
		return nil, err
	}
	return segs, nil
}

// Delete 刪除影片與 segments
func (r *videoRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("video_id = ?", id).Delete(&domain.Segment{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&domain.Video{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrVideoNotFound
		}
		return nil
	})
}

func (r *videoRepo) conditionalUpdate(ctx context.Context, id string, from []domain.VideoStatus, updates map[string]interface{}) error {
	sources := make([]string, len(from))
	for i, st := range from {
		sources[i] = string(st)
	}

	res := r.db.WithContext(ctx).Model(&domain.Video{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrVideoNotFound
	}
	return domain.ErrInvalidTransition
}
