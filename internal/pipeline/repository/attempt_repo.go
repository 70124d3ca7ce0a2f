package repository

import (
	"context"

	"video_pipeline_service/internal/pipeline/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AttemptCollection mongo collection name
const AttemptCollection = "processing_attempts"

// AttemptRepo definition attempt diagnostics log
type AttemptRepo interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, log *domain.AttemptLog) error
	ListByVideo(ctx context.Context, videoID string, limit int64) ([]*domain.AttemptLog, error)
	DeleteByVideo(ctx context.Context, videoID string) error
}

type mongoAttemptRepo struct {
	attemptsColl *mongo.Collection
}

// NewMongoAttemptRepo create new mongo attempt repo
func NewMongoAttemptRepo(db *mongo.Database) AttemptRepo {
	return &mongoAttemptRepo{attemptsColl: db.Collection(AttemptCollection)}
}

// EnsureIndexes video_id + started_at desc
func (r *mongoAttemptRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.attemptsColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "video_id", Value: 1}, {Key: "started_at", Value: -1}},
	})
	return err
}

func (r *mongoAttemptRepo) Insert(ctx context.Context, log *domain.AttemptLog) error {
	_, err := r.attemptsColl.InsertOne(ctx, log)
	return err
}

// ListByVideo 最新的在前
func (r *mongoAttemptRepo) ListByVideo(ctx context.Context, videoID string, limit int64) ([]*domain.AttemptLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cur, err := r.attemptsColl.Find(ctx, bson.M{"video_id": videoID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	logs := []*domain.AttemptLog{}
	for cur.Next(ctx) {
		var l domain.AttemptLog
		if err := cur.Decode(&l); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *mongoAttemptRepo) DeleteByVideo(ctx context.Context, videoID string) error {
	_, err := r.attemptsColl.DeleteMany(ctx, bson.M{"video_id": videoID})
	return err
}

// noopAttemptRepo mongo 未啟用時使用
type noopAttemptRepo struct{}

// NewNoopAttemptRepo attempt log disabled
func NewNoopAttemptRepo() AttemptRepo {
	return noopAttemptRepo{}
}

func (noopAttemptRepo) EnsureIndexes(context.Context) error              { return nil }
func (noopAttemptRepo) Insert(context.Context, *domain.AttemptLog) error { return nil }
func (noopAttemptRepo) ListByVideo(context.Context, string, int64) ([]*domain.AttemptLog, error) {
	return []*domain.AttemptLog{}, nil
}
func (noopAttemptRepo) DeleteByVideo(context.Context, string) error { return nil }
