package mongo

import (
	"context"
	"time"

	"github.com/babililo/relay/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RunRepository interface {
	Insert(ctx context.Context, run *models.RelayRun) error
	SetStatus(ctx context.Context, runID, status string) error
	Finish(ctx context.Context, runID, status, errMsg string, chars, segments int, processingMS int64) error
	ListByEntity(ctx context.Context, entityID string, limit int64) ([]models.RelayRun, error)
}

type runRepo struct {
	col *mongo.Collection
}

func NewRunRepo(db *mongo.Database) RunRepository {
	return &runRepo{col: db.Collection("relay_runs")}
}

func (r *runRepo) Insert(ctx context.Context, run *models.RelayRun) error {
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, run)
	return err
}

func (r *runRepo) SetStatus(ctx context.Context, runID, status string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"run_id": runID},
		bson.M{"$set": bson.M{"status": status}},
	)
	return err
}

func (r *runRepo) Finish(ctx context.Context, runID, status, errMsg string, chars, segments int, processingMS int64) error {
	set := bson.M{
		"status":             status,
		"response_chars":     chars,
		"segments":           segments,
		"processing_time_ms": processingMS,
	}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := r.col.UpdateOne(ctx, bson.M{"run_id": runID}, bson.M{"$set": set})
	return err
}

func (r *runRepo) ListByEntity(ctx context.Context, entityID string, limit int64) ([]models.RelayRun, error) {
	if limit <= 0 {
		limit = 100
	}

	cur, err := r.col.Find(ctx,
		bson.M{"entity_id": entityID},
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.RelayRun
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
