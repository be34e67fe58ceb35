package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"link_grader/internal/config"
	"link_grader/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	client      *mongo.Client
	database    *mongo.Database
	articles    *mongo.Collection
	evaluations *mongo.Collection
	logger      *slog.Logger
}

type RunStats struct {
	Total        int     `bson:"total"`
	Failed       int     `bson:"failed"`
	AvgOverall   float64 `bson:"avg_overall"`
	MaxOverall   float64 `bson:"max_overall"`
	DistinctURLs int     `bson:"distinct_urls"`
}

func NewMongoDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*MongoDB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	d := &MongoDB{
		client:      client,
		database:    db,
		articles:    db.Collection(cfg.Collections.Articles),
		evaluations: db.Collection(cfg.Collections.Evaluations),
		logger:      logger,
	}

	d.createIndexes(ctx)
	return d, nil
}

func (d *MongoDB) createIndexes(ctx context.Context) {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{d.articles, mongo.IndexModel{
			Keys:    bson.D{{Key: "normalized_url", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{d.articles, mongo.IndexModel{Keys: bson.D{{Key: "scraped_at", Value: 1}}}},
		{d.evaluations, mongo.IndexModel{Keys: bson.D{{Key: "run_id", Value: 1}}}},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			d.logger.Warn("Failed to create index", "collection", idx.coll.Name(), "error", err)
		}
	}
}

// SaveArticle upserts by normalized URL and counts how often the link was scraped.
func (d *MongoDB) SaveArticle(ctx context.Context, rec models.ArticleRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	update, err := articleUpdate(rec)
	if err != nil {
		return err
	}

	opts := options.Update().SetUpsert(true)
	filter := bson.M{"normalized_url": rec.NormalizedURL}

	if _, err := d.articles.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save article %s: %w", rec.URL, err)
	}
	return nil
}

func articleUpdate(rec models.ArticleRecord) (bson.M, error) {
	data, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode article: %w", err)
	}

	var set bson.M
	if err := bson.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to encode article: %w", err)
	}
	delete(set, "_id")
	delete(set, "scrape_count")

	return bson.M{
		"$set": set,
		"$inc": bson.M{"scrape_count": 1},
	}, nil
}

func (d *MongoDB) SaveEvaluation(ctx context.Context, ev models.Evaluation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := d.evaluations.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("failed to save evaluation for %s: %w", ev.Output.LinkURL, err)
	}
	return nil
}

func (d *MongoDB) GetRunStats(ctx context.Context, runID string) (*RunStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := d.evaluations.Aggregate(ctx, runStatsPipeline(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate run stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []RunStats
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode run stats: %w", err)
	}
	if len(results) == 0 {
		return &RunStats{}, nil
	}
	return &results[0], nil
}

func runStatsPipeline(runID string) mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "run_id", Value: runID}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "failed", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{bson.D{{Key: "$strLenCP", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$output.failure", ""}}}}}, 0}}},
				1, 0,
			}}}}}},
			{Key: "avg_overall", Value: bson.D{{Key: "$avg", Value: "$output.overall_score"}}},
			{Key: "max_overall", Value: bson.D{{Key: "$max", Value: "$output.overall_score"}}},
			{Key: "urls", Value: bson.D{{Key: "$addToSet", Value: "$output.link_url"}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "total", Value: 1},
			{Key: "failed", Value: 1},
			{Key: "avg_overall", Value: 1},
			{Key: "max_overall", Value: 1},
			{Key: "distinct_urls", Value: bson.D{{Key: "$size", Value: "$urls"}}},
		}}},
	}
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
