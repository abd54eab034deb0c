package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/Tinywan/redis-stream-sub000/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeadLetterRepository implements storage.DeadLetterRepository using MongoDB
type DeadLetterRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new MongoDB-backed dead letter archive
func NewDeadLetterRepository(mongoURI, database, collection string) (*DeadLetterRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	repo := &DeadLetterRepository{
		client:     client,
		database:   database,
		collection: collection,
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	return repo, nil
}

func (r *DeadLetterRepository) coll() *mongo.Collection {
	return r.client.Database(r.database).Collection(r.collection)
}

func (r *DeadLetterRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "died_at", Value: -1}}},
		{Keys: bson.D{{Key: "queue", Value: 1}, {Key: "message_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create dead letter indexes: %w", err)
	}
	return nil
}

// Store archives a dead letter, replacing an earlier copy of the same message
func (r *DeadLetterRepository) Store(ctx context.Context, letter *domain.DeadLetter) error {
	if letter == nil || letter.MessageID == "" {
		return domain.ErrInvalidInput
	}

	opts := options.Update().SetUpsert(true)
	_, err := r.coll().UpdateOne(
		ctx,
		bson.M{"queue": letter.Queue, "message_id": letter.MessageID},
		bson.M{"$set": letter},
		opts,
	)
	if err != nil {
		return fmt.Errorf("failed to store dead letter: %w", err)
	}

	return nil
}

// List returns up to limit letters, newest first
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	opts := options.Find().SetSort(bson.D{{Key: "died_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.coll().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var results []domain.DeadLetter
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}

	// Convert to pointers
	pointers := make([]*domain.DeadLetter, len(results))
	for i := range results {
		pointers[i] = &results[i]
	}

	return pointers, nil
}

// Count returns the number of archived letters
func (r *DeadLetterRepository) Count(ctx context.Context) (int64, error) {
	count, err := r.coll().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// Close closes the MongoDB connection
func (r *DeadLetterRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
