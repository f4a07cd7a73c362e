package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"Syncline/internal/model"
)

// OpenConnection connects to MongoDB and verifies the link with a ping.
func OpenConnection(uri string, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client.Database(database), nil
}

// Repository provides generic CRUD over one collection. Documents use string
// ids (uuids), not ObjectIDs, so the same identifiers travel the wire
// unchanged.
type Repository[T any] struct {
	collection *mongo.Collection
}

func NewRepository[T any](db *mongo.Database, collectionName string) *Repository[T] {
	return &Repository[T]{collection: db.Collection(collectionName)}
}

// Create inserts a new document.
func (r *Repository[T]) Create(ctx context.Context, document T) error {
	_, err := r.collection.InsertOne(ctx, document)
	return err
}

// FindByID finds a document by its string id. Returns mongo.ErrNoDocuments
// when absent.
func (r *Repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	var result T
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindOne finds a single document matching the filter.
func (r *Repository[T]) FindOne(ctx context.Context, filter bson.M) (*T, error) {
	var result T
	if err := r.collection.FindOne(ctx, filter).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FindAll finds all documents matching the filter, optionally sorted.
func (r *Repository[T]) FindAll(ctx context.Context, filter bson.M, sort bson.D) ([]T, error) {
	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []T
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// FindPage returns one zero-based page of documents matching the filter,
// sorted as given. The result carries the page bookkeeping the REST layer
// exposes.
func (r *Repository[T]) FindPage(ctx context.Context, filter bson.M, sort bson.D, page, size int64) (*model.Page[T], error) {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSkip(page * size).SetLimit(size)
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []T
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	totalPages := total / size
	if total%size > 0 {
		totalPages++
	}

	return &model.Page[T]{
		Content:       results,
		TotalElements: total,
		TotalPages:    totalPages,
		Number:        page,
		First:         page == 0,
		Last:          page >= totalPages-1,
	}, nil
}

// UpdateByID applies a $set update to a document by string id.
func (r *Repository[T]) UpdateByID(ctx context.Context, id string, update bson.M) (*mongo.UpdateResult, error) {
	return r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": update})
}

// UpdateMany applies a $set update to every document matching the filter.
func (r *Repository[T]) UpdateMany(ctx context.Context, filter bson.M, update bson.M) (*mongo.UpdateResult, error) {
	return r.collection.UpdateMany(ctx, filter, bson.M{"$set": update})
}

// DeleteByID deletes a document by string id.
func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (*mongo.DeleteResult, error) {
	return r.collection.DeleteOne(ctx, bson.M{"_id": id})
}

// Count counts documents matching the filter.
func (r *Repository[T]) Count(ctx context.Context, filter bson.M) (int64, error) {
	return r.collection.CountDocuments(ctx, filter)
}
