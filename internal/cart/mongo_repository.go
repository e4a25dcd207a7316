package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/boutique/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartsCollection = "carts"

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection(cartsCollection)}
}

func keyFilter(key domain.LineKey) bson.M {
	return bson.M{"product_id": key.ProductID, "size": key.Size, "color": key.Color}
}

func (m *MongoRepository) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"owner_id": ownerID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

// AddLine pushes line only if no element with the same key exists. The key
// check and the push are one conditional update, so concurrent adds of one
// key cannot both succeed.
func (m *MongoRepository) AddLine(ctx context.Context, ownerID string, line domain.CartLine) (bool, error) {
	now := time.Now().UTC()
	line.Quantity = 1
	if line.AddedAt.IsZero() {
		line.AddedAt = now
	}

	filter := bson.M{
		"owner_id": ownerID,
		"lines":    bson.M{"$not": bson.M{"$elemMatch": keyFilter(line.Key())}},
	}
	update := bson.M{
		"$push":        bson.M{"lines": line},
		"$set":         bson.M{"updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}

	res, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// The cart exists and already holds the key, or another request
		// created the cart first. Retry against the existing document.
		res, err = m.collection.UpdateOne(ctx, filter, update)
	}
	if err != nil {
		return false, fmt.Errorf("failed to add line: %w", err)
	}

	return res.ModifiedCount > 0 || res.UpsertedCount > 0, nil
}

func (m *MongoRepository) UpdateQuantity(ctx context.Context, ownerID string, key domain.LineKey, quantity int) error {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return err
	}

	filter := bson.M{
		"owner_id": ownerID,
		"lines":    bson.M{"$elemMatch": keyFilter(key)},
	}
	update := bson.M{
		"$set": bson.M{
			"lines.$[elem].quantity": quantity,
			"updated_at":             time.Now().UTC(),
		},
	}
	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": key.ProductID, "elem.size": key.Size, "elem.color": key.Color},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update line quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.ErrLineNotFound
	}
	return nil
}

// RemoveLine is a no-op for absent keys and absent carts.
func (m *MongoRepository) RemoveLine(ctx context.Context, ownerID string, key domain.LineKey) error {
	update := bson.M{
		"$pull": bson.M{"lines": keyFilter(key)},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	_, err := m.collection.UpdateOne(ctx, bson.M{"owner_id": ownerID}, update)
	if err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, ownerID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCartIfUnchangedSince(ctx context.Context, ownerID string, cutoff time.Time) (bool, error) {
	filter := bson.M{
		"owner_id":   ownerID,
		"updated_at": bson.M{"$lte": cutoff.UTC()},
	}
	result, err := m.collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to delete cart: %w", err)
	}
	return result.DeletedCount > 0, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
