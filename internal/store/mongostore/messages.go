package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Messages is the message log collection.
type Messages struct {
	c *mongo.Collection
}

// NewMessages returns the store over the messages collection.
func NewMessages(db *mongo.Database) *Messages {
	return &Messages{c: db.Collection("messages")}
}

// Insert stores m under a fresh id.
func (s *Messages) Insert(ctx context.Context, m domain.Message) (domain.Message, error) {
	now := time.Now().UTC()
	m.ID = primitive.NewObjectID().Hex()
	m.CreatedAt = now
	m.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, m); err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListByGroup returns a group's messages sorted by created_at ascending.
func (s *Messages) ListByGroup(ctx context.Context, groupID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.c.Find(ctx, bson.M{"group_id": groupID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	msgs := []domain.Message{}
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}
