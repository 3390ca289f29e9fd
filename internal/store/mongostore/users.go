package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Tyrowin/groupchat/internal/domain"
)

// Users stores one document per user keyed by id.
type Users struct {
	c *mongo.Collection
}

// NewUsers returns the store over the users collection.
func NewUsers(db *mongo.Database) *Users {
	return &Users{c: db.Collection("users")}
}

// Insert relies on the unique email index to reject duplicates.
func (s *Users) Insert(ctx context.Context, u domain.User) (domain.User, error) {
	now := time.Now().UTC()
	u.ID = primitive.NewObjectID().Hex()
	u.Email = strings.ToLower(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// FindByID returns domain.ErrNotFound for an unknown id.
func (s *Users) FindByID(ctx context.Context, id string) (domain.User, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindByEmail looks a user up by lowercased email.
func (s *Users) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.findOne(ctx, bson.M{"email": strings.ToLower(email)})
}

func (s *Users) findOne(ctx context.Context, filter bson.M) (domain.User, error) {
	var u domain.User
	if err := s.c.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// FindByIDs resolves many users in one round trip; unknown ids are absent from the result.
func (s *Users) FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var u domain.User
		if err := cur.Decode(&u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out[u.ID] = u
	}
	return out, cur.Err()
}

// SetAdmin flips the admin flag on a user.
func (s *Users) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	res, err := s.c.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"is_admin":   isAdmin,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}
