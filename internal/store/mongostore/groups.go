package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/membership"
)

// ErrConcurrentUpdate is returned when a group kept changing underneath a
// mutation for every retry.
var ErrConcurrentUpdate = errors.New("group was modified concurrently, retries exhausted")

const defaultMutateRetries = 8

// Groups stores one document per group. Each document is its own consistency
// boundary: Mutate replaces it only if its version is unchanged since the read.
type Groups struct {
	c       *mongo.Collection
	retries int
}

var _ membership.Repository = (*Groups)(nil)

// NewGroups returns the store over the groups collection.
func NewGroups(db *mongo.Database) *Groups {
	return &Groups{c: db.Collection("groups"), retries: defaultMutateRetries}
}

// Insert stores g under a fresh id at version 1.
func (s *Groups) Insert(ctx context.Context, g domain.Group) (domain.Group, error) {
	now := time.Now().UTC()
	g = g.Clone()
	g.ID = primitive.NewObjectID().Hex()
	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.PendingRequests == nil {
		g.PendingRequests = []domain.PendingRequest{}
	}
	if _, err := s.c.InsertOne(ctx, g); err != nil {
		return domain.Group{}, fmt.Errorf("insert group: %w", err)
	}
	return g, nil
}

// FindByID returns domain.ErrGroupNotFound for an unknown id.
func (s *Groups) FindByID(ctx context.Context, id string) (domain.Group, error) {
	var g domain.Group
	if err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&g); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Group{}, domain.ErrGroupNotFound
		}
		return domain.Group{}, fmt.Errorf("find group %s: %w", id, err)
	}
	return g, nil
}

// FindAll returns every group in creation order.
func (s *Groups) FindAll(ctx context.Context) ([]domain.Group, error) {
	return s.find(ctx, bson.M{})
}

// FindSecureByAdmin lists the secure groups administered by adminID.
func (s *Groups) FindSecureByAdmin(ctx context.Context, adminID string) ([]domain.Group, error) {
	return s.find(ctx, bson.M{"admin_id": adminID, "is_secure": true})
}

func (s *Groups) find(ctx context.Context, filter bson.M) ([]domain.Group, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}
	defer cur.Close(ctx)

	groups := []domain.Group{}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return groups, nil
}

// Mutate reads the group, applies fn, and replaces the document guarded by
// its version. On a lost race fn is re-run against the fresh document, so
// invariant checks inside fn always see committed state.
func (s *Groups) Mutate(ctx context.Context, id string, fn membership.MutateFunc) (domain.Group, error) {
	for attempt := 0; attempt < s.retries; attempt++ {
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return domain.Group{}, err
		}

		working := current.Clone()
		if err := fn(&working); err != nil {
			return domain.Group{}, err
		}
		working.ID = id
		working.Version = current.Version + 1

		res, err := s.c.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, working)
		if err != nil {
			return domain.Group{}, fmt.Errorf("replace group %s: %w", id, err)
		}
		if res.MatchedCount == 1 {
			return working, nil
		}
	}
	return domain.Group{}, ErrConcurrentUpdate
}
