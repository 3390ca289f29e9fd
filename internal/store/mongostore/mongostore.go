// Package mongostore persists users, groups and messages in MongoDB.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Connect dials uri and verifies the deployment answers a primary ping.
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("connected to MongoDB")
	return client, nil
}

// Pinger adapts a client to the health check.
type Pinger struct {
	Client *mongo.Client
}

// Ping checks the primary is reachable.
func (p Pinger) Ping(ctx context.Context) error {
	return p.Client.Ping(ctx, readpref.Primary())
}

/*
EnsureIndexes is called at startup. CreateMany is idempotent for identical
specs; problems from every collection are joined so startup can fail fast.
*/
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	var problems error

	problems = multierr.Append(problems, ensure(ctx, db.Collection("users"), []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
	}))
	problems = multierr.Append(problems, ensure(ctx, db.Collection("groups"), []mongo.IndexModel{
		{Keys: bson.D{{Key: "admin_id", Value: 1}, {Key: "is_secure", Value: 1}}, Options: options.Index().SetName("idx_admin_secure")},
		{Keys: bson.D{{Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_created_at")},
	}))
	problems = multierr.Append(problems, ensure(ctx, db.Collection("messages"), []mongo.IndexModel{
		{Keys: bson.D{{Key: "group_id", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_group_created")},
	}))
	return problems
}

func ensure(ctx context.Context, c *mongo.Collection, models []mongo.IndexModel) error {
	if _, err := c.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("%s indexes: %w", c.Name(), err)
	}
	return nil
}
