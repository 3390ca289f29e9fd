package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/groupchat/internal/auth"
	"github.com/Tyrowin/groupchat/internal/domain"
	"github.com/Tyrowin/groupchat/internal/membership"
	"github.com/Tyrowin/groupchat/internal/messages"
	"github.com/Tyrowin/groupchat/internal/server"
	"github.com/Tyrowin/groupchat/internal/store/memstore"
	"github.com/Tyrowin/groupchat/internal/store/mongostore"
)

type userStore interface {
	auth.UserRepository
	auth.AdminStore
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.User, error)
}

type stores struct {
	users    userStore
	groups   membership.Repository
	messages messages.Repository
	// pinger is nil for the in-memory backend.
	pinger server.Pinger
	close  func(ctx context.Context) error
}

// openStores connects to MongoDB when a URI is configured and falls back to
// process memory otherwise.
func openStores(ctx context.Context, cfg *server.Config, logger *zap.Logger) (*stores, error) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGO_URI not set; using in-memory store, data is lost on restart")
		return &stores{
			users:    memstore.NewUsers(),
			groups:   memstore.NewGroups(),
			messages: memstore.NewMessages(),
			close:    func(context.Context) error { return nil },
		}, nil
	}

	client, err := mongostore.Connect(ctx, cfg.MongoURI, logger)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.MongoDatabase)
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("using MongoDB store", zap.String("database", cfg.MongoDatabase))

	return &stores{
		users:    mongostore.NewUsers(db),
		groups:   mongostore.NewGroups(db),
		messages: mongostore.NewMessages(db),
		pinger:   mongostore.Pinger{Client: client},
		close:    client.Disconnect,
	}, nil
}
