package database

import (
	"context"
	"fmt"
	"time"

	"github.com/optyhq/auth-service/pkg/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect opens the service's MongoDB backing store and returns both the
// client and the named database handle. Ping failures are retried with
// exponential backoff to tolerate startup races against the database
// container; a malformed URI fails immediately. Caller should call
// client.Disconnect(ctx) when done.
func Connect(ctx context.Context, uri, dbName string, timeout time.Duration, attempts int) (*mongo.Client, *mongo.Database, error) {
	if attempts < 1 {
		attempts = 1
	}
	clientOpts := options.Client().ApplyURI(uri)

	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		client, err := mongo.Connect(cctx, clientOpts)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		err = client.Ping(cctx, nil)
		cancel()
		if err == nil {
			return client, client.Database(dbName), nil
		}
		_ = client.Disconnect(context.Background())
		lastErr = err
		if attempt < attempts {
			logger.Warnf("attempt %d/%d: mongo ping failed: %v", attempt, attempts, err)
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, nil, fmt.Errorf("mongo ping after %d attempts: %w", attempts, lastErr)
}
