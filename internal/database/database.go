// Package database owns the MongoDB connection and the collection-level
// operations the jobs run against the countly store. The client is opened once
// per process and closed on every exit path by the owner.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Options configures the connection.
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// Client wraps a connected mongo.Client bound to one database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and pings the primary to ensure it's alive.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
		clientOpts.SetServerSelectionTimeout(opts.ConnectTimeout)
	}
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		// The client is unusable; release its pool before returning.
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return &Client{client: client, db: client.Database(opts.Database)}, nil
}

// Collection returns a handle on the named collection.
func (c *Client) Collection(name string) *Collection {
	return &Collection{coll: c.db.Collection(name)}
}

// Products returns the product work queue.
func (c *Client) Products(name string) *Products {
	return &Products{c: c.Collection(name)}
}

// IPs returns the distinct-IP work queue.
func (c *Client) IPs(name string) *IPs {
	return &IPs{c: c.Collection(name)}
}

// Runs returns the run history repository.
func (c *Client) Runs(name string) *Runs {
	return &Runs{c: c.Collection(name)}
}

// Close disconnects the client and releases the connection pool.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongo connection: %w", err)
	}
	return nil
}
