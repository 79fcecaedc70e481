package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/contactbump/exchange/internal/config"
	"github.com/contactbump/exchange/internal/matching"
)

// rootOptions holds connection flags shared by every subcommand.
type rootOptions struct {
	RedisAddr   string
	RedisDB     int
	NATSURL     string
	DatabaseURL string

	// rdb overrides the Redis client (for testing).
	rdb *redis.Client
}

func newRootCommand() *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Config{RedisAddr: "localhost:6379"}
	}
	opts := &rootOptions{
		RedisAddr:   cfg.RedisAddr,
		RedisDB:     cfg.RedisDB,
		NATSURL:     cfg.NATSURL,
		DatabaseURL: cfg.DatabaseURL,
	}
	return newRootCommandWith(opts)
}

func newRootCommandWith(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "exchangectl",
		Short:         "Operate the contact exchange service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.RedisAddr, "redis-addr", opts.RedisAddr, "Redis address")
	cmd.PersistentFlags().IntVar(&opts.RedisDB, "redis-db", opts.RedisDB, "Redis logical database")
	cmd.PersistentFlags().StringVar(&opts.NATSURL, "nats-url", opts.NATSURL, "NATS URL for watch")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "PostgreSQL DSN for profile commands")

	cmd.AddCommand(
		newPendingCommand(opts),
		newMatchCommand(opts),
		newCancelCommand(opts),
		newSweepCommand(opts),
		newSessionCommand(opts),
		newProfileCommand(opts),
		newWatchCommand(opts),
	)
	return cmd
}

// redisClient returns a connected client. The caller closes it unless it was
// injected.
func (o *rootOptions) redisClient(ctx context.Context) (*redis.Client, func(), error) {
	if o.rdb != nil {
		return o.rdb, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: o.RedisAddr, DB: o.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to Redis at %s: %w", o.RedisAddr, err)
	}
	return rdb, func() { rdb.Close() }, nil
}

// service builds an exchange service with default timings and no publisher.
func (o *rootOptions) service(ctx context.Context) (*matching.Service, func(), error) {
	rdb, closeFn, err := o.redisClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return matching.NewService(rdb, matching.DefaultConfig(), nil), closeFn, nil
}
