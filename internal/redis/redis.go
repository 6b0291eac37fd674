package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Connect establishes a connection to Redis. An empty URL means Redis is not
// configured; it returns a nil client and no error.
func Connect(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		log.Info("[REDIS] REDIS_URL not set, running without redis")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.WithField("addr", opt.Addr).Info("[REDIS] connected")
	return client, nil
}
