package startup

import (
	"context"
	"os"
	"time"

	"github.com/lifesite/internal/logger"
	"github.com/lifesite/internal/storage"
	redisstorage "github.com/lifesite/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
// logPrefix добавляется к сообщениям лога (например "auth: ").
func ConnectRedisWithRetry(redisURL string, p storage.Policy, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisstorage.New(ctx, redisURL, p)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
