package redis

import (
	"context"
	"encoding/json"
	"fmt"
)

const defaultAlertQueueCap = 10000

// ListQueue is a capped Redis list used as an operator work queue. Newest items
// are at the head.
type ListQueue struct {
	client RedisClient
	key    string
	cap    int64
}

func NewListQueue(client RedisClient, key string) *ListQueue {
	return &ListQueue{client: client, key: key, cap: defaultAlertQueueCap}
}

// Push JSON-encodes v onto the head of the list and trims the tail.
func (q *ListQueue) Push(ctx context.Context, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, b); err != nil {
		return err
	}
	return q.client.LTrim(ctx, q.key, 0, q.cap-1)
}
