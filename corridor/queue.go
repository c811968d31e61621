package corridor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisQueue stores each corridor as a Redis LIST of JSON summaries plus a
// SET of waybill ids for dedup. New arrivals go on the left, the oldest item
// is popped from the right.
type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func listKey(c Corridor) string {
	return fmt.Sprintf("slwl:dispatch:list:%d:%d", c.Origin, c.Destination)
}

func setKey(c Corridor) string {
	return fmt.Sprintf("slwl:dispatch:set:%d:%d", c.Origin, c.Destination)
}

func oversizeKey(c Corridor) string {
	return fmt.Sprintf("slwl:dispatch:oversize:%d:%d", c.Origin, c.Destination)
}

// KEYS[1] list, KEYS[2] set; ARGV[1] waybill id, ARGV[2] encoded summary.
var enqueueScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 0
end
redis.call('LPUSH', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// Enqueue appends s to its corridor unless the waybill is already queued or
// in flight there. It reports whether the summary was added.
func (q *RedisQueue) Enqueue(ctx context.Context, c Corridor, s Summary) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("encode summary %d: %w", s.WaybillID, err)
	}
	added, err := enqueueScript.Run(ctx, q.client,
		[]string{listKey(c), setKey(c)},
		strconv.FormatInt(s.WaybillID, 10), data).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", c, err)
	}
	return added == 1, nil
}

// DequeueOldest pops the queue head. An empty corridor yields nil, nil.
func (q *RedisQueue) DequeueOldest(ctx context.Context, c Corridor) (*Summary, error) {
	data, err := q.client.RPop(ctx, listKey(c)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", c, err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary on %s: %w", c, err)
	}
	return &s, nil
}

// PushBack returns a summary to the dequeue end so it is served first on the
// next pass, ahead of anything enqueued since.
func (q *RedisQueue) PushBack(ctx context.Context, c Corridor, s Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode summary %d: %w", s.WaybillID, err)
	}
	if err := q.client.RPush(ctx, listKey(c), data).Err(); err != nil {
		return fmt.Errorf("push back %s: %w", c, err)
	}
	return nil
}

func (q *RedisQueue) IsDuplicate(ctx context.Context, c Corridor, waybillID int64) (bool, error) {
	return q.client.SIsMember(ctx, setKey(c), waybillID).Result()
}

func (q *RedisQueue) MarkSeen(ctx context.Context, c Corridor, waybillID int64) error {
	return q.client.SAdd(ctx, setKey(c), waybillID).Err()
}

func (q *RedisQueue) ClearSeen(ctx context.Context, c Corridor, waybillID int64) error {
	return q.client.SRem(ctx, setKey(c), waybillID).Err()
}

func (q *RedisQueue) Len(ctx context.Context, c Corridor) (int64, error) {
	return q.client.LLen(ctx, listKey(c)).Result()
}

// Peek returns up to n summaries starting from the queue head without
// removing them.
func (q *RedisQueue) Peek(ctx context.Context, c Corridor, n int64) ([]Summary, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := q.client.LRange(ctx, listKey(c), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(raw))
	// LRANGE returns left to right; the head is the rightmost element.
	for i := len(raw) - 1; i >= 0; i-- {
		var s Summary
		if err := json.Unmarshal([]byte(raw[i]), &s); err != nil {
			return nil, fmt.Errorf("decode summary on %s: %w", c, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// RecordOversize bumps the count of passes in which waybillID alone
// overflowed a vehicle on this corridor and returns the new count.
func (q *RedisQueue) RecordOversize(ctx context.Context, c Corridor, waybillID int64) (int64, error) {
	return q.client.HIncrBy(ctx, oversizeKey(c), strconv.FormatInt(waybillID, 10), 1).Result()
}

func (q *RedisQueue) ResetOversize(ctx context.Context, c Corridor, waybillID int64) error {
	return q.client.HDel(ctx, oversizeKey(c), strconv.FormatInt(waybillID, 10)).Err()
}
