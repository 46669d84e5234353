package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBlockTimeout = 2 * time.Second
	defaultDedupTTL     = 24 * time.Hour
	promoteBatch        = 100
)

var promoteScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call("ZREM", KEYS[1], member)
	redis.call("LPUSH", KEYS[2], member)
end
return #due
`)

// JobQueueOptions tunes a JobQueue. Zero values fall back to defaults.
type JobQueueOptions struct {
	Prefix       string
	BlockTimeout time.Duration
	DedupTTL     time.Duration
}

// JobQueue is a go-job queue on Redis lists. Ready jobs live in a list
// consumed with BRPOP, delayed retries in a sorted set scored by due time,
// and dead-lettered jobs in a separate list.
type JobQueue struct {
	client       redis.UniversalClient
	ready        string
	delayed      string
	dead         string
	dedup        string
	blockTimeout time.Duration
	dedupTTL     time.Duration
	now          func() time.Time
}

func NewJobQueue(client redis.UniversalClient, opts JobQueueOptions) (*JobQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	prefix := strings.Trim(strings.TrimSpace(opts.Prefix), ":")
	if prefix == "" {
		prefix = "eventhooks"
	}
	// one hash slot so the promote script can touch both keys in cluster mode
	base := "{" + prefix + "}:jobs:"
	q := &JobQueue{
		client:       client,
		ready:        base + "ready",
		delayed:      base + "delayed",
		dead:         base + "dead",
		dedup:        base + "dedup:",
		blockTimeout: opts.BlockTimeout,
		dedupTTL:     opts.DedupTTL,
		now:          time.Now,
	}
	if q.blockTimeout <= 0 {
		q.blockTimeout = defaultBlockTimeout
	}
	if q.dedupTTL <= 0 {
		q.dedupTTL = defaultDedupTTL
	}
	return q, nil
}

type jobEnvelope struct {
	ID             string         `json:"id"`
	Attempt        int            `json:"attempt"`
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}

// Enqueue pushes msg on the ready list. Messages with the drop dedup policy
// are skipped while an earlier message with the same idempotency key is
// remembered.
func (q *JobQueue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("redisstore: job message with a job id is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && string(msg.DedupPolicy) == "drop" {
		fresh, err := q.client.SetNX(ctx, q.dedup+key, "1", q.dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("redisstore: dedup %s: %w", key, err)
		}
		if !fresh {
			return nil
		}
	}
	raw, err := json.Marshal(jobEnvelope{
		ID:             uuid.NewString(),
		JobID:          msg.JobID,
		ScriptPath:     msg.ScriptPath,
		Parameters:     msg.Parameters,
		IdempotencyKey: key,
		DedupPolicy:    string(msg.DedupPolicy),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encode job %s: %w", msg.JobID, err)
	}
	if err := q.client.LPush(ctx, q.ready, raw).Err(); err != nil {
		return fmt.Errorf("redisstore: enqueue %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue promotes due delayed jobs, then blocks up to the block timeout for
// a ready one. It returns (nil, nil) when nothing arrived in time.
func (q *JobQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}
	res, err := q.client.BRPop(ctx, q.blockTimeout, q.ready).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: dequeue: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("redisstore: dequeue: unexpected reply %v", res)
	}
	var env jobEnvelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		// an undecodable entry can never succeed
		_ = q.client.LPush(ctx, q.dead, res[1]).Err()
		return nil, fmt.Errorf("redisstore: decode job: %w", err)
	}
	env.Attempt++
	return &jobDelivery{queue: q, env: env}, nil
}

// DeadLetters returns up to limit dead-lettered jobs, newest first.
func (q *JobQueue) DeadLetters(ctx context.Context, limit int64) ([]*job.ExecutionMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: dead letters: %w", err)
	}
	out := make([]*job.ExecutionMessage, 0, len(raws))
	for _, raw := range raws {
		var env jobEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		out = append(out, env.message())
	}
	return out, nil
}

func (q *JobQueue) promote(ctx context.Context) error {
	score := strconv.FormatInt(q.now().UnixMilli(), 10)
	err := promoteScript.Run(ctx, q.client, []string{q.delayed, q.ready}, score, promoteBatch).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisstore: promote delayed jobs: %w", err)
	}
	return nil
}

func (q *JobQueue) push(ctx context.Context, env jobEnvelope, delay time.Duration) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisstore: encode job %s: %w", env.JobID, err)
	}
	if delay > 0 {
		due := float64(q.now().Add(delay).UnixMilli())
		return q.client.ZAdd(ctx, q.delayed, redis.Z{Score: due, Member: raw}).Err()
	}
	return q.client.LPush(ctx, q.ready, raw).Err()
}

func (e jobEnvelope) message() *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          e.JobID,
		ScriptPath:     e.ScriptPath,
		Parameters:     e.Parameters,
		IdempotencyKey: e.IdempotencyKey,
		DedupPolicy:    job.DeduplicationPolicy(e.DedupPolicy),
	}
}

type jobDelivery struct {
	queue *JobQueue
	env   jobEnvelope
}

func (d *jobDelivery) Message() *job.ExecutionMessage {
	return d.env.message()
}

// Attempt is the 1-based delivery count of this job.
func (d *jobDelivery) Attempt() int {
	return d.env.Attempt
}

// Ack is a no-op: BRPOP already removed the job from the ready list.
func (d *jobDelivery) Ack(context.Context) error {
	return nil
}

func (d *jobDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	switch {
	case opts.DeadLetter:
		env := d.env
		env.Reason = opts.Reason
		raw, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("redisstore: encode job %s: %w", env.JobID, err)
		}
		if err := d.queue.client.LPush(ctx, d.queue.dead, raw).Err(); err != nil {
			return fmt.Errorf("redisstore: dead letter %s: %w", env.JobID, err)
		}
		return nil
	case opts.Requeue:
		if err := d.queue.push(ctx, d.env, opts.Delay); err != nil {
			return fmt.Errorf("redisstore: requeue %s: %w", d.env.JobID, err)
		}
		return nil
	default:
		return nil
	}
}

var (
	_ queue.Enqueuer = (*JobQueue)(nil)
	_ queue.Dequeuer = (*JobQueue)(nil)
	_ queue.Delivery = (*jobDelivery)(nil)
)
