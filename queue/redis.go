package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/joblog/types"
)

// DefaultRedisKey is the default sorted set holding retries.
const DefaultRedisKey = "joblog:archive_retries"

// claimScript leases a due member: its score moves to the lease expiry and
// its claim count in the sibling hash is raised. It returns the new claim
// count, or 0 when the member is gone or not due (another worker won).
//
// KEYS[1] sorted set, KEYS[2] claims hash; ARGV member, now, lease expiry.
var claimScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) > tonumber(ARGV[2]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
`)

// ackScript removes a member still holding the given lease.
//
// KEYS[1] sorted set, KEYS[2] claims hash; ARGV member, lease expiry.
var ackScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return 1
`)

// Redis is a Queue on a redis sorted set. Members are "<project>:<job>",
// scores are due times in unix milliseconds. A claimed member is re-scored
// to its lease expiry, and claim counts live in the hash "<key>:claims".
// Several workers may share the queue; a lease is held by one of them.
type Redis struct {
	client *goredis.Client
	key    string
	claims string
	lease  time.Duration
}

// NewRedis creates a queue on the sorted set key.
func NewRedis(client *goredis.Client, key string, opts ...Option) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{
		client: client,
		key:    key,
		claims: key + ":claims",
		lease:  buildOptions(opts).lease,
	}
}

// Enqueue implements Queue. Rescheduling resets the claim count.
func (r *Redis) Enqueue(ctx context.Context, job types.JobRef, at time.Time) error {
	m := member(job)
	_, err := r.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZAdd(ctx, r.key, goredis.Z{Score: float64(at.UnixMilli()), Member: m})
		p.HDel(ctx, r.claims, m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Due implements Queue.
func (r *Redis) Due(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	nowMs := now.UnixMilli()
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMs, 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	zs, err := r.client.ZRangeByScoreWithScores(ctx, r.key, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read due entries: %w", err)
	}

	leaseMs := now.Add(r.lease).UnixMilli()
	entries := make([]Entry, 0, len(zs))
	for _, z := range zs {
		m, _ := z.Member.(string)
		claims, err := claimScript.Run(ctx, r.client, []string{r.key, r.claims}, m, nowMs, leaseMs).Int()
		if err != nil {
			return entries, fmt.Errorf("queue: claim %s: %w", m, err)
		}
		if claims == 0 {
			continue
		}
		job, err := parseMember(m)
		if err != nil {
			return entries, err
		}
		entries = append(entries, Entry{
			Job:    job,
			At:     time.UnixMilli(int64(z.Score)),
			Lease:  time.UnixMilli(leaseMs),
			Claims: claims,
		})
	}
	return entries, nil
}

// Ack implements Queue.
func (r *Redis) Ack(ctx context.Context, e Entry) error {
	m := member(e.Job)
	if err := ackScript.Run(ctx, r.client, []string{r.key, r.claims}, m, e.Lease.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", m, err)
	}
	return nil
}

// Len implements Queue.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len: %w", err)
	}
	return int(n), nil
}

func member(job types.JobRef) string {
	return strconv.FormatInt(job.ProjectID, 10) + ":" + job.ID.String()
}

func parseMember(m string) (types.JobRef, error) {
	project, id, ok := strings.Cut(m, ":")
	if !ok {
		return types.JobRef{}, errors.New("queue: malformed member " + strconv.Quote(m))
	}
	p, err := strconv.ParseInt(project, 10, 64)
	if err != nil {
		return types.JobRef{}, fmt.Errorf("queue: malformed member %q: %w", m, err)
	}
	job, err := types.ParseJobID(id)
	if err != nil {
		return types.JobRef{}, fmt.Errorf("queue: malformed member %q: %w", m, err)
	}
	return types.JobRef{ID: job, ProjectID: p}, nil
}

var _ Queue = (*Redis)(nil)
