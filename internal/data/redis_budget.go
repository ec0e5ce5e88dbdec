package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/aggregation-worker/internal/domain/model"
	apperrors "github.com/target/aggregation-worker/internal/errors"
)

const defaultRedisKeyPrefix = "aggw:"

// consumeScript charges one unit to KEYS[1] when its counter is below ARGV[1]. Returns 1 when
// charged and 0 when exhausted.
const consumeScript = `
local consumed = tonumber(redis.call('GET', KEYS[1]) or '0')
if consumed < tonumber(ARGV[1]) then
  redis.call('INCR', KEYS[1])
  return 1
end
return 0
`

// RedisBudgetLedger keeps per-key consumption counters in Redis. Each key is charged by a
// server-side script, so the compare and the increment are one atomic step. Counters carry no
// TTL; the Redis deployment must persist them (AOF) for the limit to hold across restarts.
type RedisBudgetLedger struct {
	client redis.UniversalClient
	limit  int
	prefix string
}

// NewRedisBudgetLedger creates a ledger that allows limit consumptions per key.
func NewRedisBudgetLedger(client redis.UniversalClient, limit int, prefix string) *RedisBudgetLedger {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisBudgetLedger{client: client, limit: limit, prefix: prefix}
}

func (l *RedisBudgetLedger) redisKey(k model.PrivacyBudgetKey) string {
	return l.prefix + "budget:" + k.Fingerprint + ":" + strconv.FormatInt(k.TimeBucket.Unix(), 10)
}

// GetBudget returns the remaining budget for each key.
func (l *RedisBudgetLedger) GetBudget(
	ctx context.Context,
	keys []model.PrivacyBudgetKey,
) (map[model.PrivacyBudgetKey]int, error) {
	keys = model.UniqueKeys(keys)
	out := make(map[model.PrivacyBudgetKey]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Get(ctx, l.redisKey(k))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis get budget for %d keys", len(keys))
	}

	for i, k := range keys {
		consumed, getErr := cmds[i].Int()
		switch {
		case errors.Is(getErr, redis.Nil):
			consumed = 0
		case getErr != nil:
			return nil, apperrors.Wrapf(getErr, apperrors.ErrCodeStore, "redis get budget for %s", k)
		}
		out[k] = max(0, l.limit-consumed)
	}
	return out, nil
}

// ConsumeBudget charges one unit to every key that still has budget. When an error is returned
// some keys may already have been charged.
func (l *RedisBudgetLedger) ConsumeBudget(
	ctx context.Context,
	keys []model.PrivacyBudgetKey,
) (model.ConsumptionResult, error) {
	keys = model.UniqueKeys(keys)
	result := make(model.ConsumptionResult, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	if l.limit <= 0 {
		for _, k := range keys {
			result[k] = model.BudgetExhausted
		}
		return result, nil
	}

	cmds := make([]*redis.Cmd, len(keys))
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Eval(ctx, consumeScript, []string{l.redisKey(k)}, l.limit)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis consume budget for %d keys", len(keys))
	}

	for i, k := range keys {
		charged, cmdErr := cmds[i].Int()
		if cmdErr != nil {
			return nil, apperrors.Wrapf(cmdErr, apperrors.ErrCodeStore, "redis consume budget for %s", k)
		}
		if charged == 1 {
			result[k] = model.BudgetConsumed
		} else {
			result[k] = model.BudgetExhausted
		}
	}
	return result, nil
}

// RedisBudgetJournal stores per-job consumption progress as JSON documents in Redis.
type RedisBudgetJournal struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	timeProvider TimeProvider
}

// NewRedisBudgetJournal creates a journal whose entries expire after ttl. ttl must outlive the
// job retention window.
func NewRedisBudgetJournal(client redis.UniversalClient, prefix string, ttl time.Duration, tp TimeProvider) *RedisBudgetJournal {
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	if tp == nil {
		tp = RealTimeProvider{}
	}
	return &RedisBudgetJournal{client: client, prefix: prefix, ttl: ttl, timeProvider: tp}
}

func (j *RedisBudgetJournal) redisKey(jobKey string) string {
	return j.prefix + "journal:" + jobKey
}

// Begin writes an INTENT entry unless one already exists.
func (j *RedisBudgetJournal) Begin(ctx context.Context, jobKey string) (*model.BudgetJournalEntry, bool, error) {
	if jobKey == "" {
		return nil, false, apperrors.InvalidField("job_key", ErrJobKeyRequired.Error())
	}

	entry := model.BudgetJournalEntry{
		JobKey:    jobKey,
		State:     model.JournalIntent,
		UpdatedAt: j.timeProvider.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, false, fmt.Errorf("marshal journal entry: %w", err)
	}

	status, err := j.client.SetArgs(ctx, j.redisKey(jobKey), payload, redis.SetArgs{Mode: "NX", TTL: j.ttl}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis begin journal for %s", jobKey)
	}
	if status == "OK" {
		return &entry, true, nil
	}

	existing, err := j.Get(ctx, jobKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, apperrors.Conflictf("journal entry for %s vanished during begin", jobKey)
	}
	return existing, false, nil
}

// Record replaces an INTENT entry with the recorded outcomes.
func (j *RedisBudgetJournal) Record(ctx context.Context, jobKey string, outcomes model.ConsumptionResult) error {
	key := j.redisKey(jobKey)
	err := j.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, getErr := tx.Get(ctx, key).Bytes()
		if errors.Is(getErr, redis.Nil) {
			return ErrJournalNotStarted
		}
		if getErr != nil {
			return getErr
		}
		var current model.BudgetJournalEntry
		if decErr := json.Unmarshal(raw, &current); decErr != nil {
			return fmt.Errorf("decode journal entry: %w", decErr)
		}
		if current.State != model.JournalIntent {
			return ErrJournalNotStarted
		}

		next := model.BudgetJournalEntry{
			JobKey:    jobKey,
			State:     model.JournalRecorded,
			Outcomes:  outcomes,
			UpdatedAt: j.timeProvider.Now().UTC(),
		}
		payload, encErr := json.Marshal(next)
		if encErr != nil {
			return fmt.Errorf("marshal journal entry: %w", encErr)
		}
		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, payload, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return pipeErr
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrJournalNotStarted):
		return apperrors.Wrapf(err, apperrors.ErrCodeConflict, "record budget journal for %s", jobKey)
	case errors.Is(err, redis.TxFailedErr):
		return apperrors.Wrapf(err, apperrors.ErrCodeConflict, "record budget journal for %s", jobKey)
	default:
		return apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis record journal for %s", jobKey)
	}
}

// Abandon deletes jobKey's entry if it is still an INTENT.
func (j *RedisBudgetJournal) Abandon(ctx context.Context, jobKey string) error {
	key := j.redisKey(jobKey)
	err := j.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, getErr := tx.Get(ctx, key).Bytes()
		if errors.Is(getErr, redis.Nil) {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		var current model.BudgetJournalEntry
		if decErr := json.Unmarshal(raw, &current); decErr != nil {
			return fmt.Errorf("decode journal entry: %w", decErr)
		}
		if current.State != model.JournalIntent {
			return nil
		}
		_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return pipeErr
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return apperrors.Wrapf(err, apperrors.ErrCodeConflict, "abandon budget journal for %s", jobKey)
	default:
		return apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis abandon journal for %s", jobKey)
	}
}

// Get returns the entry for jobKey, or nil when none exists.
func (j *RedisBudgetJournal) Get(ctx context.Context, jobKey string) (*model.BudgetJournalEntry, error) {
	raw, err := j.client.Get(ctx, j.redisKey(jobKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeStore, "redis get journal for %s", jobKey)
	}
	var entry model.BudgetJournalEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode journal entry: %w", err)
	}
	return &entry, nil
}

// Health checks the health of the Redis connection.
func (l *RedisBudgetLedger) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
