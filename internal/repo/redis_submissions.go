package repo

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisIndexKey = "submissions"

// RedisSubmissionRepo stores each record as a JSON value under
// "submission:<instanceId>" and tracks ids in a set. A non-zero ttl expires
// records that stop being updated.
type RedisSubmissionRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSubmissionRepo(rdb *redis.Client, ttl time.Duration) *RedisSubmissionRepo {
	return &RedisSubmissionRepo{rdb: rdb, ttl: ttl}
}

func redisKey(instanceID string) string {
	return "submission:" + instanceID
}

func (r *RedisSubmissionRepo) Get(ctx context.Context, instanceID string) (model.SubmissionRecord, error) {
	b, err := r.rdb.Get(ctx, redisKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.SubmissionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.SubmissionRecord{}, unavailable("redis get", err)
	}

	var rec model.SubmissionRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.SubmissionRecord{}, unavailable("redis decode "+instanceID, err)
	}
	if err := rec.Validate(); err != nil {
		return model.SubmissionRecord{}, unavailable("redis decode "+instanceID, err)
	}
	return rec, nil
}

func (r *RedisSubmissionRepo) Put(ctx context.Context, rec model.SubmissionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, redisKey(rec.InstanceID), b, r.ttl)
	pipe.SAdd(ctx, redisIndexKey, rec.InstanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("redis put", err)
	}
	return nil
}

func (r *RedisSubmissionRepo) Delete(ctx context.Context, instanceID string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, redisKey(instanceID))
	pipe.SRem(ctx, redisIndexKey, instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("redis delete", err)
	}
	return nil
}

// ListInstanceIDs also prunes ids whose record has expired.
func (r *RedisSubmissionRepo) ListInstanceIDs(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, unavailable("redis list", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	exists := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		exists[i] = pipe.Exists(ctx, redisKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("redis list", err)
	}

	live := make([]string, 0, len(ids))
	var stale []any
	for i, id := range ids {
		if exists[i].Val() > 0 {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, redisIndexKey, stale...).Err(); err != nil {
			return nil, unavailable("redis prune", err)
		}
	}

	sort.Strings(live)
	return live, nil
}
