package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leakwatch/leakwatch/internal/claim"
)

const (
	keyClaim     = "lw:claim:"
	keyUnscanned = "lw:unscanned"
	keyWatchlist = "lw:watchlist"
	keyMatch     = "lw:match:"
	keyAlert     = "lw:alert:"
	keyAlertIdx  = "lw:alerts"
)

// Redis is a Store backed by a Redis instance. Idempotence on natural keys
// is enforced with SETNX so that concurrent writers agree on first-write.
type Redis struct {
	cli    *redis.Client
	opTime time.Duration
}

func NewRedis(addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{cli: cli, opTime: 5 * time.Second}, nil
}

// Ping is exposed for health checks.
func (s *Redis) Ping(ctx context.Context) error {
	return s.cli.Ping(ctx).Err()
}

func (s *Redis) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTime)
}

func (s *Redis) PutRawClaim(ctx context.Context, c claim.RawClaim) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, err := json.Marshal(c)
	if err != nil {
		return false, err
	}
	created, err := s.cli.SetNX(ctx, keyClaim+c.Fingerprint, b, 0).Result()
	if err != nil || !created {
		return false, err
	}
	return true, s.cli.SAdd(ctx, keyUnscanned, c.Fingerprint).Err()
}

func (s *Redis) GetUnmatchedClaims(ctx context.Context) ([]claim.RawClaim, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	fps, err := s.cli.SMembers(ctx, keyUnscanned).Result()
	if err != nil {
		return nil, err
	}
	out := make([]claim.RawClaim, 0, len(fps))
	for _, fp := range fps {
		b, err := s.cli.Get(ctx, keyClaim+fp).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var c claim.RawClaim
		if err := json.Unmarshal(b, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Redis) MarkClaimScanned(ctx context.Context, fingerprint string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cli.SRem(ctx, keyUnscanned, fingerprint).Err()
}

func (s *Redis) GetActiveWatchlist(ctx context.Context) ([]claim.WatchlistIdentifier, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	vals, err := s.cli.HVals(ctx, keyWatchlist).Result()
	if err != nil {
		return nil, err
	}
	out := make([]claim.WatchlistIdentifier, 0, len(vals))
	for _, v := range vals {
		var w claim.WatchlistIdentifier
		if err := json.Unmarshal([]byte(v), &w); err != nil {
			return nil, err
		}
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Redis) PutWatchlistIdentifier(ctx context.Context, w claim.WatchlistIdentifier) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return s.cli.HSet(ctx, keyWatchlist, w.ID, b).Err()
}

func (s *Redis) PutMatchResult(ctx context.Context, m claim.MatchResult) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, err := json.Marshal(m)
	if err != nil {
		return false, err
	}
	return s.cli.SetNX(ctx, keyMatch+m.Key(), b, 0).Result()
}

func (s *Redis) PutAlertRecord(ctx context.Context, a claim.AlertRecord) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	b, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	key := keyAlert + a.IdentifierID + "|" + a.Fingerprint
	created, err := s.cli.SetNX(ctx, key, b, 0).Result()
	if err != nil || !created {
		return false, err
	}
	return true, s.cli.RPush(ctx, keyAlertIdx, key).Err()
}

func (s *Redis) ListAlerts(ctx context.Context) ([]claim.AlertRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	keys, err := s.cli.LRange(ctx, keyAlertIdx, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]claim.AlertRecord, 0, len(keys))
	for _, k := range keys {
		b, err := s.cli.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var a claim.AlertRecord
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Redis) AckAlert(ctx context.Context, id string) error {
	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, a := range alerts {
		if a.ID != id {
			continue
		}
		a.Acknowledged = true
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return s.cli.Set(ctx, keyAlert+a.IdentifierID+"|"+a.Fingerprint, b, 0).Err()
	}
	return ErrNotFound
}
