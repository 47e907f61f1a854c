package runlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"janitor/internal/apperr"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis is a Locker shared by every replica pointing at the same server.
// The TTL bounds how long a crashed holder can block a tenant.
type Redis struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
	Now    func() time.Time
}

func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{Client: client, Prefix: "janitor:runlock:", TTL: ttl}, nil
}

func (r *Redis) key(tenant string) string {
	return r.Prefix + tenant
}

func (r *Redis) TryAcquire(ctx context.Context, tenant, kind string) (func(), error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	h := Holder{Owner: uuid.NewString(), Kind: kind, Since: now().UTC()}
	val, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	ok, err := r.Client.SetNX(ctx, r.key(tenant), string(val), ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		cur, found, err := r.Current(ctx, tenant)
		if err != nil || !found {
			// the holder expired between SETNX and GET; still report busy
			return nil, apperr.RunInProgressError{Tenant: tenant}
		}
		return nil, apperr.RunInProgressError{Tenant: tenant, Kind: cur.Kind, Since: cur.Since}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Client.Eval(rctx, releaseScript, []string{r.key(tenant)}, string(val)).Err()
		})
	}, nil
}

func (r *Redis) Current(ctx context.Context, tenant string) (Holder, bool, error) {
	raw, err := r.Client.Get(ctx, r.key(tenant)).Result()
	if errors.Is(err, redis.Nil) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	var h Holder
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return Holder{}, false, fmt.Errorf("decode run lock: %w", err)
	}
	return h, true, nil
}
