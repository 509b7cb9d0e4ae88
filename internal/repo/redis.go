package repo

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type Redis struct{ C *redis.Client }

func NewRedis(addr string) *Redis {
	return &Redis{C: redis.NewClient(&redis.Options{Addr: addr})}
}

func (r *Redis) Ping(ctx context.Context) error { return r.C.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.C.Close() }

// first hit in a window starts the expiry; later hits only count
const incrWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

// Hit counts one request against key in a fixed window and returns the count
// so far.
func (r *Redis) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return r.C.Eval(ctx, incrWindowScript, []string{key}, window.Milliseconds()).Int64()
}
