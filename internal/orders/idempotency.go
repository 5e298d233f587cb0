package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/pos-ticketing/internal/redisx"
	"github.com/redis/go-redis/v9"
)

type RedisIdempotency struct {
	RDB redis.Cmdable
}

func (r RedisIdempotency) Lookup(ctx context.Context, externalID string) (string, bool) {
	id, err := r.RDB.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, externalID)).Result()
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

func (r RedisIdempotency) Remember(ctx context.Context, externalID, orderID string) {
	_ = r.RDB.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, externalID), orderID, redisx.TTLIdempotency).Err()
}
