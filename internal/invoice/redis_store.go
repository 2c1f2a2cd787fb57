package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix matches the persisted state layout: each invoice is stored
// under key payment:<paymentId>.
const keyPrefix = "payment:"

// markUsedScript performs the used=false -> used=true transition atomically
// server-side: it re-reads the stored JSON, refuses to act on an absent or
// already-used invoice, and only then writes the updated record back with
// its original TTL preserved. This is the Redis analogue of MemoryStore's
// single mutex: exactly one caller's script invocation can observe `1`.
var markUsedScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if raw == false then
  return 0
end
local inv = cjson.decode(raw)
if inv.used then
  return 0
end
inv.used = true
inv.usedAt = ARGV[2]
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
redis.call("SET", KEYS[1], cjson.encode(inv), "PX", ttl)
return 1
`)

// redisInvoice is the wire shape stored at key payment:<paymentId>.
type redisInvoice struct {
	PaymentID string     `json:"paymentId"`
	Amount    string     `json:"amount"`
	Mint      string     `json:"mint"`
	Recipient string     `json:"recipient"`
	Method    string     `json:"method"`
	CreatedAt time.Time  `json:"createdAt"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
	TTLMillis int64      `json:"ttlMillis"`
}

func toRedisInvoice(inv Invoice) redisInvoice {
	return redisInvoice{
		PaymentID: inv.PaymentID,
		Amount:    inv.Amount,
		Mint:      inv.Mint,
		Recipient: inv.Recipient,
		Method:    inv.Method,
		CreatedAt: inv.CreatedAt,
		Used:      inv.Used,
		UsedAt:    inv.UsedAt,
		TTLMillis: inv.TTL.Milliseconds(),
	}
}

func (r redisInvoice) toInvoice() Invoice {
	return Invoice{
		PaymentID: r.PaymentID,
		Amount:    r.Amount,
		Mint:      r.Mint,
		Recipient: r.Recipient,
		Method:    r.Method,
		CreatedAt: r.CreatedAt,
		Used:      r.Used,
		UsedAt:    r.UsedAt,
		TTL:       time.Duration(r.TTLMillis) * time.Millisecond,
	}
}

// RedisStore is the external-KV Store backend, used when the gateway is run
// with more than one instance so replay protection is shared across them.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials url (a standard redis:// or rediss:// URL) and verifies
// connectivity with a bounded ping before returning.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invoice: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("invoice: ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by tests
// against a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(paymentID string) string {
	return keyPrefix + paymentID
}

// Create implements Store.
func (r *RedisStore) Create(ctx context.Context, inv Invoice) error {
	payload, err := json.Marshal(toRedisInvoice(inv))
	if err != nil {
		return fmt.Errorf("invoice: marshal: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(inv.PaymentID), payload, inv.TTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, paymentID string) (*Invoice, error) {
	raw, err := r.client.Get(ctx, redisKey(paymentID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var stored redisInvoice
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: corrupt invoice record: %v", ErrStoreUnavailable, err)
	}
	inv := stored.toInvoice()
	if inv.Expired(time.Now()) {
		return nil, nil
	}
	return &inv, nil
}

// MarkUsed implements Store via markUsedScript, making the check-and-set a
// single atomic Redis operation.
func (r *RedisStore) MarkUsed(ctx context.Context, paymentID string) (bool, error) {
	now := time.Now().Format(time.RFC3339Nano)
	res, err := markUsedScript.Run(ctx, r.client, []string{redisKey(paymentID)},
		int64(5*time.Minute/time.Millisecond), now).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, paymentID string) error {
	if err := r.client.Del(ctx, redisKey(paymentID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Stats implements Store. It scans the payment: keyspace, which is
// acceptable at the scale this gateway targets (thousands, not millions, of
// live invoices thanks to short TTLs).
func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Backend: r.Backend()}
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var stored redisInvoice
		if json.Unmarshal(raw, &stored) != nil {
			continue
		}
		s.Total++
		if stored.Used {
			s.Used++
		} else {
			s.Unused++
		}
	}
	if err := iter.Err(); err != nil {
		return s, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return s, nil
}

// Backend implements Store.
func (r *RedisStore) Backend() string {
	return "redis"
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
