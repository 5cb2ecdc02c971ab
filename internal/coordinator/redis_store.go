package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// RedisStore keeps holds in one Redis hash per bus (holds:{busID}, field =
// seat number, value = JSON hold).  Acquire, release and expiry run as Lua
// scripts so several server processes arbitrate the same seat atomically.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore returns a store using keys prefixed with prefix (default
// "holds:").
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "holds:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

type storedHold struct {
	Seat       int    `json:"seat"`
	HolderID   string `json:"holderId"`
	UserID     string `json:"userId"`
	SelectedAt int64  `json:"selectedAt"` // unix ms
}

// reply codes of acquireScript, matching AcquireStatus
var acquireScript = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], ARGV[1])
	if cur then
		local h = cjson.decode(cur)
		if tonumber(h.selectedAt) + tonumber(ARGV[4]) > tonumber(ARGV[3]) then
			if h.holderId == ARGV[2] then
				return {1, cur}
			end
			return {2, cur}
		end
	end
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[6])
	return {0, ARGV[5]}
`)

var releaseScript = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], ARGV[1])
	if not cur then
		return 0
	end
	if cjson.decode(cur).holderId ~= ARGV[2] then
		return 0
	end
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 1
`)

var releaseHolderScript = redis.NewScript(`
	local all = redis.call('HGETALL', KEYS[1])
	local out = {}
	for i = 1, #all, 2 do
		if cjson.decode(all[i + 1]).holderId == ARGV[1] then
			redis.call('HDEL', KEYS[1], all[i])
			table.insert(out, all[i + 1])
		end
	end
	return out
`)

var expireScript = redis.NewScript(`
	local all = redis.call('HGETALL', KEYS[1])
	local out = {}
	for i = 1, #all, 2 do
		local h = cjson.decode(all[i + 1])
		if tonumber(h.selectedAt) + tonumber(ARGV[2]) <= tonumber(ARGV[1]) then
			redis.call('HDEL', KEYS[1], all[i])
			table.insert(out, all[i + 1])
		end
	end
	return out
`)

func (s *RedisStore) key(busID string) string { return s.prefix + busID }

func (s *RedisStore) Acquire(ctx context.Context, busID string, h Hold, now time.Time) (Hold, AcquireStatus, error) {
	payload, err := encodeHold(h)
	if err != nil {
		return Hold{}, Locked, err
	}
	args := []interface{}{
		strconv.Itoa(h.Seat),
		h.HolderID,
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(model.HoldTTL.Milliseconds(), 10),
		payload,
		strconv.FormatInt((2 * model.HoldTTL).Milliseconds(), 10),
	}
	vals, err := acquireScript.Run(ctx, s.rdb, []string{s.key(busID)}, args...).Slice()
	if err != nil {
		return Hold{}, Locked, fmt.Errorf("acquire seat %d: %w", h.Seat, err)
	}
	if len(vals) != 2 {
		return Hold{}, Locked, fmt.Errorf("acquire seat %d: unexpected reply %v", h.Seat, vals)
	}
	code, _ := vals[0].(int64)
	raw, _ := vals[1].(string)
	stored, err := decodeHold(raw)
	if err != nil {
		return Hold{}, Locked, err
	}
	return stored, AcquireStatus(code), nil
}

func (s *RedisStore) Release(ctx context.Context, busID string, seat int, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{s.key(busID)}, strconv.Itoa(seat), holderID).Int()
	if err != nil {
		return false, fmt.Errorf("release seat %d: %w", seat, err)
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseHolder(ctx context.Context, busID, holderID string) ([]int, error) {
	raw, err := releaseHolderScript.Run(ctx, s.rdb, []string{s.key(busID)}, holderID).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("release holder %s: %w", holderID, err)
	}
	holds, err := decodeHolds(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(holds))
	for i, h := range holds {
		out[i] = h.Seat
	}
	return out, nil
}

func (s *RedisStore) Holds(ctx context.Context, busID string) ([]Hold, error) {
	all, err := s.rdb.HGetAll(ctx, s.key(busID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list holds of bus %s: %w", busID, err)
	}
	raw := make([]string, 0, len(all))
	for _, v := range all {
		raw = append(raw, v)
	}
	return decodeHolds(raw)
}

func (s *RedisStore) Expire(ctx context.Context, busID string, now time.Time) ([]Hold, error) {
	raw, err := expireScript.Run(ctx, s.rdb, []string{s.key(busID)},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(model.HoldTTL.Milliseconds(), 10),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("expire holds of bus %s: %w", busID, err)
	}
	return decodeHolds(raw)
}

func (s *RedisStore) Remove(ctx context.Context, busID string, seats []int) error {
	if len(seats) == 0 {
		return nil
	}
	fields := make([]string, len(seats))
	for i, n := range seats {
		fields[i] = strconv.Itoa(n)
	}
	if err := s.rdb.HDel(ctx, s.key(busID), fields...).Err(); err != nil {
		return fmt.Errorf("remove holds of bus %s: %w", busID, err)
	}
	return nil
}

func encodeHold(h Hold) (string, error) {
	b, err := json.Marshal(storedHold{
		Seat:       h.Seat,
		HolderID:   h.HolderID,
		UserID:     h.UserID,
		SelectedAt: h.SelectedAt.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("encode hold: %w", err)
	}
	return string(b), nil
}

func decodeHold(raw string) (Hold, error) {
	var sh storedHold
	if err := json.Unmarshal([]byte(raw), &sh); err != nil {
		return Hold{}, fmt.Errorf("decode hold: %w", err)
	}
	return Hold{
		Seat:       sh.Seat,
		HolderID:   sh.HolderID,
		UserID:     sh.UserID,
		SelectedAt: time.UnixMilli(sh.SelectedAt).UTC(),
	}, nil
}

func decodeHolds(raw []string) ([]Hold, error) {
	out := make([]Hold, 0, len(raw))
	for _, r := range raw {
		h, err := decodeHold(r)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	sortHolds(out)
	return out, nil
}
