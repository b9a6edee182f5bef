package db

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	treePrefix     = "rtdb:"        // Hash prefix: rtdb:{root} -> leaf path fields under that root
	changesChannel = "rtdb:changes" // Pub/Sub channel carrying every written path
)

// updateScript applies a batch of subtree replacements atomically.
//
// ARGV[1] is the change channel. ARGV[2] and ARGV[3] name an optional guard
// (keyIndex, fieldPrefix; keyIndex 0 disables it): when nothing is stored under
// the guard the script writes nothing and returns 0. One group per write follows:
// keyIndex, fieldPrefix, fullPath, leafCount, then leafCount (field, value) pairs.
// Every changed path goes out in a single newline separated message.
var updateScript = redis.NewScript(`
local function under(f, prefix)
  return prefix == '' or f == prefix or string.sub(f, 1, #prefix + 1) == prefix .. '/'
end

local channel = ARGV[1]
local guard = tonumber(ARGV[2])
if guard > 0 then
  local found = false
  for _, f in ipairs(redis.call('HKEYS', KEYS[guard])) do
    if under(f, ARGV[3]) then
      found = true
      break
    end
  end
  if not found then
    return 0
  end
end

local changed = {}
local i = 4
local n = #ARGV
while i <= n do
  local key = KEYS[tonumber(ARGV[i])]
  local prefix = ARGV[i + 1]
  local path = ARGV[i + 2]
  local count = tonumber(ARGV[i + 3])
  i = i + 4

  local fields = redis.call('HKEYS', key)
  for _, f in ipairs(fields) do
    if under(f, prefix) then
      redis.call('HDEL', key, f)
    end
  end
  if prefix ~= '' then
    redis.call('HDEL', key, '')
    local p = 0
    while true do
      p = string.find(prefix, '/', p + 1, true)
      if not p then break end
      redis.call('HDEL', key, string.sub(prefix, 1, p - 1))
    end
  end

  for j = 1, count do
    redis.call('HSET', key, ARGV[i], ARGV[i + 1])
    i = i + 2
  end
  table.insert(changed, path)
end
if #changed > 0 then
  redis.call('PUBLISH', channel, table.concat(changed, '\n'))
end
return 1
`)
// RedisStore implements Store on Redis hashes, one hash per root path segment.
type RedisStore struct {
	Client *redis.Client
	Log    *zap.Logger
}

// NewRedisStore creates a new RedisStore instance
func NewRedisStore(client *redis.Client, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		Client: client,
		Log:    log,
	}
}

// Helper to generate the hash key holding a root segment
func getTreeKey(root string) string {
	return treePrefix + root
}

// locate splits a path into its hash key and field prefix.
func locate(path string) (key, field string, err error) {
	segs, err := SplitPath(path)
	if err != nil {
		return "", "", err
	}
	return getTreeKey(segs[0]), strings.Join(segs[1:], "/"), nil
}

// Get reads the full subtree at path
func (s *RedisStore) Get(ctx context.Context, path string) (Snapshot, error) {
	key, field, err := locate(path)
	if err != nil {
		return Snapshot{}, err
	}
	fields, err := s.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read %s from Redis: %w", path, err)
	}
	value, err := unflatten(field, fields)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to rebuild %s: %w", path, err)
	}
	return Snapshot{Path: JoinPath(path), Value: value}, nil
}

// Update applies all path -> value writes in one atomic script run
func (s *RedisStore) Update(ctx context.Context, updates map[string]any) error {
	_, err := s.run(ctx, "", updates)
	return err
}

// UpdateExisting is Update guarded by path: when nothing is stored there, no write
// happens and ErrMissing is returned.
func (s *RedisStore) UpdateExisting(ctx context.Context, path string, updates map[string]any) error {
	if _, _, err := locate(path); err != nil {
		return err
	}
	applied, err := s.run(ctx, path, updates)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: %s", ErrMissing, JoinPath(path))
	}
	return nil
}

func (s *RedisStore) run(ctx context.Context, guard string, updates map[string]any) (bool, error) {
	if len(updates) == 0 {
		return true, nil
	}
	paths := make([]string, 0, len(updates))
	for p := range updates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	keys := []string{}
	keyIndex := map[string]int{}
	indexOf := func(key string) int {
		idx, ok := keyIndex[key]
		if !ok {
			keys = append(keys, key)
			idx = len(keys)
			keyIndex[key] = idx
		}
		return idx
	}

	args := []any{changesChannel, "0", ""}
	if guard != "" {
		key, field, err := locate(guard)
		if err != nil {
			return false, err
		}
		args[1], args[2] = strconv.Itoa(indexOf(key)), field
	}
	for _, p := range paths {
		key, field, err := locate(p)
		if err != nil {
			return false, err
		}
		value, err := normalize(updates[p])
		if err != nil {
			return false, fmt.Errorf("%w: cannot encode %s: %v", ErrWriteRejected, p, err)
		}
		leaves := map[string]string{}
		if err := flatten(field, value, leaves); err != nil {
			return false, err
		}
		args = append(args, strconv.Itoa(indexOf(key)), field, JoinPath(p), strconv.Itoa(len(leaves)))
		for f, v := range leaves {
			args = append(args, f, v)
		}
	}

	applied, err := updateScript.Run(ctx, s.Client, keys, args...).Int()
	if err != nil {
		s.Log.Warn("store update failed", zap.Strings("paths", paths), zap.Error(err))
		return false, fmt.Errorf("%w: %v", ErrWriteRejected, err)
	}
	return applied == 1, nil
}

// Push writes value under a new child id of path
func (s *RedisStore) Push(ctx context.Context, path string, value any) (string, error) {
	id := s.NewID()
	if err := s.Update(ctx, map[string]any{JoinPath(path, id): value}); err != nil {
		return "", err
	}
	return id, nil
}

// NewID returns a time-ordered unique id; ids created later sort after earlier ones.
func (s *RedisStore) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Subscribe starts delivering snapshots of path until ctx is done or the subscription is closed
func (s *RedisStore) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	if _, err := SplitPath(path); err != nil {
		return nil, err
	}
	path = JoinPath(path)

	ps := s.Client.Subscribe(ctx, changesChannel)
	// Wait for the subscription to be confirmed so no change after the first read is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSubscription, path, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := newSubscription(path, cancel)
	go func() {
		defer func() {
			if err := ps.Close(); err != nil {
				s.Log.Debug("closing pubsub", zap.String("path", path), zap.Error(err))
			}
			sub.finish()
		}()

		if !s.redeliver(subCtx, sub) {
			return
		}
		changes := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-changes:
				if !ok {
					sub.fail(fmt.Errorf("%w: %s: change feed closed", ErrSubscription, path))
					return
				}
				if !touches(msg.Payload, path) {
					continue
				}
				if !s.redeliver(subCtx, sub) {
					return
				}
			}
		}
	}()
	return sub, nil
}

// touches reports whether any path of a change message overlaps path.
func touches(payload, path string) bool {
	for _, changed := range strings.Split(payload, "\n") {
		if Overlaps(changed, path) {
			return true
		}
	}
	return false
}

func (s *RedisStore) redeliver(ctx context.Context, sub *Subscription) bool {
	snap, err := s.Get(ctx, sub.path)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.Log.Error("subscription read failed", zap.String("path", sub.path), zap.Error(err))
		sub.fail(fmt.Errorf("%w: %v", ErrSubscription, err))
		return false
	}
	sub.deliver(snap)
	return true
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

// InitializeRedisClient creates and tests a Redis client connection
func InitializeRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}
