package session

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON document per room plus a permanent code
// reservation and a per-user sorted set of finished rooms.
type RedisStore struct {
    rdb *redis.Client
    ttl time.Duration // 0 keeps documents forever
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
    return &RedisStore{rdb: rdb, ttl: ttl}
}

// OpenRedisStore dials redisURL and verifies the connection.
func OpenRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for redis store")
    }
    opts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := rdb.Ping(pctx).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewRedisStore(rdb, ttl), nil
}

func (s *RedisStore) Close() error {
    if s == nil || s.rdb == nil { return nil }
    return s.rdb.Close()
}

func roomKey(id string) string          { return "ttt:room:" + strings.TrimSpace(id) }
func codeKey(id string) string          { return "ttt:code:" + strings.TrimSpace(id) }
func finishedKey(userID string) string  { return "ttt:user:" + strings.TrimSpace(userID) + ":finished" }

func (s *RedisStore) Reserve(ctx context.Context, roomID string) (bool, error) {
    ok, err := s.rdb.SetNX(ctx, codeKey(roomID), time.Now().UTC().Format(time.RFC3339), 0).Result()
    if err != nil { return false, err }
    return ok, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
    if sess == nil { return nil }
    raw, err := json.Marshal(sess)
    if err != nil { return err }
    _, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
        p.Set(ctx, roomKey(sess.RoomID), raw, s.ttl)
        if sess.Status == StatusFinished {
            at := sess.FinishedAt
            if at.IsZero() { at = sess.UpdatedAt }
            for _, pl := range sess.Players {
                if strings.TrimSpace(pl.UserID) == "" { continue }
                p.ZAdd(ctx, finishedKey(pl.UserID), redis.Z{Score: float64(at.UnixMilli()), Member: sess.RoomID})
            }
        }
        return nil
    })
    return err
}

func (s *RedisStore) Load(ctx context.Context, roomID string) (*Session, error) {
    raw, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
    if errors.Is(err, redis.Nil) { return nil, nil }
    if err != nil { return nil, err }
    var sess Session
    if err := json.Unmarshal(raw, &sess); err != nil { return nil, err }
    return &sess, nil
}

func (s *RedisStore) FinishedByUser(ctx context.Context, userID string, limit int) ([]*Session, error) {
    if strings.TrimSpace(userID) == "" { return []*Session{}, nil }
    stop := int64(-1)
    if limit > 0 { stop = int64(limit - 1) }
    ids, err := s.rdb.ZRevRange(ctx, finishedKey(userID), 0, stop).Result()
    if err != nil { return nil, err }
    out := make([]*Session, 0, len(ids))
    for _, id := range ids {
        sess, lerr := s.Load(ctx, id)
        // expired documents leave stale index members behind
        if lerr != nil || sess == nil { continue }
        out = append(out, sess)
    }
    return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" { if n, err := strconv.Atoi(p); err == nil { db = n } }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
