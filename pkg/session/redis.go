package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix = "foreman:session:"

	// retention keeps records readable past expiry so the sweeper and
	// late status queries can still see them.
	retention = 24 * time.Hour
)

// RedisStore persists session state across restarts.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore builds a store over an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) save(ctx context.Context, kind, id string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", kind, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, redisPrefix+kind+":"+id, payload, ttl)
	pipe.SAdd(ctx, redisPrefix+kind+":index", id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) get(ctx context.Context, kind, id string, v any) error {
	raw, err := s.rdb.Get(ctx, redisPrefix+kind+":"+id).Bytes()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (s *RedisStore) ids(ctx context.Context, kind string) ([]string, error) {
	return s.rdb.SMembers(ctx, redisPrefix+kind+":index").Result()
}

func (s *RedisStore) SaveMCP(ctx context.Context, sess *MCPSession) error {
	return s.save(ctx, "mcp", sess.ID, sess, time.Until(sess.ExpiresAt)+retention)
}

func (s *RedisStore) GetMCP(ctx context.Context, id string) (*MCPSession, error) {
	var sess MCPSession
	if err := s.get(ctx, "mcp", id, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) ListMCP(ctx context.Context) ([]*MCPSession, error) {
	ids, err := s.ids(ctx, "mcp")
	if err != nil {
		return nil, err
	}
	var out []*MCPSession
	for _, id := range ids {
		sess, err := s.GetMCP(ctx, id)
		if err == ErrNotFound {
			s.rdb.SRem(ctx, redisPrefix+"mcp:index", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) SaveA2A(ctx context.Context, sess *A2ASession) error {
	return s.save(ctx, "a2a", sess.ID, sess, time.Until(sess.ExpiresAt)+retention)
}

func (s *RedisStore) GetA2A(ctx context.Context, id string) (*A2ASession, error) {
	var sess A2ASession
	if err := s.get(ctx, "a2a", id, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *RedisStore) ListA2A(ctx context.Context) ([]*A2ASession, error) {
	ids, err := s.ids(ctx, "a2a")
	if err != nil {
		return nil, err
	}
	var out []*A2ASession
	for _, id := range ids {
		sess, err := s.GetA2A(ctx, id)
		if err == ErrNotFound {
			s.rdb.SRem(ctx, redisPrefix+"a2a:index", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *RedisStore) SaveNegotiation(ctx context.Context, n *Negotiation) error {
	return s.save(ctx, "negotiation", n.ID, n, retention)
}

func (s *RedisStore) GetNegotiation(ctx context.Context, id string) (*Negotiation, error) {
	var n Negotiation
	if err := s.get(ctx, "negotiation", id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *RedisStore) SaveTask(ctx context.Context, t *TaskExecution) error {
	return s.save(ctx, "task", t.TaskID, t, retention)
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (*TaskExecution, error) {
	var t TaskExecution
	if err := s.get(ctx, "task", id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *RedisStore) ListTasksBySession(ctx context.Context, sessionID string) ([]*TaskExecution, error) {
	all, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*TaskExecution
	for _, t := range all {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *RedisStore) ListTasks(ctx context.Context) ([]*TaskExecution, error) {
	ids, err := s.ids(ctx, "task")
	if err != nil {
		return nil, err
	}
	var out []*TaskExecution
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err == ErrNotFound {
			s.rdb.SRem(ctx, redisPrefix+"task:index", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
