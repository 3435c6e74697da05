package blobstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"blockmail/internal/mail"
)

// fakeRedis answers Get and SetNX from a map.
type fakeRedis struct {
	values map[string]string
	err    error
	closed bool
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = string(value.([]byte))
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisStore_UploadGet(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{values: make(map[string]string)}
	s := &RedisStore{rdb: fake}

	id, err := s.Upload(ctx, []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, ok := fake.values[redisKeyPrefix+id]; !ok {
		t.Errorf("value not stored under %q", redisKeyPrefix+id)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"k":"v"}` {
		t.Errorf("Get() = %q", got)
	}

	missing, _ := ContentID([]byte("nope"))
	got, err = s.Get(ctx, missing)
	if err != nil || got != nil {
		t.Errorf("Get(missing) = %q, %v; want nil, nil", got, err)
	}

	if err := s.Close(); err != nil || !fake.closed {
		t.Errorf("Close() error = %v, closed = %v", err, fake.closed)
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := &RedisStore{rdb: &fakeRedis{values: map[string]string{}, err: errors.New("i/o timeout")}}

	if _, err := s.Upload(ctx, []byte("x")); !errors.Is(err, mail.ErrBlobUnavailable) {
		t.Errorf("Upload() error = %v, want ErrBlobUnavailable", err)
	}
	id, _ := ContentID([]byte("x"))
	if _, err := s.Get(ctx, id); !errors.Is(err, mail.ErrBlobUnavailable) {
		t.Errorf("Get() error = %v, want ErrBlobUnavailable", err)
	}
}

// Runs against a real server when BLOCKMAIL_TEST_REDIS_ADDR is set.
func TestRedisStore_Live(t *testing.T) {
	addr := os.Getenv("BLOCKMAIL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BLOCKMAIL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s := NewRedisStore(&redis.Options{Addr: addr})
	defer s.Close()

	id, err := s.Upload(ctx, []byte(`{"live":true}`))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"live":true}` {
		t.Errorf("Get() = %q", got)
	}
}
