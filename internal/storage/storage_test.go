package storage

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedis(client), mr
}

func backends(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(),
		"redis":  redisStore,
	}
}

func TestStoreApplyAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, KeyToken); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}

			err := s.Apply(ctx, Mutation{Set: map[string]string{KeyToken: "abc", KeyUser: `{"name":"Ada"}`}})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			token, err := s.Get(ctx, KeyToken)
			if err != nil || token != "abc" {
				t.Fatalf("expected token abc, got %q (%v)", token, err)
			}

			if err := Delete(ctx, s, KeyToken, KeyUser, "never-set"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Get(ctx, KeyUser); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected user removed, got %v", err)
			}
			if err := s.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}
		})
	}
}

func TestRedisApplyIsTransactional(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	if err := Set(ctx, s, KeyPendingEmail, "a@b.com"); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := s.Apply(ctx, Mutation{
		Set:    map[string]string{KeyToken: "t", KeyUser: "{}"},
		Delete: []string{KeyPendingEmail},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mr.Exists(KeyPendingEmail) {
		t.Fatal("expected pending email deleted in the same transaction")
	}
	if got, _ := mr.Get(KeyToken); got != "t" {
		t.Fatalf("expected token written, got %q", got)
	}
}

func TestWithPrefixNamespacesKeys(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	a := WithPrefix(inner, "device:a:")
	b := WithPrefix(inner, "device:b:")

	if err := Set(ctx, a, KeyToken, "token-a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := b.Get(ctx, KeyToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected isolation between prefixes, got %v", err)
	}
	if v, err := inner.Get(ctx, "device:a:"+KeyToken); err != nil || v != "token-a" {
		t.Fatalf("expected prefixed key in inner store, got %q (%v)", v, err)
	}
	if err := Delete(ctx, a, KeyToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if inner.Len() != 0 {
		t.Fatalf("expected inner store empty, got %d keys", inner.Len())
	}
}

func TestGetJSONTreatsCorruptionAsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_ = Set(ctx, s, KeyBeneficiaries, "{not json")

	var out []map[string]any
	ok, err := GetJSON(ctx, s, KeyBeneficiaries, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected corrupt value reported as absent")
	}

	ok, err = GetJSON(ctx, s, "missing", &out)
	if ok || err != nil {
		t.Fatalf("expected missing key absent without error, got %v %v", ok, err)
	}
}
