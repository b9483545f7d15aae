package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/vtu-pay/vtu_pay/internal/config"
	"github.com/vtu-pay/vtu_pay/internal/logging"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

func TestOpenRedisDriver(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := config.Config{AppName: "test", StorageDriver: config.StorageRedis, RedisURL: "redis://" + mr.Addr()}
	b, err := Open(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close(logging.Discard())

	if b.Cache == nil || b.DB != nil {
		t.Fatalf("expected redis only, got %+v", b)
	}
	if err := storage.Set(context.Background(), b.Store, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected value in redis, got %q", got)
	}
}

func TestOpenMemoryDriverKeepsRedisForSharedUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	cfg := config.Config{StorageDriver: config.StorageMemory, RedisURL: "redis://" + mr.Addr()}
	b, err := Open(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close(logging.Discard())

	if _, ok := b.Store.(*storage.Memory); !ok {
		t.Fatalf("expected memory store, got %T", b.Store)
	}
	if b.Cache == nil {
		t.Fatalf("expected redis client for idempotency")
	}
}

func TestOpenRejectsUnreachableRedis(t *testing.T) {
	cfg := config.Config{StorageDriver: config.StorageMemory, RedisURL: "redis://127.0.0.1:1"}
	if _, err := Open(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestNewPostgresPoolRequiresURL(t *testing.T) {
	if _, err := NewPostgresPool(context.Background(), "", "test"); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
