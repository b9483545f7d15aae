package device

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vtu-pay/vtu_pay/internal/backendtest"
	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/logging"
	"github.com/vtu-pay/vtu_pay/internal/session"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

func backend(t *testing.T) *backendtest.Server {
	return backendtest.Start(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@x.com"}}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusUnauthorized, fiber.Map{"message": "Unauthenticated"}))
	})
}

func TestRegistryIsolatesDevices(t *testing.T) {
	srv := backend(t)
	base := storage.NewMemory()
	reg := NewRegistry(base, Config{BackendURL: srv.URL, RequestTimeout: time.Second, Logger: logging.Discard()})
	defer reg.Close()
	ctx := context.Background()

	idA, idB := uuid.NewString(), uuid.NewString()
	a, err := reg.Get(ctx, idA)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	b, _ := reg.Get(ctx, strings.ToUpper(idB))

	if err := a.Session.Login(ctx, session.Credentials{Email: "a@x.com"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if b.Session.Snapshot().IsAuthenticated {
		t.Fatalf("login on one device leaked into another")
	}
	if v, err := base.Get(ctx, "device:"+idA+":"+storage.KeyToken); err != nil || v != "T1" {
		t.Fatalf("expected namespaced token, got %q %v", v, err)
	}

	again, _ := reg.Get(ctx, idA)
	if again != a || reg.Len() != 2 {
		t.Fatalf("expected cached bundle")
	}
	if !again.Session.Snapshot().IsHydrated {
		t.Fatalf("bundles must be hydrated before use")
	}
}

func TestRegistryRejectsInvalidID(t *testing.T) {
	reg := NewRegistry(storage.NewMemory(), Config{Logger: logging.Discard()})
	if _, err := reg.Get(context.Background(), "not-a-uuid"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestRegistryRecordsAndRelaysInvalidation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	srv := backend(t)
	reg := NewRegistry(storage.NewMemory(), Config{
		BackendURL:     srv.URL,
		RequestTimeout: time.Second,
		Relay:          events.NewRedisRelay(client, "vtu:session.events", logging.Discard()),
		Logger:         logging.Discard(),
	})
	defer reg.Close()
	ctx := context.Background()

	id := uuid.NewString()
	b, _ := reg.Get(ctx, id)
	_ = b.Session.Login(ctx, session.Credentials{Email: "a@x.com"})
	if _, err := b.Session.FetchUser(ctx); err == nil {
		t.Fatalf("expected unauthorized")
	}

	ev, ok := b.LastInvalidation()
	if !ok || ev.Reason != events.ReasonUnauthorized {
		t.Fatalf("expected recorded invalidation, got %+v", ev)
	}
	b.AcknowledgeInvalidation()
	if _, ok := b.LastInvalidation(); ok {
		t.Fatalf("expected invalidation acknowledged")
	}

	entries, err := client.XRange(ctx, "vtu:session.events", "-", "+").Result()
	if err != nil || len(entries) != 1 || entries[0].Values["device_id"] != id {
		t.Fatalf("expected one relayed event, got %+v %v", entries, err)
	}
}
