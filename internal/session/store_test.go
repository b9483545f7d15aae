package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vtu-pay/vtu_pay/internal/api"
	"github.com/vtu-pay/vtu_pay/internal/backendtest"
	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/identity"
	"github.com/vtu-pay/vtu_pay/internal/logging"
	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

type harness struct {
	store *Store
	kv    *storage.Memory
	bus   *events.Bus
	srv   *backendtest.Server
}

func newHarness(t *testing.T, register func(app *fiber.App)) *harness {
	t.Helper()
	srv := backendtest.Start(t, register)
	kv := storage.NewMemory()
	bus := events.NewBus()
	client := api.NewClient(api.Options{BaseURL: srv.URL, Timeout: 2 * time.Second, Storage: kv, Bus: bus, Logger: logging.Discard()})
	store := NewStore(Options{
		Client:        client,
		Storage:       kv,
		Bus:           bus,
		Uploader:      &stubUploader{url: "https://img.example/p.png"},
		Logger:        logging.Discard(),
		LogoutTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(store.Close)
	store.Hydrate(context.Background())
	return &harness{store: store, kv: kv, bus: bus, srv: srv}
}

func (h *harness) persistedUser(t *testing.T) (identity.User, bool) {
	t.Helper()
	var u identity.User
	ok, err := storage.GetJSON(context.Background(), h.kv, storage.KeyUser, &u)
	if err != nil {
		t.Fatalf("read user: %v", err)
	}
	return u, ok
}

func (h *harness) persisted(key string) string {
	v, err := h.kv.Get(context.Background(), key)
	if err != nil {
		return ""
	}
	return v
}

type stubUploader struct {
	url string
	err error
}

func (u *stubUploader) Upload(context.Context, media.File) (string, error) {
	return u.url, u.err
}

func TestLoginAcceptsEveryEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		body    fiber.Map
		token   string
		email   string
		wantPin bool
	}{
		{"flat", fiber.Map{"token": "t1", "user": fiber.Map{"email": "a@x.com", "has_transaction_pin": true}}, "t1", "a@x.com", true},
		{"data access_token", fiber.Map{"data": fiber.Map{"access_token": "t2", "user": fiber.Map{"email": "b@x.com"}}}, "t2", "b@x.com", false},
		{"result camel", fiber.Map{"result": fiber.Map{"accessToken": "t3", "profile": fiber.Map{"email": "c@x.com", "hasTransactionPin": true}}}, "t3", "c@x.com", true},
		{"payload user envelope", fiber.Map{"payload": fiber.Map{"token": "t4", "email": "d@x.com", "username": "dee"}}, "t4", "d@x.com", false},
		{"token only", fiber.Map{"token": "t5"}, "t5", "login@x.com", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, func(app *fiber.App) {
				app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, tc.body))
			})
			if err := h.store.Login(context.Background(), Credentials{Email: "login@x.com", Password: "pw"}); err != nil {
				t.Fatalf("login: %v", err)
			}
			st := h.store.Snapshot()
			if !st.IsAuthenticated || st.Token != tc.token {
				t.Fatalf("expected authenticated with %s, got %+v", tc.token, st)
			}
			if st.User.Email != tc.email || st.User.HasTransactionPin != tc.wantPin {
				t.Fatalf("unexpected user %+v", st.User)
			}
			if h.persisted(storage.KeyToken) != tc.token {
				t.Fatalf("token not persisted")
			}
			if u, ok := h.persistedUser(t); !ok || u.Email != tc.email {
				t.Fatalf("user not persisted: %+v", u)
			}
		})
	}
}

func TestLoginThenSetPinUnlocksTransactions(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{
			"data": fiber.Map{"token": "T1", "user": fiber.Map{"email": "ada@x.com", "has_transaction_pin": false, "wallet": 1250.75}},
		}))
		app.Post("/auth/set-pin", backendtest.JSON(fiber.StatusOK, fiber.Map{"status": "success", "message": "PIN set"}))
	})
	ctx := context.Background()

	if err := h.store.Login(ctx, Credentials{Email: "ada@x.com", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	st := h.store.Snapshot()
	if st.User.Wallet != "1250.75" || st.User.HasTransactionPin {
		t.Fatalf("unexpected user %+v", st.User)
	}
	if got := Decide(st, Transactional); got != RedirectSetPin {
		t.Fatalf("expected set-pin redirect, got %s", got)
	}
	if got := Decide(st, Authenticated); got != Allow {
		t.Fatalf("expected allow, got %s", got)
	}

	if err := h.store.SetTransactionPin(ctx, "12345", "12345"); err != nil {
		t.Fatalf("set pin: %v", err)
	}
	if got := Decide(h.store.Snapshot(), Transactional); got != Allow {
		t.Fatalf("expected allow after pin, got %s", got)
	}
	if u, _ := h.persistedUser(t); !u.HasTransactionPin {
		t.Fatalf("expected persisted pin flag")
	}
	if h.srv.Authorization("POST /auth/set-pin") != "Bearer T1" {
		t.Fatalf("set-pin must carry the session token")
	}
}

func TestUnauthorizedResponseEndsSession(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "ada@x.com"}}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusUnauthorized, fiber.Map{"message": "Token expired"}))
	})
	var fired int32
	h.bus.Subscribe(func(_ context.Context, ev events.Event) {
		if ev.Kind == events.KindSessionInvalidated {
			atomic.AddInt32(&fired, 1)
		}
	})
	ctx := context.Background()
	if err := h.store.Login(ctx, Credentials{Email: "ada@x.com"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	ok, err := h.store.FetchUser(ctx)
	if ok || !api.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got ok=%v err=%v", ok, err)
	}
	st := h.store.Snapshot()
	if st.IsAuthenticated || st.User != nil || st.Token != "" {
		t.Fatalf("expected logged out, got %+v", st)
	}
	if h.persisted(storage.KeyToken) != "" || h.persisted(storage.KeyUser) != "" {
		t.Fatalf("expected persisted session cleared")
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected one invalidation event, got %d", fired)
	}
	if got := Decide(st, Authenticated); got != RedirectLogin {
		t.Fatalf("expected login redirect, got %s", got)
	}
}

func TestRegisterPendingVerification(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/register", backendtest.JSON(fiber.StatusCreated, fiber.Map{"message": "Registration successful. Check your email for a code."}))
		app.Post("/auth/verify-email", backendtest.JSON(fiber.StatusOK, fiber.Map{"status": "success", "message": "Email verified"}))
	})
	ctx := context.Background()

	outcome, err := h.store.Register(ctx, RegisterPayload{Email: "new@x.com", Password: "pw"})
	if err != nil || outcome != RegisterPendingVerification {
		t.Fatalf("expected pending verification, got %q %v", outcome, err)
	}
	st := h.store.Snapshot()
	if st.PendingVerifyEmail != "new@x.com" || st.IsAuthenticated {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.persisted(storage.KeyPendingEmail) != "new@x.com" {
		t.Fatalf("pending email not persisted")
	}

	established, err := h.store.VerifyRegistrationOtp(ctx, "new@x.com", 123456)
	if err != nil || established {
		t.Fatalf("expected verified without session, got %v %v", established, err)
	}
	if h.store.Snapshot().PendingVerifyEmail != "" || h.persisted(storage.KeyPendingEmail) != "" {
		t.Fatalf("expected pending email cleared")
	}
}

func TestVerifyOtpCanOpenSession(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/verify-email", backendtest.JSON(fiber.StatusOK, fiber.Map{
			"data": fiber.Map{"token": "V1", "user": fiber.Map{"email": "new@x.com"}},
		}))
	})
	ctx := context.Background()
	if err := h.store.SetEmailForVerification(ctx, "new@x.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}
	established, err := h.store.VerifyRegistrationOtp(ctx, "new@x.com", 42)
	if err != nil || !established {
		t.Fatalf("expected session, got %v %v", established, err)
	}
	st := h.store.Snapshot()
	if !st.IsAuthenticated || st.PendingVerifyEmail != "" || h.persisted(storage.KeyPendingEmail) != "" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestVerifyOtpRejectsOutOfRangeCode(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {})
	if _, err := h.store.VerifyRegistrationOtp(context.Background(), "a@x.com", 1234567); !errors.Is(err, ErrInvalidOTP) {
		t.Fatalf("expected ErrInvalidOTP, got %v", err)
	}
	if h.srv.Calls("POST /auth/verify-email") != 0 {
		t.Fatalf("invalid code must not reach the backend")
	}
}

func TestRegisterWithTokenOpensSession(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/register", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "R1", "user": fiber.Map{"email": "r@x.com"}}))
	})
	outcome, err := h.store.Register(context.Background(), RegisterPayload{Email: "r@x.com", Password: "pw"})
	if err != nil || outcome != RegisterAuthenticated {
		t.Fatalf("expected authenticated, got %q %v", outcome, err)
	}
	if h.persisted(storage.KeyToken) != "R1" {
		t.Fatalf("token not persisted")
	}
}

func TestRegisterRejectedInBody(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/register", backendtest.JSON(fiber.StatusOK, fiber.Map{"status": "error", "message": "Email already taken"}))
	})
	_, err := h.store.Register(context.Background(), RegisterPayload{Email: "r@x.com"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := h.store.Snapshot().Error; got != "Email already taken" {
		t.Fatalf("expected backend message, got %q", got)
	}
}

func TestLoginFailuresSurfaceMessages(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", func(c *fiber.Ctx) error {
			var creds Credentials
			_ = c.BodyParser(&creds)
			if creds.Email == "none@x.com" {
				return c.JSON(fiber.Map{"message": "Welcome back"})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Invalid credentials"})
		})
	})
	ctx := context.Background()

	err := h.store.Login(ctx, Credentials{Email: "bad@x.com"})
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || h.store.Snapshot().Error != "Invalid credentials" {
		t.Fatalf("expected backend message, got %v / %q", err, h.store.Snapshot().Error)
	}

	if err := h.store.Login(ctx, Credentials{Email: "none@x.com"}); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	st := h.store.Snapshot()
	if st.IsAuthenticated || st.Loading || st.Error != msgNoToken {
		t.Fatalf("unexpected state %+v", st)
	}

	h.store.ClearError()
	if h.store.Snapshot().Error != "" {
		t.Fatalf("expected error cleared")
	}
}

func TestHydrateDiscardsCorruptSession(t *testing.T) {
	cases := map[string]string{
		"garbage": "{not json",
		"null":    "null",
		"array":   "[1,2]",
	}
	for name, rawUser := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			kv := storage.NewMemory()
			_ = kv.Apply(ctx, storage.Mutation{Set: map[string]string{storage.KeyToken: "T", storage.KeyUser: rawUser}})
			store := NewStore(Options{Storage: kv, Logger: logging.Discard()})

			st := store.Hydrate(ctx)
			if st.IsAuthenticated || !st.IsHydrated {
				t.Fatalf("unexpected state %+v", st)
			}
			if kv.Len() != 0 {
				t.Fatalf("expected dangling token removed, %d keys left", kv.Len())
			}
		})
	}
}

func TestHydrateRunsOnce(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.Apply(ctx, storage.Mutation{Set: map[string]string{
		storage.KeyToken:        "T",
		storage.KeyUser:         `{"email":"ada@x.com","has_transaction_pin":true,"wallet":"10"}`,
		storage.KeyPendingEmail: "stale@x.com",
	}})
	store := NewStore(Options{Storage: kv, Logger: logging.Discard()})

	st := store.Hydrate(ctx)
	if !st.IsAuthenticated || st.User.Email != "ada@x.com" || st.PendingVerifyEmail != "" {
		t.Fatalf("unexpected state %+v", st)
	}
	if _, err := kv.Get(ctx, storage.KeyPendingEmail); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected stale pending email removed")
	}

	_ = storage.Delete(ctx, kv, storage.KeyToken, storage.KeyUser)
	if again := store.Hydrate(ctx); !again.IsAuthenticated {
		t.Fatalf("second hydrate must not reload storage")
	}
}

func TestLogoutClearsEvenWhenRemoteFails(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@x.com"}}))
		app.Post("/auth/logout", func(c *fiber.Ctx) error {
			time.Sleep(500 * time.Millisecond)
			return c.SendStatus(fiber.StatusInternalServerError)
		})
	})
	ctx := context.Background()
	if err := h.store.Login(ctx, Credentials{Email: "a@x.com"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	start := time.Now()
	h.store.Logout(ctx)
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("logout waited %v for the backend", elapsed)
	}
	st := h.store.Snapshot()
	if st.IsAuthenticated || st.Token != "" || h.kv.Len() != 0 {
		t.Fatalf("expected local session cleared, got %+v", st)
	}
	if h.srv.Calls("POST /auth/logout") != 1 {
		t.Fatalf("expected remote logout attempted")
	}
}

func TestSetTransactionPinAlreadySet(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@x.com"}}))
		app.Post("/auth/set-pin", backendtest.JSON(fiber.StatusBadRequest, fiber.Map{"message": "Transaction PIN already set"}))
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@x.com"})

	if err := h.store.SetTransactionPin(ctx, "54321", "54321"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !h.store.Snapshot().User.HasTransactionPin {
		t.Fatalf("expected pin flag set")
	}
}

func TestSetTransactionPinValidation(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {})
	ctx := context.Background()

	if err := h.store.SetTransactionPin(ctx, "1234", "1234"); !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if err := h.store.SetTransactionPin(ctx, "12a45", "12a45"); !errors.Is(err, ErrInvalidPin) {
		t.Fatalf("expected ErrInvalidPin, got %v", err)
	}
	if err := h.store.SetTransactionPin(ctx, "12345", "12346"); !errors.Is(err, ErrPinMismatch) {
		t.Fatalf("expected ErrPinMismatch, got %v", err)
	}
	if err := h.store.SetTransactionPin(ctx, "12345", "12345"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if h.srv.Calls("POST /auth/set-pin") != 0 {
		t.Fatalf("validation failures must not reach the backend")
	}
}

func TestFetchUserWithoutToken(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Get("/auth/user", backendtest.JSON(fiber.StatusOK, fiber.Map{"email": "x@x.com"}))
	})
	ok, err := h.store.FetchUser(context.Background())
	if ok || err != nil {
		t.Fatalf("expected silent no-op, got %v %v", ok, err)
	}
	if h.srv.Calls("GET /auth/user") != 0 {
		t.Fatalf("expected no backend call")
	}
}

func TestGoogleLoginFetchesProfile(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/google", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "G1"}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusOK, fiber.Map{
			"data": fiber.Map{"email": "g@x.com", "username": "gee", "has_transaction_pin": true},
		}))
	})
	if err := h.store.GoogleLogin(context.Background(), "google-access"); err != nil {
		t.Fatalf("google login: %v", err)
	}
	st := h.store.Snapshot()
	if st.User.Username != "gee" || st.Token != "G1" {
		t.Fatalf("unexpected state %+v", st)
	}
	if h.srv.Calls("GET /auth/user") != 1 || h.srv.Authorization("GET /auth/user") != "Bearer G1" {
		t.Fatalf("expected authenticated profile fetch")
	}
}

func TestUpdateProfilePicture(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@x.com"}}))
		app.Patch("/auth/profile", func(c *fiber.Ctx) error {
			var body map[string]string
			if err := c.BodyParser(&body); err != nil {
				return err
			}
			return c.JSON(fiber.Map{"user": fiber.Map{"email": "a@x.com", "profile_picture": body["profile_picture"]}})
		})
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@x.com"})

	if err := h.store.UpdateProfilePicture(ctx, media.File{Name: "p.png", Content: []byte("png")}); err != nil {
		t.Fatalf("update picture: %v", err)
	}
	if got := h.store.Snapshot().User.ProfilePicture; got != "https://img.example/p.png" {
		t.Fatalf("unexpected picture %q", got)
	}
	if u, _ := h.persistedUser(t); u.ProfilePicture == "" {
		t.Fatalf("expected picture persisted")
	}
}

func TestSetEmailForVerificationKeepsSession(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@x.com"}}))
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@x.com"})

	if err := h.store.SetEmailForVerification(ctx, "a@x.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}
	st := h.store.Snapshot()
	if !st.IsAuthenticated || st.PendingVerifyEmail != "a@x.com" {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestSnapshotReportsTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": signed, "user": fiber.Map{"email": "a@x.com"}}))
	})
	_ = h.store.Login(context.Background(), Credentials{Email: "a@x.com"})

	st := h.store.Snapshot()
	if st.ExpiresAt == nil || !st.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, st.ExpiresAt)
	}
}

func TestDecideWaitsForHydration(t *testing.T) {
	if got := Decide(State{}, Authenticated); got != Wait {
		t.Fatalf("expected wait, got %s", got)
	}
	if got := Decide(State{}, Public); got != Allow {
		t.Fatalf("expected allow, got %s", got)
	}
}

func TestRefreshWithoutPinFieldsKeepsPinFlag(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@b.com"}}))
		app.Post("/auth/set-pin", backendtest.JSON(fiber.StatusOK, fiber.Map{"status": "success"}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusOK, fiber.Map{"data": fiber.Map{"email": "a@b.com", "wallet": "10.00"}}))
	})
	ctx := context.Background()
	if err := h.store.Login(ctx, Credentials{Email: "a@b.com"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := h.store.SetTransactionPin(ctx, "12345", "12345"); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	if ok, err := h.store.FetchUser(ctx); !ok || err != nil {
		t.Fatalf("refresh: ok=%v err=%v", ok, err)
	}
	st := h.store.Snapshot()
	if !st.User.HasTransactionPin || st.User.Wallet != "10.00" {
		t.Fatalf("expected pin flag kept and wallet refreshed, got %+v", st.User)
	}
	if got := Decide(st, Transactional); got != Allow {
		t.Fatalf("expected allow, got %s", got)
	}
	if u, _ := h.persistedUser(t); !u.HasTransactionPin {
		t.Fatalf("expected persisted pin flag kept")
	}
}

func TestRefreshWithExplicitPinFlagOverridesKnownValue(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@b.com", "has_transaction_pin": true}}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusOK, fiber.Map{"user": fiber.Map{"email": "a@b.com", "has_transaction_pin": false}}))
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@b.com"})

	if _, err := h.store.FetchUser(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if h.store.Snapshot().User.HasTransactionPin {
		t.Fatalf("explicit false from the backend must win")
	}
}

func TestUnauthorizedClearsPendingVerification(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@b.com"}}))
		app.Get("/auth/user", backendtest.JSON(fiber.StatusUnauthorized, fiber.Map{"message": "Token expired"}))
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@b.com"})
	if err := h.store.SetEmailForVerification(ctx, "a@b.com"); err != nil {
		t.Fatalf("set email: %v", err)
	}

	if _, err := h.store.FetchUser(ctx); !api.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	st := h.store.Snapshot()
	if st.PendingVerifyEmail != "" || st.Token != "" {
		t.Fatalf("expected session and pending email cleared, got %+v", st)
	}
	for _, key := range storage.SessionKeys {
		if h.persisted(key) != "" {
			t.Fatalf("expected %s cleared from storage", key)
		}
	}
}

func TestVerifyOtpWithoutTokenKeepsExistingSession(t *testing.T) {
	h := newHarness(t, func(app *fiber.App) {
		app.Post("/auth/login", backendtest.JSON(fiber.StatusOK, fiber.Map{"token": "T1", "user": fiber.Map{"email": "a@b.com"}}))
		app.Post("/auth/verify-email", backendtest.JSON(fiber.StatusOK, fiber.Map{"status": "success", "message": "Email verified"}))
	})
	ctx := context.Background()
	_ = h.store.Login(ctx, Credentials{Email: "a@b.com"})
	_ = h.store.SetEmailForVerification(ctx, "a@b.com")

	established, err := h.store.VerifyRegistrationOtp(ctx, "a@b.com", 123456)
	if err != nil || established {
		t.Fatalf("verify: established=%v err=%v", established, err)
	}
	st := h.store.Snapshot()
	if !st.IsAuthenticated || st.Token != "T1" || st.PendingVerifyEmail != "" {
		t.Fatalf("expected session kept and pending cleared, got %+v", st)
	}
	if h.persisted(storage.KeyPendingEmail) != "" || h.persisted(storage.KeyToken) != "T1" {
		t.Fatalf("unexpected persisted state")
	}
}

// flakyStore fails every read while down is set.
type flakyStore struct {
	*storage.Memory
	down atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, error) {
	if f.down.Load() {
		return "", errors.New("dial tcp: i/o timeout")
	}
	return f.Memory.Get(ctx, key)
}

func TestHydrateRetriesAfterStorageOutage(t *testing.T) {
	ctx := context.Background()
	kv := &flakyStore{Memory: storage.NewMemory()}
	_ = kv.Apply(ctx, storage.Mutation{Set: map[string]string{
		storage.KeyToken: "T",
		storage.KeyUser:  `{"email":"ada@x.com"}`,
	}})
	kv.down.Store(true)
	store := NewStore(Options{Storage: kv, Logger: logging.Discard()})

	st := store.Hydrate(ctx)
	if st.IsAuthenticated || !st.IsHydrated {
		t.Fatalf("expected hydrated logged-out state during outage, got %+v", st)
	}
	if kv.Len() != 2 {
		t.Fatalf("an outage must not delete the persisted session")
	}

	kv.down.Store(false)
	if st := store.Hydrate(ctx); !st.IsAuthenticated || st.User.Email != "ada@x.com" {
		t.Fatalf("expected session restored on retry, got %+v", st)
	}
}
