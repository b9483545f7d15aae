// Package session is the single source of truth for who is logged in on a
// device and with what credential. Every mutation is written through to
// persisted storage before it becomes visible in memory, and the token and
// user record are always written or cleared together.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/api"
	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/identity"
	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/payment"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

// Credentials are the email/password login fields.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterPayload is forwarded to the registration endpoint as-is.
type RegisterPayload struct {
	Name            string `json:"name,omitempty"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
	Referral        string `json:"referral,omitempty"`
}

// RegisterOutcome tells the caller where to route after Register.
type RegisterOutcome string

const (
	RegisterFailed              RegisterOutcome = ""
	RegisterAuthenticated       RegisterOutcome = "authenticated"
	RegisterPendingVerification RegisterOutcome = "pending_verification"
)

// State is a point-in-time copy of the session.
type State struct {
	Token              string         `json:"-"`
	User               *identity.User `json:"user"`
	PendingVerifyEmail string         `json:"pending_verify_email,omitempty"`
	IsAuthenticated    bool           `json:"is_authenticated"`
	IsHydrated         bool           `json:"is_hydrated"`
	Loading            bool           `json:"loading"`
	Error              string         `json:"error,omitempty"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
}

type state struct {
	token    string
	user     *identity.User
	pending  string
	hydrated bool
	loading  bool
	errMsg   string
}

func (s state) clone() state {
	if s.user != nil {
		u := s.user.Clone()
		s.user = &u
	}
	return s
}

// Options wires a Store.
type Options struct {
	Client        *api.Client
	Storage       storage.Store
	Bus           *events.Bus
	Uploader      media.Uploader
	Logger        *slog.Logger
	LogoutTimeout time.Duration
}

// Store holds one device's session.
type Store struct {
	client        *api.Client
	kv            storage.Store
	uploader      media.Uploader
	logger        *slog.Logger
	logoutTimeout time.Duration

	// hydrateMu guards hydrated, which stays false after a storage outage so
	// the next Hydrate retries.
	hydrateMu   sync.Mutex
	hydrated    bool
	unsubscribe func()

	// writeMu serializes every state transition together with its storage
	// write. Network calls never run under it.
	writeMu sync.Mutex
	mu      sync.RWMutex
	st      state
}

// NewStore builds a store and subscribes it to session invalidation events.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.LogoutTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Store{
		client:        opts.Client,
		kv:            opts.Storage,
		uploader:      opts.Uploader,
		logger:        logger,
		logoutTimeout: timeout,
		unsubscribe:   func() {},
	}
	if opts.Bus != nil {
		s.unsubscribe = opts.Bus.Subscribe(s.onEvent)
	}
	return s
}

// Close detaches the store from the event bus.
func (s *Store) Close() {
	s.unsubscribe()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	st := s.st.clone()
	s.mu.RUnlock()

	out := State{
		Token:              st.token,
		User:               st.user,
		PendingVerifyEmail: st.pending,
		IsAuthenticated:    st.token != "" && st.user != nil,
		IsHydrated:         st.hydrated,
		Loading:            st.loading,
		Error:              st.errMsg,
	}
	if exp, ok := tokenExpiry(st.token); ok {
		out.ExpiresAt = &exp
	}
	return out
}

// Token returns the bearer credential, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.token
}

// Hydrate loads persisted state the first time it succeeds; later calls
// only return the current snapshot. Malformed persisted values are treated
// as absent, and a token stored without a readable user (or the reverse)
// is discarded. When storage itself cannot be read the device starts logged
// out and the next call tries again.
func (s *Store) Hydrate(ctx context.Context) State {
	s.hydrateMu.Lock()
	if !s.hydrated {
		s.hydrated = s.hydrate(ctx)
	}
	s.hydrateMu.Unlock()
	return s.Snapshot()
}

// hydrate reports whether storage was readable.
func (s *Store) hydrate(ctx context.Context) bool {
	if s.Token() != "" {
		// A login completed while storage was down; it owns the state now.
		return true
	}
	var readErr error

	token, err := s.kv.Get(ctx, storage.KeyToken)
	if err != nil {
		token = ""
		if !isNotFound(err) {
			readErr = err
		}
	}

	var rawUser map[string]any
	userOK, err := storage.GetJSON(ctx, s.kv, storage.KeyUser, &rawUser)
	if err != nil {
		readErr = err
	}
	var user *identity.User
	if userOK && rawUser != nil {
		u := identity.Normalize(rawUser)
		user = &u
	}

	pending, err := s.kv.Get(ctx, storage.KeyPendingEmail)
	if err != nil {
		pending = ""
		if !isNotFound(err) {
			readErr = err
		}
	}

	if readErr != nil {
		s.logger.Error("session storage unreadable during hydration; starting logged out", slog.Any("error", readErr))
		s.mu.Lock()
		s.st.hydrated = true
		s.mu.Unlock()
		return false
	}

	authenticated := token != "" && user != nil
	cleanup := storage.Mutation{}
	if !authenticated && (token != "" || user != nil) {
		s.logger.Warn("discarding partial persisted session",
			slog.Bool("has_token", token != ""), slog.Bool("has_user", user != nil))
		token, user = "", nil
		cleanup.Delete = append(cleanup.Delete, storage.KeyToken, storage.KeyUser)
	}
	if authenticated && pending != "" {
		pending = ""
		cleanup.Delete = append(cleanup.Delete, storage.KeyPendingEmail)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.Token() != "" {
		s.mu.Lock()
		s.st.hydrated = true
		s.mu.Unlock()
		return true
	}
	if !cleanup.Empty() {
		if err := s.kv.Apply(ctx, cleanup); err != nil {
			s.logger.Warn("clean persisted session", slog.Any("error", err))
		}
	}
	s.mu.Lock()
	s.st.token, s.st.user, s.st.pending = token, user, pending
	s.st.hydrated = true
	s.mu.Unlock()

	s.logger.Debug("session hydrated", slog.Bool("authenticated", authenticated), slog.Bool("pending_verification", pending != ""))
	return true
}

// Login authenticates with email and password.
func (s *Store) Login(ctx context.Context, creds Credentials) error {
	s.begin()
	raw, err := s.client.Post(ctx, api.PathLogin, creds, "")
	if err != nil {
		return s.fail(err)
	}
	return s.establishFrom(ctx, raw, creds.Email)
}

// GoogleLogin exchanges a Google access token for a session and then
// fetches the full profile, which Google sign-in responses tend to lack.
func (s *Store) GoogleLogin(ctx context.Context, providerAccessToken string) error {
	s.begin()
	raw, err := s.client.Post(ctx, api.PathGoogleLogin, map[string]string{"access_token": providerAccessToken}, "")
	if err != nil {
		return s.fail(err)
	}
	if err := s.establishFrom(ctx, raw, ""); err != nil {
		return err
	}
	if _, err := s.FetchUser(ctx); err != nil {
		s.logger.Warn("fetch profile after google login", slog.Any("error", err))
	}
	return nil
}

// Register creates an account. The backend either opens a session right
// away or asks for email verification first.
func (s *Store) Register(ctx context.Context, p RegisterPayload) (RegisterOutcome, error) {
	s.begin()
	raw, err := s.client.Post(ctx, api.PathRegister, p, "")
	if err != nil {
		return RegisterFailed, s.fail(err)
	}
	if !LooksSuccessful(raw) {
		return RegisterFailed, s.fail(rejected(raw))
	}
	if TryExtractToken(raw) != "" {
		if err := s.establishFrom(ctx, raw, p.Email); err != nil {
			return RegisterFailed, err
		}
		return RegisterAuthenticated, nil
	}

	email := strings.TrimSpace(p.Email)
	err = s.mutate(ctx, func(next *state) storage.Mutation {
		next.token, next.user, next.pending = "", nil, email
		next.loading, next.errMsg = false, ""
		return storage.Mutation{
			Set:    map[string]string{storage.KeyPendingEmail: email},
			Delete: []string{storage.KeyToken, storage.KeyUser},
		}
	})
	if err != nil {
		return RegisterFailed, s.fail(err)
	}
	return RegisterPendingVerification, nil
}

// VerifyRegistrationOtp confirms the emailed code. It reports whether the
// response also opened a session; when it did not, the caller routes to login.
func (s *Store) VerifyRegistrationOtp(ctx context.Context, email string, otp int) (bool, error) {
	if otp < 0 || otp > 999999 {
		return false, s.fail(ErrInvalidOTP)
	}
	s.begin()
	raw, err := s.client.Post(ctx, api.PathVerifyEmail, map[string]any{"email": email, "otp": otp}, "")
	if err != nil {
		return false, s.fail(err)
	}
	if !LooksSuccessful(raw) {
		return false, s.fail(rejected(raw))
	}
	if TryExtractToken(raw) != "" {
		if err := s.establishFrom(ctx, raw, email); err != nil {
			return false, err
		}
		return true, nil
	}
	err = s.mutate(ctx, func(next *state) storage.Mutation {
		next.pending = ""
		next.loading, next.errMsg = false, ""
		return storage.Mutation{Delete: []string{storage.KeyPendingEmail}}
	})
	if err != nil {
		return false, s.fail(err)
	}
	return false, nil
}

// ResendVerificationEmail asks the backend to send a new code. Session
// state is left untouched.
func (s *Store) ResendVerificationEmail(ctx context.Context, email string) error {
	raw, err := s.client.Post(ctx, api.PathResendVerification, map[string]string{"email": email}, "")
	if err != nil {
		return err
	}
	if !LooksSuccessful(raw) {
		return rejected(raw)
	}
	return nil
}

// SetEmailForVerification points the OTP screen at email, for flows such
// as a purchase blocked on an unverified address. The session, if any, is kept.
func (s *Store) SetEmailForVerification(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	return s.mutate(ctx, func(next *state) storage.Mutation {
		next.pending = email
		if email == "" {
			return storage.Mutation{Delete: []string{storage.KeyPendingEmail}}
		}
		return storage.Mutation{Set: map[string]string{storage.KeyPendingEmail: email}}
	})
}

// SetTransactionPin sets the 5-digit PIN. A backend reply saying the PIN is
// already set counts as success.
func (s *Store) SetTransactionPin(ctx context.Context, pin, confirmPin string) error {
	if !payment.ValidPin(pin) {
		return s.fail(ErrInvalidPin)
	}
	if pin != confirmPin {
		return s.fail(ErrPinMismatch)
	}
	token := s.Token()
	if token == "" {
		return s.fail(ErrNotAuthenticated)
	}

	s.begin()
	body := map[string]string{"pin": pin, "confirm_pin": confirmPin}
	raw, err := s.client.Post(ctx, api.PathSetTransactionPin, body, token)
	switch {
	case err != nil && !pinAlreadySet(UserMessage(err)):
		return s.fail(err)
	case err == nil && !LooksSuccessful(raw) && !pinAlreadySet(ResponseMessage(raw)):
		return s.fail(rejected(raw))
	}

	err = s.mutate(ctx, func(next *state) storage.Mutation {
		next.loading, next.errMsg = false, ""
		if next.token != token || next.user == nil {
			return storage.Mutation{}
		}
		next.user.HasTransactionPin = true
		return sessionMutation(next.token, *next.user)
	})
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// FetchUser refreshes the cached profile. Without a token it is a silent
// no-op and reports false.
func (s *Store) FetchUser(ctx context.Context) (bool, error) {
	token := s.Token()
	if token == "" {
		return false, nil
	}
	raw, err := s.client.Get(ctx, api.PathUser, token)
	if err != nil {
		return false, err
	}
	if err := s.replaceUser(ctx, token, userPayload(raw)); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateProfilePicture uploads f to the image host and stores its URL on
// the profile.
func (s *Store) UpdateProfilePicture(ctx context.Context, f media.File) error {
	token := s.Token()
	if token == "" {
		return s.fail(ErrNotAuthenticated)
	}
	if s.uploader == nil {
		return s.fail(media.ErrNotConfigured)
	}

	s.begin()
	url, err := s.uploader.Upload(ctx, f)
	if err != nil {
		return s.fail(err)
	}
	raw, err := s.client.Do(ctx, api.Request{
		Method: fiber.MethodPatch,
		Path:   api.PathProfile,
		Body:   map[string]string{"profile_picture": url},
		Token:  token,
	})
	if err != nil {
		return s.fail(err)
	}

	if m, ok := extractUser(raw); ok {
		err = s.replaceUser(ctx, token, m)
	} else {
		_, err = s.FetchUser(ctx)
	}
	if err != nil {
		return s.fail(err)
	}
	s.finish()
	return nil
}

// Logout always ends the local session, whether or not the backend call
// succeeds or answers in time.
func (s *Store) Logout(ctx context.Context) {
	if token := s.Token(); token != "" {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
		if _, err := s.client.Post(callCtx, api.PathLogout, nil, token); err != nil {
			s.logger.Info("remote logout failed; clearing local session anyway", slog.Any("error", err))
		}
		cancel()
	}
	s.clear(ctx, "", storage.SessionKeys...)
}

// ClearError resets the displayed error.
func (s *Store) ClearError() {
	s.setUI(func(st *state) { st.errMsg = "" })
}

func (s *Store) onEvent(ctx context.Context, ev events.Event) {
	if ev.Kind != events.KindSessionInvalidated {
		return
	}
	s.logger.Info("session invalidated", slog.String("reason", ev.Reason))
	s.clear(ctx, msgUnauthorized, storage.SessionKeys...)
}

// clear drops the credential from storage and memory. Memory is cleared
// even when storage fails so a logout can always be forced.
func (s *Store) clear(ctx context.Context, errMsg string, keys ...string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := storage.Delete(context.WithoutCancel(ctx), s.kv, keys...); err != nil {
		s.logger.Error("clear persisted session", slog.Any("error", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.token, s.st.user = "", nil
	for _, k := range keys {
		if k == storage.KeyPendingEmail {
			s.st.pending = ""
		}
	}
	s.st.loading = false
	s.st.errMsg = errMsg
}

// establishFrom opens a session from a login-style response.
func (s *Store) establishFrom(ctx context.Context, raw map[string]any, email string) error {
	token := TryExtractToken(raw)
	if token == "" {
		s.logger.Warn("response carried no session token", slog.Any("keys", keysOf(raw)))
		return s.fail(ErrNoToken)
	}
	user := placeholderUser(email)
	if m, ok := extractUser(raw); ok {
		user = identity.Normalize(m)
	}

	err := s.mutate(ctx, func(next *state) storage.Mutation {
		u := user
		next.token, next.user, next.pending = token, &u, ""
		next.loading, next.errMsg = false, ""
		m := sessionMutation(token, user)
		m.Delete = []string{storage.KeyPendingEmail}
		return m
	})
	if err != nil {
		return s.fail(err)
	}
	return nil
}

// replaceUser swaps the cached user for a freshly normalized one, unless
// the session that requested it has ended in the meantime. A payload that
// says nothing about the transaction PIN keeps the flag already known.
func (s *Store) replaceUser(ctx context.Context, token string, raw any) error {
	return s.mutate(ctx, func(next *state) storage.Mutation {
		if next.token != token {
			return storage.Mutation{}
		}
		var fb identity.Fallback
		if next.user != nil {
			known := next.user.HasTransactionPin
			fb.HasTransactionPin = &known
		}
		user := identity.NormalizeWith(raw, fb)
		next.user = &user
		return sessionMutation(token, user)
	})
}

// mutate computes the next state from a copy, persists the returned
// mutation and only then publishes the new state.
func (s *Store) mutate(ctx context.Context, fn func(next *state) storage.Mutation) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := s.st.clone()
	s.mu.RUnlock()

	m := fn(&next)
	if !m.Empty() {
		if err := s.kv.Apply(ctx, m); err != nil {
			return fmt.Errorf("persist session: %w", err)
		}
	}

	s.mu.Lock()
	s.st = next
	s.mu.Unlock()
	return nil
}

func (s *Store) setUI(fn func(st *state)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	fn(&s.st)
	s.mu.Unlock()
}

func (s *Store) begin() {
	s.setUI(func(st *state) { st.loading, st.errMsg = true, "" })
}

func (s *Store) finish() {
	s.setUI(func(st *state) { st.loading = false })
}

func (s *Store) fail(err error) error {
	msg := UserMessage(err)
	s.setUI(func(st *state) { st.loading, st.errMsg = false, msg })
	return err
}

func sessionMutation(token string, user identity.User) storage.Mutation {
	encoded, err := json.Marshal(user)
	if err != nil {
		// User has only marshalable fields.
		panic(err)
	}
	return storage.Mutation{Set: map[string]string{
		storage.KeyToken: token,
		storage.KeyUser:  string(encoded),
	}}
}

// userPayload picks the user object out of a profile response.
func userPayload(raw map[string]any) map[string]any {
	if m, ok := extractUser(raw); ok {
		return m
	}
	for _, k := range envelopeKeys {
		if m, ok := raw[k].(map[string]any); ok {
			return m
		}
	}
	return raw
}

func pinAlreadySet(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "already set") || strings.Contains(lower, "already exists")
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNotFound(err error) bool {
	return err == nil || errors.Is(err, storage.ErrNotFound)
}
