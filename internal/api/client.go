// Package api talks JSON to the remote VTU backend on behalf of a single
// device. It owns the cross-cutting 401 contract: any request that carried
// a bearer token and comes back unauthorized clears the persisted session
// and broadcasts events.KindSessionInvalidated.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/storage"
)

const requestIDHeader = "X-Request-ID"

// Request describes one backend call. Token is attached as a bearer
// credential when non-empty.
type Request struct {
	Method string
	Path   string
	Body   any
	Token  string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Storage storage.Store
	Bus     *events.Bus
	Logger  *slog.Logger
}

// Client issues requests with the fiber HTTP agent.
type Client struct {
	baseURL string
	timeout time.Duration
	kv      storage.Store
	bus     *events.Bus
	logger  *slog.Logger
}

// NewClient builds a client. Storage and Bus may be nil in which case the
// 401 side effects are skipped.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: opts.BaseURL, timeout: timeout, kv: opts.Storage, bus: opts.Bus, logger: logger}
}

// Get is a convenience wrapper for an authenticated GET.
func (c *Client) Get(ctx context.Context, path, token string) (map[string]any, error) {
	return c.Do(ctx, Request{Method: fiber.MethodGet, Path: path, Token: token})
}

// Post is a convenience wrapper for a JSON POST.
func (c *Client) Post(ctx context.Context, path string, body any, token string) (map[string]any, error) {
	return c.Do(ctx, Request{Method: fiber.MethodPost, Path: path, Body: body, Token: token})
}

// Do sends req and decodes the JSON object in the response. Non-2xx
// responses return *Error; transport failures wrap ErrNetwork.
func (c *Client) Do(ctx context.Context, req Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	a := fiber.AcquireAgent()
	r := a.Request()
	r.Header.SetMethod(req.Method)
	r.SetRequestURI(c.baseURL + req.Path)
	a.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	if req.Token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+req.Token)
	}
	if id := RequestIDFrom(ctx); id != "" {
		a.Set(requestIDHeader, id)
	}
	if req.Body != nil {
		a.JSON(req.Body)
	}
	a.Timeout(timeout)

	if err := a.Parse(); err != nil {
		fiber.ReleaseAgent(a)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	start := time.Now()
	status, body, errs := a.Bytes()
	if len(errs) > 0 {
		c.logger.Warn("backend request failed",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", errs[0]),
		)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, errs[0])
	}

	decoded, decodeErr := decode(body)
	if status < 200 || status > 299 {
		apiErr := newError(status, decoded)
		if status == fiber.StatusUnauthorized && req.Token != "" {
			c.invalidate(ctx)
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Path, decodeErr)
	}
	return decoded, nil
}

// invalidate clears the persisted credential and tells the rest of the
// device that the session is gone.
func (c *Client) invalidate(ctx context.Context) {
	if c.kv != nil {
		if err := storage.Delete(context.WithoutCancel(ctx), c.kv, storage.SessionKeys...); err != nil {
			c.logger.Error("clear session after 401", slog.Any("error", err))
		}
	}
	if c.bus != nil {
		c.bus.Publish(ctx, events.Event{Kind: events.KindSessionInvalidated, Reason: events.ReasonUnauthorized})
	}
}

// decode turns a response body into an object. Empty bodies become an
// empty object and non-object JSON is wrapped under "data".
func decode(body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return map[string]any{}, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"data": v}, nil
}

type requestIDKey struct{}

// WithRequestID returns a context whose backend calls forward id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom extracts the id stored by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
