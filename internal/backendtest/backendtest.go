// Package backendtest runs an in-process fake of the VTU REST backend on a
// loopback port for tests.
package backendtest

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// Server is a running fake backend.
type Server struct {
	URL string

	mu    sync.Mutex
	calls map[string]int
	auth  map[string]string
}

// Start serves the routes installed by register until the test ends.
func Start(t testing.TB, register func(app *fiber.App)) *Server {
	t.Helper()

	s := &Server{calls: make(map[string]int), auth: make(map[string]string)}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(func(c *fiber.Ctx) error {
		key := c.Method() + " " + strings.TrimRight(c.Path(), "/")
		s.mu.Lock()
		s.calls[key]++
		s.auth[key] = c.Get(fiber.HeaderAuthorization)
		s.mu.Unlock()
		return c.Next()
	})
	register(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	s.URL = "http://" + ln.Addr().String()
	return s
}

// Calls returns how many times "METHOD /path" was requested.
func (s *Server) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

// Authorization returns the Authorization header of the last "METHOD /path" request.
func (s *Server) Authorization(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth[key]
}

// JSON returns a handler that always answers status with body.
func JSON(status int, body any) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(status).JSON(body)
	}
}
