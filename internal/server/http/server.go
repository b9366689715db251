// Package http is the REST transport of the userdir server, built on Fiber.
//
// Every /api route passes through the session authenticator, which attaches
// the caller's identity to the request context when a valid bearer token is
// presented, and then through a guard that rejects anonymous requests.
package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/resilience"
)

const shutdownTimeout = 10 * time.Second

// UserDirectory serves and creates users.
type UserDirectory interface {
	Create(ctx context.Context, user models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Search(ctx context.Context, query string) ([]models.User, error)
	ListAll(ctx context.Context) ([]models.UserResponse, error)
}

// Synchronizer refreshes the directory from the upstream source.
type Synchronizer interface {
	Sync(ctx context.Context) (*models.SyncOutcome, error)
	CircuitState() resilience.State
}

// LoginService exchanges credentials for a token.
type LoginService interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// TokenVerifier is the token side of session authentication.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
	IsLive(token, expectedSubject string) bool
}

// IdentityLookup resolves a token subject to an identity.
type IdentityLookup interface {
	Lookup(ctx context.Context, username string) (auth.Identity, error)
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Users      UserDirectory
	Sync       Synchronizer
	Login      LoginService
	Tokens     TokenVerifier
	Identities IdentityLookup
	Logger     logging.Logger
}

type Server struct {
	address string
	app     *fiber.App
	logger  logging.Logger
}

func NewServer(address string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	logger = logger.With("module", "http_server")

	app := fiber.New(fiber.Config{
		AppName:               "userdir",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(tracing())
	app.Use(requestLogger(logger))

	h := &handlers{users: d.Users, sync: d.Sync, login: d.Login}

	app.Get("/healthz", h.health)
	app.Post("/auth/login", h.authenticate)

	api := app.Group("/api",
		sessionAuthenticator(d.Tokens, d.Identities, logger),
		requireIdentity,
	)
	api.Post("/users/load", h.loadUsers)
	api.Get("/users", h.listUsers)
	api.Get("/users/search", h.searchUsers)
	api.Get("/users/by-email", h.userByEmail)
	api.Get("/users/:id", h.userByID)
	api.Post("/users", h.createUser)

	return &Server{address: address, app: app, logger: logger}
}

// App exposes the underlying Fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		errc <- s.app.Listen(s.address)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.app.ShutdownWithContext(shutdownCtx)
}
