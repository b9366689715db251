package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/auth"
)

const tracerName = "github.com/dmitrijs2005/userdir/internal/server/http"

// sessionAuthenticator attaches the caller's identity to the request context
// when the request carries a valid, live bearer token for a known subject.
// It never rejects a request; requireIdentity does that.
func sessionAuthenticator(tokens TokenVerifier, identities IdentityLookup, log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if _, ok := auth.IdentityFromContext(ctx); ok {
			return c.Next()
		}

		header := c.Get(common.AuthorizationHeaderName)
		if !strings.HasPrefix(header, common.BearerPrefix) {
			return c.Next()
		}
		token := header[len(common.BearerPrefix):]

		subject, err := tokens.VerifySubject(token)
		if err != nil {
			log.Debug(ctx, "bearer token rejected", "path", c.Path(), "error", err)
			return c.Next()
		}
		if subject == "" {
			return c.Next()
		}

		id, err := identities.Lookup(ctx, subject)
		if err != nil {
			log.Warn(ctx, "token subject not resolved", "subject", subject, "error", err)
			return c.Next()
		}

		if tokens.IsLive(token, subject) {
			c.SetUserContext(auth.WithIdentity(ctx, id))
		}
		return c.Next()
	}
}

// requireIdentity rejects requests without an authenticated identity.
func requireIdentity(c *fiber.Ctx) error {
	if _, ok := auth.IdentityFromContext(c.UserContext()); !ok {
		return common.ErrorUnauthorized
	}
	return c.Next()
}

// tracing opens a server span per request and makes it the parent of the
// spans started by the services.
func tracing() fiber.Handler {
	tracer := otel.Tracer(tracerName)

	return func(c *fiber.Ctx) error {
		ctx, span := tracer.Start(c.UserContext(), c.Method(),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Method()),
				attribute.String("url.path", c.Path()),
			))
		defer span.End()

		c.SetUserContext(ctx)

		err := c.Next()

		route := c.Route().Path
		span.SetName(c.Method() + " " + route)
		span.SetAttributes(attribute.String("http.route", route))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func requestLogger(log logging.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}

		log.Debug(c.UserContext(), "request",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"duration", time.Since(start),
		)
		return err
	}
}
