package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/dbx"
	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/netx"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/userdir/internal/server/resilience"
	"github.com/dmitrijs2005/userdir/internal/server/snapshots"
	"github.com/dmitrijs2005/userdir/internal/server/upstream"
)

const tracerName = "github.com/dmitrijs2005/userdir/internal/server/services"

// UsersFetcher performs one fetch of the upstream user list.
type UsersFetcher interface {
	FetchUsers(ctx context.Context) (*upstream.UsersPage, []byte, error)
	Endpoint() string
}

// SyncService refreshes the local directory from the upstream source and
// falls back to the stored users when the source cannot be reached.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	fetcher     UsersFetcher
	executor    *resilience.Executor
	snapshots   snapshots.Store
	tracer      trace.Tracer
	log         logging.Logger
}

// NewSyncService rejects a fetcher whose endpoint is not an absolute http(s)
// URL with common.ErrorConfiguration. A nil store disables archiving.
func NewSyncService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	fetcher UsersFetcher,
	executor *resilience.Executor,
	store snapshots.Store,
	log logging.Logger,
) (*SyncService, error) {
	if err := netx.ValidateHTTPURL(fetcher.Endpoint()); err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	if store == nil {
		store = snapshots.Noop{}
	}

	return &SyncService{
		db:          db,
		repomanager: m,
		fetcher:     fetcher,
		executor:    executor,
		snapshots:   store,
		tracer:      otel.Tracer(tracerName),
		log:         log.With("module", "sync"),
	}, nil
}

// CircuitState reports the state of the breaker guarding upstream calls.
func (s *SyncService) CircuitState() resilience.State {
	return s.executor.Breaker().State()
}

// Sync fetches the upstream users and replaces the stored directory with
// them in one transaction. When the fetch or the replace fails, it returns
// the stored users with UsedFallback set instead of an error. Only a
// configuration error, a cancelled context or an unreadable store are
// returned as errors.
func (s *SyncService) Sync(ctx context.Context) (*models.SyncOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "SyncService.Sync",
		trace.WithAttributes(attribute.String("upstream.endpoint", s.fetcher.Endpoint())))
	defer span.End()

	s.log.Info(ctx, "sync started", "endpoint", s.fetcher.Endpoint())

	var (
		page *upstream.UsersPage
		raw  []byte
	)
	err := s.executor.Execute(ctx, func(ctx context.Context) error {
		p, b, err := s.fetcher.FetchUsers(ctx)
		if err != nil {
			return err
		}
		page, raw = p, b
		return nil
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		}
		if ctx.Err() != nil || errors.Is(err, common.ErrorConfiguration) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sync aborted")
			return nil, err
		}
		s.log.Warn(ctx, "upstream unavailable, serving stored users", "error", err)
		return s.fallback(ctx, span, err)
	}

	users := s.toUsers(ctx, page.Users)

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Users(tx).ReplaceAll(ctx, users)
	})
	if err != nil {
		s.log.Error(ctx, "replace users failed, serving stored users", "error", err)
		return s.fallback(ctx, span, err)
	}

	s.archive(ctx, raw)

	span.SetAttributes(
		attribute.Int("sync.fetched", len(users)),
		attribute.Bool("sync.fallback", false),
	)
	s.log.Info(ctx, "sync finished", "fetched", len(users), "total", page.Total)

	return &models.SyncOutcome{Users: users, FetchedCount: len(users)}, nil
}

func (s *SyncService) fallback(ctx context.Context, span trace.Span, cause error) (*models.SyncOutcome, error) {
	span.RecordError(cause)

	stored, err := s.repomanager.Users(s.db).FindAll(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "fallback read failed")
		s.log.Error(ctx, "fallback read failed", "error", err, "cause", cause)
		return nil, fmt.Errorf("%w: read stored users: %w", common.ErrorInternal, err)
	}

	span.SetAttributes(
		attribute.Bool("sync.fallback", true),
		attribute.Int("sync.fallback_count", len(stored)),
	)
	s.log.Info(ctx, "sync served from fallback", "count", len(stored))

	return &models.SyncOutcome{
		Users:         stored,
		UsedFallback:  true,
		FallbackCount: len(stored),
	}, nil
}

// archive stores the raw upstream body. Failures are logged only.
func (s *SyncService) archive(ctx context.Context, raw []byte) {
	key, err := s.snapshots.Save(ctx, raw)
	if err != nil {
		s.log.Warn(ctx, "snapshot not saved", "error", err)
		return
	}
	if key != "" {
		s.log.Debug(ctx, "snapshot saved", "key", key)
	}
}

func (s *SyncService) toUsers(ctx context.Context, remote []upstream.RemoteUser) []models.User {
	out := make([]models.User, 0, len(remote))
	for _, r := range remote {
		address := compactAddress(r.Address)
		if len(address) > common.MaxAddressJSONLength {
			s.log.Warn(ctx, "address too long, dropped", "user_id", r.ID, "length", len(address))
			address = ""
		}

		out = append(out, models.User{
			ID:          r.ID,
			FirstName:   r.FirstName,
			LastName:    r.LastName,
			Email:       r.Email,
			Age:         r.Age,
			SSN:         r.SSN,
			Role:        common.DefaultUserRole,
			Phone:       r.Phone,
			Username:    r.Username,
			Gender:      r.Gender,
			AddressJSON: address,
		})
	}
	return out
}

// compactAddress renders an upstream address as compact JSON text. An absent
// or null address becomes the empty string.
func compactAddress(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
