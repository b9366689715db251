package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/userdir/internal/common"
	"github.com/dmitrijs2005/userdir/internal/logging"
	"github.com/dmitrijs2005/userdir/internal/server/models"
	"github.com/dmitrijs2005/userdir/internal/server/resilience"
	"github.com/dmitrijs2005/userdir/internal/server/upstream"
)

type fakeFetcher struct {
	endpoint string
	calls    atomic.Int32
	fn       func(call int) (*upstream.UsersPage, []byte, error)
}

func (f *fakeFetcher) Endpoint() string {
	if f.endpoint == "" {
		return "https://dummyjson.com/users"
	}
	return f.endpoint
}

func (f *fakeFetcher) FetchUsers(context.Context) (*upstream.UsersPage, []byte, error) {
	return f.fn(int(f.calls.Add(1)))
}

func pageOf(users ...upstream.RemoteUser) func(int) (*upstream.UsersPage, []byte, error) {
	return func(int) (*upstream.UsersPage, []byte, error) {
		if users == nil {
			users = []upstream.RemoteUser{}
		}
		return &upstream.UsersPage{Users: users, Total: len(users)}, []byte(`{"users":[]}`), nil
	}
}

func failing(err error) func(int) (*upstream.UsersPage, []byte, error) {
	return func(int) (*upstream.UsersPage, []byte, error) { return nil, nil, err }
}

type fakeStore struct {
	saved [][]byte
	err   error
}

func (s *fakeStore) Save(_ context.Context, body []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, body)
	return fmt.Sprintf("snapshots/%d.json", len(s.saved)), nil
}

type syncFixture struct {
	svc     *SyncService
	repo    *fakeUsersRepo
	fetcher *fakeFetcher
	store   *fakeStore
	mock    sqlmock.Sqlmock
}

func newSyncFixture(t *testing.T, fetcher *fakeFetcher, breakerCfg resilience.BreakerConfig, seed ...models.User) *syncFixture {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	breaker, err := resilience.NewBreaker(breakerCfg)
	require.NoError(t, err)
	executor, err := resilience.NewExecutor(resilience.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Kind:        resilience.BackoffConstant,
	}, breaker, logging.Nop{})
	require.NoError(t, err)

	repo := newFakeUsersRepo(seed...)
	store := &fakeStore{}

	svc, err := NewSyncService(db, &fakeManager{users: repo}, fetcher, executor, store, logging.Nop{})
	require.NoError(t, err)

	return &syncFixture{svc: svc, repo: repo, fetcher: fetcher, store: store, mock: mock}
}

func lenientBreaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{FailureRateThreshold: 100, WindowSize: 100, MinimumCalls: 100, Cooldown: time.Minute, HalfOpenCalls: 1}
}

func expectCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func TestSyncService_Success(t *testing.T) {
	address := json.RawMessage(`{ "city": "Phoenix",  "coordinates": {"lat": 1.5} }`)
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf(
		upstream.RemoteUser{ID: 1, FirstName: "Emily", LastName: "Johnson", Email: "emily@x.com", Username: "emilys", Age: 28, SSN: "900-590-289", Address: address},
		upstream.RemoteUser{ID: 2, FirstName: "Michael", Email: "michael@x.com", Address: json.RawMessage("null")},
	)}, lenientBreaker(), models.User{ID: 99, FirstName: "Old"})
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())

	assert.False(t, out.UsedFallback)
	assert.Equal(t, 2, out.FetchedCount)
	require.Len(t, out.Users, 2)
	assert.Equal(t, `{"city":"Phoenix","coordinates":{"lat":1.5}}`, out.Users[0].AddressJSON)
	assert.Equal(t, common.DefaultUserRole, out.Users[0].Role)
	assert.Equal(t, "900-590-289", out.Users[0].SSN)
	assert.Empty(t, out.Users[1].AddressJSON)

	stored, _ := f.repo.FindAll(context.Background())
	assert.Len(t, stored, 2)
	_, err = f.repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	assert.Len(t, f.store.saved, 1)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
}

func TestSyncService_FillsEmptyStore(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf(
		upstream.RemoteUser{ID: 1, FirstName: "Emily", Email: "emily@x.com"},
		upstream.RemoteUser{ID: 2, FirstName: "Michael", Email: "michael@x.com"},
		upstream.RemoteUser{ID: 3, FirstName: "Sophia", Email: "sophia@x.com"},
	)}, lenientBreaker())
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.False(t, out.UsedFallback)
	assert.Equal(t, 3, out.FetchedCount)

	stored, err := f.repo.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, u := range stored {
		assert.Equal(t, int64(i+1), u.ID)
		assert.Equal(t, "User", u.Role)
	}
}

func TestSyncService_EmptyUpstreamReplacesAll(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf()}, lenientBreaker(), models.User{ID: 1})
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, out.UsedFallback)
	assert.Equal(t, 0, out.FetchedCount)

	stored, _ := f.repo.FindAll(context.Background())
	assert.Empty(t, stored)
}

func TestSyncService_LongAddressDropped(t *testing.T) {
	long := json.RawMessage(`{"street":"` + strings.Repeat("a", common.MaxAddressJSONLength) + `"}`)
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf(upstream.RemoteUser{ID: 1, Email: "a@x.com", Address: long})}, lenientBreaker())
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Users, 1)
	assert.Empty(t, out.Users[0].AddressJSON)
}

func TestSyncService_RetriesThenSucceeds(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(call int) (*upstream.UsersPage, []byte, error) {
		if call < 3 {
			return nil, nil, common.ErrorUpstreamUnavailable
		}
		return pageOf(upstream.RemoteUser{ID: 5, Email: "e@x.com"})(call)
	}}
	f := newSyncFixture(t, fetcher, lenientBreaker())
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, out.UsedFallback)
	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestSyncService_FallbackAfterRetries(t *testing.T) {
	fetcher := &fakeFetcher{fn: failing(fmt.Errorf("%w: connection refused", common.ErrorUpstreamUnavailable))}
	f := newSyncFixture(t, fetcher, lenientBreaker(),
		models.User{ID: 1, FirstName: "A"},
		models.User{ID: 2, FirstName: "B"},
	)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 2, out.FallbackCount)
	assert.Equal(t, 0, out.FetchedCount)
	assert.Len(t, out.Users, 2)
	assert.Equal(t, int32(3), fetcher.calls.Load())
	assert.Empty(t, f.repo.replaced)
	assert.Empty(t, f.store.saved)
	assert.Equal(t, resilience.StateOpen, f.svc.CircuitState())
}

func TestSyncService_ExhaustedRetriesOpenCircuit(t *testing.T) {
	fetcher := &fakeFetcher{fn: failing(common.ErrorUpstreamUnavailable)}
	f := newSyncFixture(t, fetcher, resilience.BreakerConfig{
		FailureRateThreshold: 50, WindowSize: 10, MinimumCalls: 5, Cooldown: 30 * time.Second, HalfOpenCalls: 2,
	}, models.User{ID: 1})

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, int32(3), fetcher.calls.Load())
	assert.Equal(t, resilience.StateOpen, f.svc.CircuitState())

	out, err = f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 1, out.FallbackCount)
	assert.Equal(t, int32(3), fetcher.calls.Load())
}

func TestSyncService_FallbackEmptyStore(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: failing(common.ErrorUpstreamUnavailable)}, lenientBreaker())

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 0, out.FallbackCount)
	assert.Empty(t, out.Users)
}

func TestSyncService_CircuitOpenShortCircuits(t *testing.T) {
	fetcher := &fakeFetcher{fn: failing(common.ErrorUpstreamUnavailable)}
	f := newSyncFixture(t, fetcher, resilience.BreakerConfig{
		FailureRateThreshold: 50, WindowSize: 4, MinimumCalls: 2, Cooldown: time.Hour, HalfOpenCalls: 1,
	}, models.User{ID: 1})

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, resilience.StateOpen, f.svc.CircuitState())
	callsAfterFirst := fetcher.calls.Load()
	assert.Equal(t, int32(2), callsAfterFirst)

	out, err = f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, out.UsedFallback)
	assert.Equal(t, 1, out.FallbackCount)
	assert.Equal(t, callsAfterFirst, fetcher.calls.Load())
}

func TestSyncService_PersistFailureFallsBack(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf(upstream.RemoteUser{ID: 1, Email: "a@x.com"})}, lenientBreaker(),
		models.User{ID: 42, FirstName: "Kept"})
	f.repo.replaceErr = fmt.Errorf("%w: users_email_key", common.ErrorConflict)
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	require.NoError(t, f.mock.ExpectationsWereMet())
	assert.True(t, out.UsedFallback)
	require.Len(t, out.Users, 1)
	assert.Equal(t, "Kept", out.Users[0].FirstName)
	assert.Empty(t, f.store.saved)
}

func TestSyncService_FallbackReadFailure(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: failing(common.ErrorUpstreamUnavailable)}, lenientBreaker())
	f.repo.findAllErr = errors.New("db down")

	_, err := f.svc.Sync(context.Background())
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Contains(t, err.Error(), "db down")
}

func TestSyncService_ConfigurationErrorNotRetried(t *testing.T) {
	fetcher := &fakeFetcher{fn: failing(fmt.Errorf("%w: bad scheme", common.ErrorConfiguration))}
	f := newSyncFixture(t, fetcher, lenientBreaker(), models.User{ID: 1})

	_, err := f.svc.Sync(context.Background())
	assert.ErrorIs(t, err, common.ErrorConfiguration)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestSyncService_Cancelled(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: failing(common.ErrorUpstreamUnavailable)}, lenientBreaker(), models.User{ID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncService_SnapshotFailureIgnored(t *testing.T) {
	f := newSyncFixture(t, &fakeFetcher{fn: pageOf(upstream.RemoteUser{ID: 1, Email: "a@x.com"})}, lenientBreaker())
	f.store.err = errors.New("bucket missing")
	expectCommit(f.mock)

	out, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.False(t, out.UsedFallback)
}

func TestNewSyncService_InvalidEndpoint(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	breaker, err := resilience.NewBreaker(lenientBreaker())
	require.NoError(t, err)
	executor, err := resilience.NewExecutor(resilience.RetryPolicy{MaxAttempts: 1, Backoff: time.Millisecond, Kind: resilience.BackoffConstant}, breaker, nil)
	require.NoError(t, err)

	for _, endpoint := range []string{"not a url", "ftp://host/users"} {
		_, err = NewSyncService(db, &fakeManager{users: newFakeUsersRepo()}, &fakeFetcher{endpoint: endpoint}, executor, nil, logging.Nop{})
		assert.ErrorIs(t, err, common.ErrorConfiguration, endpoint)
	}
}

func TestCompactAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "null", want: ""},
		{in: " null ", want: ""},
		{in: `{"a": 1}`, want: `{"a":1}`},
		{in: `"Main Street"`, want: `"Main Street"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compactAddress(json.RawMessage(tt.in)), tt.in)
	}
}
