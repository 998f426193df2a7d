package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"enrollassist-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestParamsCache(t *testing.T) {
	cache := NewParamsCache(16, time.Minute)
	calls := 0
	resolve := func(_ context.Context, req ResolveRequest) (RequestParameters, error) {
		calls++
		return RequestParameters{Category: CategoryParams{Code: req.Category.Code}}, nil
	}

	req := ResolveRequest{Credential: "sid=1", Category: CategoryParams{Code: "01"}}
	_, err := cache.GetOrResolve(context.Background(), "a", req, resolve)
	require.NoError(t, err)
	_, err = cache.GetOrResolve(context.Background(), "a", req, resolve)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// every element of the key matters
	_, _ = cache.GetOrResolve(context.Background(), "b", req, resolve)
	_, _ = cache.GetOrResolve(context.Background(), "a", ResolveRequest{Credential: "sid=2", Category: req.Category}, resolve)
	_, _ = cache.GetOrResolve(context.Background(), "a", ResolveRequest{Credential: "sid=1", Category: CategoryParams{Code: "10"}}, resolve)
	require.Equal(t, 4, calls)
	require.Equal(t, 4, cache.Len())

	cache.Forget("a", "sid=1")
	require.Equal(t, 2, cache.Len())
}

func TestParamsCacheSkipsErrors(t *testing.T) {
	cache := NewParamsCache(0, 0)
	boom := errors.New("boom")
	calls := 0
	resolve := func(context.Context, ResolveRequest) (RequestParameters, error) {
		calls++
		return RequestParameters{}, boom
	}
	for i := 0; i < 2; i++ {
		_, err := cache.GetOrResolve(context.Background(), "a", ResolveRequest{}, resolve)
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, 2, calls)
}

func TestDirectory(t *testing.T) {
	fake := newFakePortal(t)
	fake.html(endpointIndex, indexWithTabs)
	fake.html(endpointDisplay, displayPage)
	fake.json(endpointCatalog, `{"tmpList":[]}`)

	dir, err := NewDirectory(
		[]Site{fake.site()},
		Options{Client: ClientOptions{}, BatchWidth: 2},
		NewParamsCache(16, time.Minute),
		telemetry.NoopAPI{},
	)
	require.NoError(t, err)
	require.Len(t, dir.Sites(), 1)

	req := ResolveRequest{Credential: "sid=1", Category: CategoryParams{Code: "10"}}
	params, err := dir.Resolve(context.Background(), "test", req)
	require.NoError(t, err)
	_, err = dir.Resolve(context.Background(), "test", req)
	require.NoError(t, err)
	require.Len(t, fake.formsOf(endpointDisplay), 1)

	result, err := dir.Fetch(context.Background(), "test", "sid=1", params)
	require.NoError(t, err)
	require.Empty(t, result.Courses)
	require.Len(t, fake.formsOf(endpointCatalog), 2)

	_, err = dir.Resolve(context.Background(), "nope", req)
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestDirectoryRejectsDuplicateSites(t *testing.T) {
	site := Site{ID: "a", BaseURL: "http://127.0.0.1"}
	_, err := NewDirectory([]Site{site, site}, Options{}, NewParamsCache(0, 0), telemetry.NoopAPI{})
	require.Error(t, err)
}
