package portal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ParamsCache memoizes resolved parameters per (site, session, category code)
// so that every page and attempt of a session reuses one snapshot.
type ParamsCache struct {
	cache *expirable.LRU[string, RequestParameters]
}

func NewParamsCache(size int, ttl time.Duration) ParamsCache {
	if size <= 0 {
		size = 2048
	}
	if ttl <= 0 {
		ttl = time.Minute * 15
	}
	return ParamsCache{
		cache: expirable.NewLRU[string, RequestParameters](size, nil, ttl),
	}
}

func cacheKey(site, credential, code string) string {
	// credentials are kept out of the key itself
	sum := sha256.Sum256([]byte(credential))
	return site + "\x00" + hex.EncodeToString(sum[:]) + "\x00" + code
}

// GetOrResolve returns the cached parameters or calls resolve and caches its
// result when it succeeds.
func (c ParamsCache) GetOrResolve(
	ctx context.Context,
	site string,
	req ResolveRequest,
	resolve func(ctx context.Context, req ResolveRequest) (RequestParameters, error),
) (RequestParameters, error) {
	key := cacheKey(site, req.Credential, req.Category.Code)
	cached, hit := c.cache.Get(key)
	if hit {
		return cached, nil
	}
	params, err := resolve(ctx, req)
	if err != nil {
		return params, err
	}
	c.cache.Add(key, params)
	return params, nil
}

// Forget drops every cached entry of a session on a site, used when the
// portal reports the session as expired.
func (c ParamsCache) Forget(site, credential string) {
	prefix := cacheKey(site, credential, "")
	for _, key := range c.cache.Keys() {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			c.cache.Remove(key)
		}
	}
}

func (c ParamsCache) Len() int {
	return c.cache.Len()
}
