package portal

import (
	"context"
	"errors"
	"fmt"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/telemetry"
)

// ErrUnknownSite is returned for a site id that is not configured.
var ErrUnknownSite = errors.New("unknown site")

// Options configure every site of a Directory.
type Options struct {
	Client         ClientOptions `json:"client"`
	BatchWidth     int           `json:"batch_width"`
	PageSize       int           `json:"page_size"`
	RequiredFields []string      `json:"required_fields"`
}

// Portal bundles the components that operate on one site.
type Portal struct {
	Client   *Client
	Resolver *Resolver
	Fetcher  *Fetcher
	Enroller *Enroller
}

func NewPortal(site Site, options Options, tel telemetry.API) (*Portal, error) {
	client, err := NewClient(site, options.Client, tel)
	if err != nil {
		return nil, err
	}
	resolverOptions := []ResolverOption{WithPageSize(options.PageSize)}
	if len(options.RequiredFields) > 0 {
		resolverOptions = append(resolverOptions, WithRequiredFields(options.RequiredFields))
	}
	return &Portal{
		Client:   client,
		Resolver: NewResolver(client, tel, resolverOptions...),
		Fetcher:  NewFetcher(client, tel, options.BatchWidth),
		Enroller: NewEnroller(client, tel),
	}, nil
}

// Directory routes calls to the portal of a site and memoizes resolved
// parameters per session.
type Directory struct {
	portals map[string]*Portal
	sites   []Site
	cache   ParamsCache
}

func NewDirectory(sites []Site, options Options, cache ParamsCache, tel telemetry.API) (*Directory, error) {
	assert.NotNil(tel)

	d := &Directory{
		portals: make(map[string]*Portal, len(sites)),
		cache:   cache,
	}
	for _, site := range sites {
		if site.ID == "" {
			return nil, fmt.Errorf("site %q has no id", site.Name)
		}
		if _, exists := d.portals[site.ID]; exists {
			return nil, fmt.Errorf("duplicate site id %s", site.ID)
		}
		p, err := NewPortal(site, options, tel)
		if err != nil {
			return nil, err
		}
		d.portals[site.ID] = p
		d.sites = append(d.sites, site)
	}
	return d, nil
}

// Sites returns the configured sites in configuration order.
func (d *Directory) Sites() []Site {
	return append([]Site(nil), d.sites...)
}

func (d *Directory) Portal(site string) (*Portal, error) {
	p, ok := d.portals[site]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, site)
	}
	return p, nil
}

func (d *Directory) Resolve(ctx context.Context, site string, req ResolveRequest) (RequestParameters, error) {
	p, err := d.Portal(site)
	if err != nil {
		return RequestParameters{}, err
	}
	return d.cache.GetOrResolve(ctx, site, req, p.Resolver.Resolve)
}

func (d *Directory) Fetch(ctx context.Context, site, credential string, params RequestParameters) (CatalogResult, error) {
	p, err := d.Portal(site)
	if err != nil {
		return CatalogResult{}, err
	}
	result, err := p.Fetcher.Fetch(ctx, credential, params)
	if errors.Is(result.Err, ErrSessionExpired) {
		d.cache.Forget(site, credential)
	}
	return result, err
}

func (d *Directory) Enroll(ctx context.Context, site, credential string, course CourseRecord) (Verdict, error) {
	p, err := d.Portal(site)
	if err != nil {
		return Verdict{}, err
	}
	return p.Enroller.Enroll(ctx, credential, course)
}
