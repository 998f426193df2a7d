package portal

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_get  = "client.get"
	report_client_post = "client.post"
)

// function code of the self enrollment module
const moduleCode = "N253512"

const (
	endpointIndex    = "zzxkyzb_cxZzxkYzbIndex.html"
	endpointDisplay  = "zzxkyzb_cxZzxkYzbDisplay.html"
	endpointCatalog  = "zzxkyzb_cxZzxkYzbPartDisplay.html"
	endpointDetail   = "zzxkyzbjk_cxJxbWithKchZzxkYzb.html"
	endpointEnroll   = "zzxkyzbjk_xkBcZyZzxkYzb.html"
	endpointSelected = "zzxkyzb_cxZzxkYzbChoosedDisplay.html"
)

// ClientOptions tunes the HTTP client of a site.
type ClientOptions struct {
	// RequestsPerSecond throttles the client, 0 disables throttling.
	RequestsPerSecond float64 `json:"requests_per_second"`
	// BypassCloudflare wraps the transport with cloudflare-bp-go.
	BypassCloudflare bool `json:"bypass_cloudflare"`
	// TimeoutSeconds defaults to 30.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// DefaultClientOptions is what the server uses when nothing is configured.
var DefaultClientOptions = ClientOptions{
	RequestsPerSecond: 10,
	BypassCloudflare:  true,
	TimeoutSeconds:    30,
}

// Client talks to the enrollment module of one site. It is safe for
// concurrent use, the session credential is passed per request.
type Client struct {
	Site Site
	http *resty.Client
	tel  telemetry.API
}

func NewClient(site Site, options ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(site.BaseURL, "site.BaseURL")

	tel = telemetry.NewScopedAPI("portal", tel)

	parsedBaseUrl, err := url.Parse(site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url of %s: %w", site.ID, err)
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(site.BaseURL)
	if options.BypassCloudflare {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}
	httpClient.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	httpClient.SetHeader("x-requested-with", "XMLHttpRequest")
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(parsedBaseUrl.Hostname()))

	timeout := time.Duration(options.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Second * 30
	}
	httpClient.SetTimeout(timeout)

	if options.RequestsPerSecond > 0 {
		// burst of 1 per allowed request per second so nothing is dropped
		burst := int(options.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(options.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		Site: site,
		http: httpClient,
		tel:  tel,
	}, nil
}

func (c *Client) path(endpoint string) string {
	return c.Site.prefix() + "/xsxk/" + endpoint
}

func (c *Client) request(ctx context.Context, credential string) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("gnmkdm", moduleCode)
	if credential != "" {
		req.SetHeader("Cookie", credential)
	}
	return req
}

func (c *Client) get(ctx context.Context, credential, endpoint string, query map[string]string) ([]byte, error) {
	res, err := c.request(ctx, credential).
		SetQueryParams(query).
		Get(c.path(endpoint))
	if err != nil {
		c.tel.ReportBroken(report_client_get, fmt.Errorf("fetch: %w", err), endpoint)
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	if res.IsError() {
		err = fmt.Errorf("get %s: unexpected status %s", endpoint, res.Status())
		c.tel.ReportWarning(report_client_get, err)
		return nil, err
	}
	return res.Body(), nil
}

func (c *Client) post(ctx context.Context, credential, endpoint string, form map[string]string) ([]byte, error) {
	res, err := c.request(ctx, credential).
		SetFormData(form).
		Post(c.path(endpoint))
	if err != nil {
		c.tel.ReportBroken(report_client_post, fmt.Errorf("fetch: %w", err), endpoint)
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	if res.IsError() {
		err = fmt.Errorf("post %s: unexpected status %s", endpoint, res.Status())
		c.tel.ReportWarning(report_client_post, err)
		return nil, err
	}
	return res.Body(), nil
}

// looksLikeHTML is true for bodies that start with markup, which on a JSON
// endpoint means the portal redirected to its login page.
func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}
