package portal

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_resolver_resolve  = "resolver.resolve"
	report_resolver_fallback = "resolver.fallback-category"
)

// DefaultRequiredFields must be non-empty in the resolved form.
var DefaultRequiredFields = []string{
	"xkkz_id", "kklxdm", "njdm_id", "zyh_id", "xkxnm", "xkxqm", "rwlx",
}

const (
	DefaultPageSize = 10
	defaultPhase    = "1"
)

// task type (rwlx) per category code
var taskTypeByCategory = map[string]string{
	"01": "1",
	"10": "2",
	"05": "3",
	"06": "4",
}

// ResolveRequest names the category a caller wants. Any of the fields may
// be empty, Code is used to pick among the tabs the portal advertises.
type ResolveRequest struct {
	Credential string
	Category   CategoryParams
}

// Resolver discovers the RequestParameters of a category.
type Resolver struct {
	client   *Client
	tel      telemetry.API
	required []string
	pageSize int
}

type ResolverOption func(r *Resolver)

func WithRequiredFields(fields []string) ResolverOption {
	return func(r *Resolver) {
		r.required = append([]string(nil), fields...)
	}
}

func WithPageSize(size int) ResolverOption {
	return func(r *Resolver) {
		if size > 0 {
			r.pageSize = size
		}
	}
}

func NewResolver(client *Client, tel telemetry.API, options ...ResolverOption) *Resolver {
	assert.NotNil(client)
	assert.NotNil(tel)

	r := &Resolver{
		client:   client,
		tel:      telemetry.NewScopedAPI("portal", tel),
		required: DefaultRequiredFields,
		pageSize: DefaultPageSize,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Resolve fetches the index page and the display page of the category and
// merges their tokens into the parameters every later request replays.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (RequestParameters, error) {
	site := r.client.Site

	indexBody, err := r.client.get(ctx, req.Credential, endpointIndex, map[string]string{
		"layout": "default",
	})
	if err != nil {
		return RequestParameters{}, fmt.Errorf("resolve %s: index page: %w", site.ID, err)
	}
	index, err := parseIndexPage(indexBody)
	if err != nil {
		r.tel.ReportWarning(report_resolver_resolve, fmt.Errorf("index page: %w", err), site.ID)
		return RequestParameters{}, fmt.Errorf("resolve %s: index page: %w", site.ID, err)
	}

	category, usedFallback := selectCategory(index, req.Category, site)
	if usedFallback {
		r.tel.ReportWarning(
			report_resolver_fallback,
			fmt.Errorf("index page advertised no category, using fallback"),
			site.ID,
			category.Code,
		)
	}

	displayBody, err := r.client.post(ctx, req.Credential, endpointDisplay, map[string]string{
		"xkkz_id": category.WindowID,
		"xszxzt":  "1",
		"kklxdm":  category.Code,
		"njdm_id": category.CohortID,
		"zyh_id":  category.MajorID,
		"kspage":  "0",
		"jspage":  "0",
	})
	if err != nil {
		return RequestParameters{}, fmt.Errorf("resolve %s: display page: %w", site.ID, err)
	}
	displayDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(displayBody))
	if err != nil {
		return RequestParameters{}, fmt.Errorf("resolve %s: display page: %w", site.ID, err)
	}
	if isLoginPage(displayDoc) {
		return RequestParameters{}, fmt.Errorf("resolve %s: display page: %w", site.ID, ErrUnrecognizedPage)
	}

	tokens := Merge(index.tokens, extractTokens(displayDoc))
	params := buildParameters(site.ID, category, tokens, r.pageSize)
	params.UsedFallback = usedFallback

	missing := params.Missing(r.required)
	if len(missing) > 0 {
		err := &MissingParamsError{Keys: missing}
		r.tel.ReportWarning(report_resolver_resolve, err, site.ID, category.Code)
		return params, err
	}
	return params, nil
}

// buildParameters fills in derived fields the page did not supply.
func buildParameters(siteID string, category CategoryParams, tokens TokenSet, pageSize int) RequestParameters {
	taskType := tokens.Get("rwlx")
	if taskType == "" {
		taskType = taskTypeByCategory[category.Code]
	}
	phase := tokens.Get("xklc")
	if phase == "" {
		phase = defaultPhase
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return RequestParameters{
		Site:     siteID,
		Category: category,
		Tokens:   tokens.Clone(),
		TaskType: taskType,
		Phase:    phase,
		PageSize: pageSize,
	}
}

type indexPage struct {
	tokens       TokenSet
	tabs         []CategoryParams
	firstDefault CategoryParams
}

var queryCourseRegex = regexp.MustCompile(
	`queryCourse\(\s*this\s*,\s*'([^']*)'\s*,\s*'([^']*)'\s*,\s*'([^']*)'\s*,\s*'([^']*)'`,
)

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find("input[name=yhm]").Length() > 0 || doc.Find("input[name=mm]").Length() > 0
}

func parseIndexPage(body []byte) (indexPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return indexPage{}, fmt.Errorf("%w: %s", ErrUnrecognizedPage, err.Error())
	}
	if isLoginPage(doc) {
		return indexPage{}, fmt.Errorf("%w: got the login page", ErrUnrecognizedPage)
	}

	page := indexPage{tokens: extractTokens(doc)}
	seen := map[string]bool{}
	addTab := func(groups []string, name string) {
		tab := CategoryParams{
			Code:     groups[1],
			Name:     name,
			WindowID: groups[2],
			CohortID: groups[3],
			MajorID:  groups[4],
		}
		key := tab.Code + "\x00" + tab.WindowID
		if tab.Code == "" || seen[key] {
			return
		}
		seen[key] = true
		page.tabs = append(page.tabs, tab)
	}

	doc.Find("[onclick*=queryCourse]").Each(func(_ int, s *goquery.Selection) {
		groups := queryCourseRegex.FindStringSubmatch(s.AttrOr("onclick", ""))
		if len(groups) < 5 {
			return
		}
		addTab(groups, htmlutil.CleanText(htmlutil.GetText(s.Get(0))))
	})
	for _, script := range doc.Find("script").Nodes {
		text := htmlutil.GetText(script)
		for _, groups := range queryCourseRegex.FindAllStringSubmatch(text, -1) {
			addTab(groups, "")
		}
	}

	t := page.tokens
	page.firstDefault = CategoryParams{
		Code:     t.Get("firstKklxdm"),
		WindowID: t.Get("firstXkkzId"),
		CohortID: firstNonEmpty(t.Get("firstNjdmId"), t.Get("njdm_id")),
		MajorID:  firstNonEmpty(t.Get("firstZyhId"), t.Get("zyh_id")),
	}
	for _, tab := range page.tabs {
		if tab.Code == page.firstDefault.Code {
			page.firstDefault.Name = tab.Name
			break
		}
	}

	if len(page.tokens) == 0 && len(page.tabs) == 0 {
		return indexPage{}, fmt.Errorf("%w: no tokens or categories", ErrUnrecognizedPage)
	}
	return page, nil
}

// selectCategory decides which tuple to post to the display page. Identifiers
// advertised by the portal always win over the caller's, because the portal
// rebinds window ids per session. The caller's code only picks among tabs.
func selectCategory(page indexPage, requested CategoryParams, site Site) (CategoryParams, bool) {
	fill := func(c CategoryParams) CategoryParams {
		c.CohortID = firstNonEmpty(c.CohortID, page.tokens.Get("njdm_id"), requested.CohortID)
		c.MajorID = firstNonEmpty(c.MajorID, page.tokens.Get("zyh_id"), requested.MajorID)
		return c
	}

	if requested.Code != "" {
		for _, tab := range page.tabs {
			if tab.Code == requested.Code {
				return fill(tab), false
			}
		}
	}
	if page.firstDefault.Code != "" && page.firstDefault.WindowID != "" {
		return fill(page.firstDefault), false
	}
	if len(page.tabs) > 0 {
		return fill(page.tabs[0]), false
	}
	if requested.Complete() {
		return requested, false
	}
	if site.FallbackCategory != nil {
		return *site.FallbackCategory, true
	}
	return DefaultFallbackCategory, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
