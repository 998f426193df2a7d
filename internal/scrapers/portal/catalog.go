package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/telemetry"
)

const (
	report_fetcher_page            = "fetcher.page"
	report_fetcher_session_expired = "fetcher.session-expired"
	report_fetcher_fetch           = "fetcher.fetch"
)

const DefaultBatchWidth = 5

// Cursor addresses one catalog page.
type Cursor struct {
	Start int
	Size  int
}

// PageSource returns the rows of one catalog page. A page past the end
// returns no rows and no error.
type PageSource interface {
	Page(ctx context.Context, credential string, params RequestParameters, cursor Cursor) ([]CourseRecord, error)
}

// CatalogResult is the outcome of a fetch. Err is the error of the page that
// ended the fetch, if it ended on an error rather than an empty page.
type CatalogResult struct {
	Courses []CourseRecord
	Pages   int
	Err     error
}

// Fetcher pages through a category catalog in concurrent batches.
type Fetcher struct {
	source     PageSource
	tel        telemetry.API
	batchWidth int
}

func NewFetcher(source PageSource, tel telemetry.API, batchWidth int) *Fetcher {
	assert.NotNil(source)
	assert.NotNil(tel)
	if batchWidth <= 0 {
		batchWidth = DefaultBatchWidth
	}
	return &Fetcher{
		source:     source,
		tel:        telemetry.NewScopedAPI("portal", tel),
		batchWidth: batchWidth,
	}
}

type pageResult struct {
	rows []CourseRecord
	err  error
}

// Fetch requests pages until one comes back empty or errored. Pages of a
// batch are judged in cursor order, so a page is only kept when every page
// before it was kept too. The returned error is non-nil only when the very
// first page failed.
func (f *Fetcher) Fetch(ctx context.Context, credential string, params RequestParameters) (CatalogResult, error) {
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	result := CatalogResult{Courses: []CourseRecord{}}
	next := 0
	for {
		batch := make([]pageResult, f.batchWidth)
		var wg sync.WaitGroup
		for i := 0; i < f.batchWidth; i++ {
			cursor := Cursor{Start: (next + i) * size, Size: size}
			wg.Add(1)
			go func(i int, cursor Cursor) {
				defer wg.Done()
				rows, err := f.source.Page(ctx, credential, params, cursor)
				batch[i] = pageResult{rows: rows, err: err}
			}(i, cursor)
		}
		wg.Wait()

		for i, page := range batch {
			index := next + i
			if page.err != nil {
				f.reportPageError(page.err, params, index)
				result.Err = page.err
				if index == 0 {
					f.tel.ReportBroken(report_fetcher_fetch, page.err, params.Site, params.Category.Code)
					return result, fmt.Errorf("fetch catalog: first page: %w", page.err)
				}
				return result, nil
			}
			if len(page.rows) == 0 {
				return result, nil
			}
			result.Courses = append(result.Courses, page.rows...)
			result.Pages++
		}
		next += f.batchWidth
	}
}

func (f *Fetcher) reportPageError(err error, params RequestParameters, index int) {
	if errors.Is(err, ErrSessionExpired) {
		f.tel.ReportWarning(report_fetcher_session_expired, err, params.Site, index)
		return
	}
	f.tel.ReportWarning(report_fetcher_page, err, params.Site, params.Category.Code, index)
}

type catalogResponse struct {
	TmpList []courseRow `json:"tmpList"`
}

// Page implements PageSource against the live portal.
func (c *Client) Page(ctx context.Context, credential string, params RequestParameters, cursor Cursor) ([]CourseRecord, error) {
	form := params.Form()
	form["kspage"] = strconv.Itoa(cursor.Start + 1)
	form["jspage"] = strconv.Itoa(cursor.Start + cursor.Size)

	body, err := c.post(ctx, credential, endpointCatalog, form)
	if err != nil {
		return nil, err
	}
	if looksLikeHTML(body) {
		return nil, fmt.Errorf("catalog page %d: %w", cursor.Start, ErrSessionExpired)
	}

	var res catalogResponse
	err = json.Unmarshal(body, &res)
	if err != nil {
		return nil, fmt.Errorf("decode catalog page %d: %w", cursor.Start, err)
	}

	records := make([]CourseRecord, 0, len(res.TmpList))
	for _, row := range res.TmpList {
		records = append(records, row.record(params))
	}
	return records, nil
}
