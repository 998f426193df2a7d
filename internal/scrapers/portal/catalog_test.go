package portal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"enrollassist-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

// stubSource serves pages from a function of the page index.
type stubSource struct {
	calls atomic.Int64
	page  func(index int) ([]CourseRecord, error)

	mutex   sync.Mutex
	cursors []Cursor
}

func (s *stubSource) Page(_ context.Context, _ string, params RequestParameters, cursor Cursor) ([]CourseRecord, error) {
	s.calls.Add(1)
	s.mutex.Lock()
	s.cursors = append(s.cursors, cursor)
	s.mutex.Unlock()
	return s.page(cursor.Start / cursor.Size)
}

func rowsFor(index, n int) []CourseRecord {
	rows := make([]CourseRecord, n)
	for i := range rows {
		rows[i] = CourseRecord{
			CourseID: fmt.Sprintf("K%d", index),
			ClassID:  fmt.Sprintf("J%d-%d", index, i),
		}
	}
	return rows
}

func TestFetchStopsWithinOneBatch(t *testing.T) {
	for _, pages := range []int{0, 1, 4, 5, 6, 12} {
		t.Run(strconv.Itoa(pages), func(t *testing.T) {
			source := &stubSource{page: func(index int) ([]CourseRecord, error) {
				if index < pages {
					return rowsFor(index, 10), nil
				}
				return nil, nil
			}}
			fetcher := NewFetcher(source, telemetry.NoopAPI{}, 5)

			result, err := fetcher.Fetch(context.Background(), "", testParams())
			require.NoError(t, err)
			require.NoError(t, result.Err)
			require.Equal(t, pages, result.Pages)
			require.Len(t, result.Courses, pages*10)

			// the batch containing the first empty page is the last one issued
			batches := pages/5 + 1
			require.Equal(t, int64(batches*5), source.calls.Load())
		})
	}
}

func TestFetchKeepsCursorOrder(t *testing.T) {
	source := &stubSource{page: func(index int) ([]CourseRecord, error) {
		switch index {
		case 0:
			// the first page answers last
			time.Sleep(20 * time.Millisecond)
			return rowsFor(index, 2), nil
		case 1:
			return rowsFor(index, 2), nil
		case 2:
			return nil, nil
		default:
			// pages after the empty one are discarded even with rows
			return rowsFor(index, 2), nil
		}
	}}
	fetcher := NewFetcher(source, telemetry.NoopAPI{}, 5)

	result, err := fetcher.Fetch(context.Background(), "", testParams())
	require.NoError(t, err)
	require.Equal(t, 2, result.Pages)
	require.Equal(t, []string{"J0-0", "J0-1", "J1-0", "J1-1"}, classIDs(result.Courses))
	require.Equal(t, int64(5), source.calls.Load())
}

func TestFetchErrorEndsLikeEmptyPage(t *testing.T) {
	boom := errors.New("connection reset")
	rec := &telemetry.RecordingAPI{}
	source := &stubSource{page: func(index int) ([]CourseRecord, error) {
		switch {
		case index < 6:
			return rowsFor(index, 1), nil
		case index == 6:
			return nil, boom
		default:
			return rowsFor(index, 1), nil
		}
	}}
	fetcher := NewFetcher(source, rec, 5)

	result, err := fetcher.Fetch(context.Background(), "", testParams())
	require.NoError(t, err)
	require.ErrorIs(t, result.Err, boom)
	require.Equal(t, 6, result.Pages)
	require.Equal(t, int64(10), source.calls.Load())
	require.True(t, rec.Has("warning", "portal: "+report_fetcher_page))
}

func TestFetchFullFailure(t *testing.T) {
	rec := &telemetry.RecordingAPI{}
	source := &stubSource{page: func(index int) ([]CourseRecord, error) {
		if index == 0 {
			return nil, fmt.Errorf("page: %w", ErrSessionExpired)
		}
		return rowsFor(index, 1), nil
	}}
	fetcher := NewFetcher(source, rec, 3)

	result, err := fetcher.Fetch(context.Background(), "", testParams())
	require.ErrorIs(t, err, ErrSessionExpired)
	require.Empty(t, result.Courses)
	require.Equal(t, int64(3), source.calls.Load())
	require.True(t, rec.Has("warning", "portal: "+report_fetcher_session_expired))
	require.True(t, rec.Has("broken", "portal: "+report_fetcher_fetch))
}

func TestFetchCursors(t *testing.T) {
	source := &stubSource{page: func(index int) ([]CourseRecord, error) {
		if index == 0 {
			return rowsFor(0, 1), nil
		}
		return nil, nil
	}}
	params := testParams()
	params.PageSize = 20

	_, err := NewFetcher(source, telemetry.NoopAPI{}, 0).Fetch(context.Background(), "", params)
	require.NoError(t, err)

	starts := map[int]bool{}
	for _, c := range source.cursors {
		require.Equal(t, 20, c.Size)
		starts[c.Start] = true
	}
	require.Equal(t, map[int]bool{0: true, 20: true, 40: true, 60: true, 80: true}, starts)
}

func TestClientPage(t *testing.T) {
	fake := newFakePortal(t)
	fake.json(endpointCatalog, `{"tmpList":[
		{"kch_id":"K1","kcmc":"高等数学","jxb_id":"J1","do_jxb_id":"D1","jsxx":"0001/张三/教授",
		 "sksj":"星期一第1-2节","jxdd":"A101","xf":4,"jxbrl":"60","yxzrs":12},
		{"kch_id":"K2","kcmc":null,"jxb_id":"J2","jxbrl":"n/a"}
	]}`)

	client := fake.client()
	params := testParams()
	rows, err := client.Page(context.Background(), "sid=1", params, Cursor{Start: 10, Size: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, CourseRecord{
		CourseID:   "K1",
		ClassID:    "J1",
		DoID:       "D1",
		Title:      "高等数学",
		Instructor: "0001/张三/教授",
		Schedule:   "星期一第1-2节",
		Room:       "A101",
		Credit:     "4",
		SeatsTotal: 60,
		SeatsTaken: 12,
		Params:     params,
	}, rows[0])
	require.Equal(t, "", rows[1].Title)
	require.Equal(t, 0, rows[1].SeatsTotal)

	forms := fake.formsOf(endpointCatalog)
	require.Len(t, forms, 1)
	require.Equal(t, "11", forms[0]["kspage"])
	require.Equal(t, "20", forms[0]["jspage"])
	require.Equal(t, "10", forms[0]["kklxdm"])
	require.Equal(t, "2024", forms[0]["xkxnm"])
}

func TestClientPageSessionExpired(t *testing.T) {
	fake := newFakePortal(t)
	fake.html(endpointCatalog, `<html><body><input name="yhm"></body></html>`)

	_, err := fake.client().Page(context.Background(), "", testParams(), Cursor{Start: 0, Size: 10})
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestClientPageEmpty(t *testing.T) {
	fake := newFakePortal(t)
	fake.json(endpointCatalog, `{"tmpList":[]}`)

	rows, err := fake.client().Page(context.Background(), "", testParams(), Cursor{Start: 90, Size: 10})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func classIDs(courses []CourseRecord) []string {
	out := make([]string, len(courses))
	for i, c := range courses {
		out[i] = c.ClassID
	}
	return out
}
