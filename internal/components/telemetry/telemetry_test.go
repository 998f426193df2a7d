package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &RecordingAPI{}
	scoped := NewScopedAPI("portal", rec)

	scoped.ReportBroken("fetcher.fetch", "boom")
	scoped.ReportWarning("resolver.resolve")
	scoped.ReportDebug("hello")
	scoped.ReportCount("tasks.running", 3)

	reports := rec.Reports("")
	require.Len(t, reports, 4)
	require.Equal(t, "portal: fetcher.fetch", reports[0].ID)
	require.Equal(t, []any{"boom"}, reports[0].Params)
	require.Equal(t, "portal: resolver.resolve", reports[1].ID)
	require.Equal(t, "portal: hello", reports[2].ID)
	require.Equal(t, int64(3), reports[3].Count)
}

func TestMetricAPI(t *testing.T) {
	rec := &RecordingAPI{}
	api := NewMetricAPI(rec)

	api.ReportCount("tasks.running", 2)
	api.ReportCount("tasks.running", 5)
	api.ReportWarning("x")

	n, ok := api.Last("tasks.running")
	require.True(t, ok)
	require.Equal(t, int64(5), n)
	_, ok = api.Last("missing")
	require.False(t, ok)

	require.Len(t, rec.Reports("count"), 2)
	require.True(t, rec.Has("warning", "x"))
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &RecordingAPI{}
	client := resty.New()
	InstrumentResty(client, rec)

	_, err := client.R().Get(srv.URL)
	require.NoError(t, err)
	require.True(t, rec.Has("debug", report_resty_request))
	require.True(t, rec.Has("debug", report_resty_response))

	_, err = client.R().Get("http://127.0.0.1:1")
	require.Error(t, err)
	require.True(t, rec.Has("broken", report_resty_response))
}
