package portal

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"enrollassist-backend/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

// fakePortal serves the enrollment endpoints of a single site from handlers
// keyed by endpoint name and records every form it received.
type fakePortal struct {
	t        *testing.T
	server   *httptest.Server
	tel      *telemetry.RecordingAPI
	mutex    sync.Mutex
	handlers map[string]http.HandlerFunc
	forms    map[string][]map[string]string
	cookies  []string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	f := &fakePortal{
		t:        t,
		tel:      &telemetry.RecordingAPI{},
		handlers: map[string]http.HandlerFunc{},
		forms:    map[string][]map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/jwglxt/xsxk/", func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path[len("/jwglxt/xsxk/"):]
		require.Equal(t, moduleCode, r.URL.Query().Get("gnmkdm"))
		require.NoError(t, r.ParseForm())

		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		f.mutex.Lock()
		f.forms[endpoint] = append(f.forms[endpoint], form)
		f.cookies = append(f.cookies, r.Header.Get("Cookie"))
		handler, ok := f.handlers[endpoint]
		f.mutex.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePortal) handle(endpoint string, handler http.HandlerFunc) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.handlers[endpoint] = handler
}

func (f *fakePortal) respond(endpoint, contentType, body string) {
	f.handle(endpoint, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(body))
	})
}

func (f *fakePortal) html(endpoint, body string) {
	f.respond(endpoint, "text/html; charset=utf-8", body)
}

func (f *fakePortal) json(endpoint, body string) {
	f.respond(endpoint, "application/json", body)
}

func (f *fakePortal) formsOf(endpoint string) []map[string]string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]map[string]string(nil), f.forms[endpoint]...)
}

func (f *fakePortal) site() Site {
	return Site{ID: "test", Name: "Test University", BaseURL: f.server.URL}
}

func (f *fakePortal) client() *Client {
	f.t.Helper()
	client, err := NewClient(f.site(), ClientOptions{}, f.tel)
	require.NoError(f.t, err)
	return client
}

func testParams() RequestParameters {
	return buildParameters("test", CategoryParams{
		Code:     "10",
		WindowID: "W10",
		CohortID: "2022",
		MajorID:  "0101",
	}, TokenSet{"xkxnm": "2024", "xkxqm": "3"}, 10)
}
