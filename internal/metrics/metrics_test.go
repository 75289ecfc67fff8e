package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveJob(t *testing.T) {
	before := testutil.ToFloat64(jobRuns.WithLabelValues("test-job", "error"))
	ObserveJob("test-job", 10*time.Millisecond, errors.New("boom"))
	after := testutil.ToFloat64(jobRuns.WithLabelValues("test-job", "error"))
	require.Equal(t, before+1, after)
}

func TestInstrumentHandlerUsesRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(InstrumentHandler)
	r.HandleFunc("/tokens/{symbol}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues("/tokens/{symbol}", http.MethodGet, "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tokens/XYZ", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("/tokens/{symbol}", http.MethodGet, "404"))
	require.Equal(t, before+1, after)
}

func TestHandlerExposesCollectors(t *testing.T) {
	SetSubscribers(3)
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "memepulse_ws_subscribers 3"))
}
