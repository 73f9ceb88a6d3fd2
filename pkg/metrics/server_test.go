package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gotest.tools/assert"

	"github.com/shepherd-os/shepherd/pkg/internal/testoutput"
	"github.com/shepherd-os/shepherd/pkg/logging"
)

func TestServerRoutes(t *testing.T) {
	log := testoutput.Logger(t, logging.New("metrics-test"))
	m := New()
	m.GraphFetchFailures.Inc()
	m.Transitions.WithLabelValues("steady").Inc()

	srv := NewServer(log, "127.0.0.1:0", m, func() interface{} {
		return map[string]string{"state": "steady"}
	})

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Check(t, strings.Contains(rec.Body.String(), `"state":"steady"`))

	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Check(t, strings.Contains(rec.Body.String(), "shepherd_graph_fetch_failures_total 1"))
	assert.Check(t, strings.Contains(rec.Body.String(), `shepherd_state_transitions_total{state="steady"} 1`))
}

func TestServerStatusRejectsOtherMethods(t *testing.T) {
	log := testoutput.Logger(t, logging.New("metrics-test"))
	srv := NewServer(log, "127.0.0.1:0", New(), func() interface{} { return nil })

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	log := testoutput.Logger(t, logging.New("metrics-test"))
	srv := NewServer(log, "127.0.0.1:0", New(), func() interface{} { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- srv.Run(ctx) }()
	cancel()
	assert.NilError(t, <-errs)
}
