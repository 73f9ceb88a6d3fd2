package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"gotest.tools/assert"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/identity"
	"github.com/shepherd-os/shepherd/pkg/internal/testoutput"
	"github.com/shepherd-os/shepherd/pkg/logging"
)

func testIdentity(t *testing.T) identity.Identity {
	id, err := identity.New("x86_64", "stable", "", "c4b3b7f0-31db-4aa5-9e0d-75dfe1b5b1ad", nil)
	assert.NilError(t, err)
	return id
}

func testGraph() *graph.Graph {
	return &graph.Graph{
		Nodes: []graph.Release{
			{Version: "30.1", Metadata: map[string]string{graph.MetadataAgeIndex: "1"}},
			{Version: "30.2", Metadata: map[string]string{graph.MetadataAgeIndex: "2"}},
		},
		Edges: [][2]int{{0, 1}},
	}
}

func TestCheckResolvesCandidate(t *testing.T) {
	var requests int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		assert.Equal(t, r.URL.Path, "/v1/graph")
		assert.Equal(t, r.URL.Query().Get("basearch"), "x86_64")
		assert.Equal(t, r.URL.Query().Get("stream"), "stable")
		assert.Check(t, r.URL.Query().Get("node_uuid") != "")
		json.NewEncoder(w).Encode(testGraph())
	}))
	defer server.Close()

	c, err := New(testoutput.Logger(t, logging.New("graph-client")), server.URL, testIdentity(t))
	assert.NilError(t, err)

	candidate, outcome, err := c.Check(context.Background(), "30.1", false)
	assert.NilError(t, err)
	assert.Equal(t, outcome, graph.OutcomeSelected)
	assert.Equal(t, candidate.Version(), "30.2")

	// A second check within the cache TTL does not refetch.
	_, _, err = c.Check(context.Background(), "30.1", false)
	assert.NilError(t, err)
	assert.Equal(t, atomic.LoadInt64(&requests), int64(1))
}

func TestCheckOffGraph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(testGraph())
	}))
	defer server.Close()

	c, err := New(testoutput.Logger(t, logging.New("graph-client")), server.URL, testIdentity(t))
	assert.NilError(t, err)

	candidate, outcome, err := c.Check(context.Background(), "29.9", false)
	assert.NilError(t, err)
	assert.Check(t, candidate == nil)
	assert.Equal(t, outcome, graph.OutcomeOffGraph)
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c, err := New(testoutput.Logger(t, logging.New("graph-client")), server.URL, testIdentity(t))
	assert.NilError(t, err)

	_, _, err = c.Check(context.Background(), "30.1", false)
	assert.Check(t, err != nil)
	assert.Check(t, IsFetchError(err))
}

func TestFetchMalformedDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	c, err := New(testoutput.Logger(t, logging.New("graph-client")), server.URL, testIdentity(t))
	assert.NilError(t, err)

	_, _, err = c.Check(context.Background(), "30.1", false)
	assert.Check(t, err != nil)
	assert.Check(t, IsFetchError(err))
}

func TestFetchUnreachable(t *testing.T) {
	c, err := New(testoutput.Logger(t, logging.New("graph-client")), "http://127.0.0.1:1", testIdentity(t))
	assert.NilError(t, err)

	_, _, err = c.Check(context.Background(), "30.1", false)
	assert.Check(t, err != nil)
	assert.Check(t, IsFetchError(err))
}
