package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/karlseguin/ccache"
	"github.com/pkg/errors"

	"github.com/shepherd-os/shepherd/pkg/graph"
	"github.com/shepherd-os/shepherd/pkg/identity"
	"github.com/shepherd-os/shepherd/pkg/logging"
)

// graphPath is the graph service API endpoint (v1).
const graphPath = "v1/graph"

const (
	defaultTimeout = 30 * time.Second

	// cacheTTL bounds how long a fetched graph may be served from cache.
	// Rapid re-ticks during degraded oscillation reuse the last response
	// instead of hammering the service.
	cacheTTL = 15 * time.Second
)

// FetchError is any failure to obtain and decode the update graph: network
// errors, non-2xx responses and malformed documents. Callers treat it as a
// transient condition, never as fatal.
type FetchError struct {
	cause error
}

func (e *FetchError) Error() string {
	return "unable to fetch update graph: " + e.cause.Error()
}

func (e *FetchError) Unwrap() error { return e.cause }

// IsFetchError reports whether err is a graph fetch failure.
func IsFetchError(err error) bool {
	fe := &FetchError{}
	return errors.As(err, &fe)
}

// Client fetches the update graph from the remote service and resolves the
// next update candidate for this host.
type Client struct {
	log      logging.Logger
	endpoint *url.URL
	identity identity.Identity
	http     *http.Client
	cache    *ccache.Cache
}

// New builds a graph client for the service rooted at baseURL.
func New(log logging.Logger, baseURL string, id identity.Identity) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse graph service URL")
	}
	endpoint, err := base.Parse(graphPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build graph endpoint")
	}

	query := endpoint.Query()
	query.Set("basearch", id.BaseArch)
	query.Set("stream", id.Stream)
	query.Set("group", id.Group)
	query.Set("node_uuid", id.NodeUUID.String())
	endpoint.RawQuery = query.Encode()

	return &Client{
		log:      log,
		endpoint: endpoint,
		identity: id,
		http:     &http.Client{Timeout: defaultTimeout},
		cache:    ccache.New(ccache.Configure().MaxSize(4)),
	}, nil
}

// Check fetches the graph and resolves the next candidate reachable from
// the current version. A nil candidate with a nil error means the host has
// no admissible update right now; the Outcome says why.
func (c *Client) Check(ctx context.Context, currentVersion string, allowBarriers bool) (*graph.Candidate, graph.Outcome, error) {
	g, err := c.fetch(ctx)
	if err != nil {
		return nil, "", err
	}

	candidate, outcome := graph.Resolve(g, currentVersion, c.identity.WarinessPermille, allowBarriers)
	switch outcome {
	case graph.OutcomeSelected:
		c.log.WithField("version", candidate.Version()).Info("update candidate resolved")
	case graph.OutcomeOffGraph:
		c.log.WithField("version", currentVersion).Warn("current release not found in update graph")
	case graph.OutcomeWithheld:
		c.log.Debug("reachable updates withheld by rollout policy")
	default:
		c.log.Debug("no update available")
	}
	return candidate, outcome, nil
}

func (c *Client) fetch(ctx context.Context) (*graph.Graph, error) {
	key := c.endpoint.String()
	if item := c.cache.Get(key); item != nil && !item.Expired() {
		c.log.Debug("serving update graph from cache")
		return item.Value().(*graph.Graph), nil
	}

	c.log.WithField("endpoint", key).Debug("fetching update graph")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, key, nil)
	if err != nil {
		return nil, &FetchError{cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{cause: errors.Errorf("graph service returned status %d", resp.StatusCode)}
	}

	var g graph.Graph
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, &FetchError{cause: errors.Wrap(err, "malformed graph document")}
	}

	c.cache.Set(key, &g, cacheTTL)
	return &g, nil
}
