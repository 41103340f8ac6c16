// Package solr implements the search backend transport and the update
// buffer feeding it. All communication is JSON POSTed to a single update
// endpoint; adds, deletes, commits, optimize, and delete-by-query share one
// lazily initialized HTTP client.
//
// An optional background worker decouples HTTP submission from record
// enumeration: at most one request is in flight at any time, the next send
// awaits the previous one, and a failed background request aborts the
// pipeline on the next interaction with the client.
package solr

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rajaro/RecordManager-Finna/common"
)

const defaultUserAgent = "RecordManager"

// Config carries the transport settings.
type Config struct {
	// UpdateURL is the backend update endpoint.
	UpdateURL string

	// Username and Password enable basic auth when both are set.
	Username string
	Password string

	// Timeout bounds a single update request; zero means no timeout.
	Timeout time.Duration

	// LongTimeout bounds optimize and the commit following a data source
	// deletion.
	LongTimeout time.Duration

	// InsecureSkipVerify disables TLS peer verification. Default secure.
	InsecureSkipVerify bool

	// Background enables the background transport worker.
	Background bool

	// UserAgent overrides the request User-Agent header.
	UserAgent string
}

// Client posts JSON payloads to the search backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
	worker     *bgWorker
	log        *logrus.Entry
}

// NewClient creates a transport client. The underlying HTTP client is
// initialized lazily on first use.
func NewClient(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.LongTimeout <= 0 {
		cfg.LongTimeout = time.Hour
	}
	c := &Client{
		cfg: cfg,
		log: common.Logger.WithField("component", "solr"),
	}
	if cfg.Background {
		c.worker = newBGWorker(c.postBackground)
	}
	return c
}

func (c *Client) client() *http.Client {
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		// Per-request deadlines are handled via context so that commit and
		// optimize can use a longer bound than regular updates.
		c.httpClient = &http.Client{Transport: transport}
	}
	return c.httpClient
}

// post performs a single JSON POST and maps any non-2xx response to an
// error carrying the response body.
func (c *Client) post(ctx context.Context, body []byte, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UpdateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Username != "" && c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("update request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read update response: %w", err)
	}
	if resp.StatusCode >= 300 {
		preview := body
		if len(preview) > 2048 {
			preview = preview[:2048]
		}
		c.log.WithFields(logrus.Fields{
			"status":   resp.StatusCode,
			"request":  string(preview),
			"response": string(respBody),
		}).Error("Solr update rejected")
		return fmt.Errorf("solr update failed: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// postBackground is the worker's request function. It deliberately uses a
// fresh context: the worker outlives the enumeration step that enqueued the
// payload.
func (c *Client) postBackground(body []byte) error {
	err := c.post(context.Background(), body, c.cfg.Timeout)
	if err != nil {
		c.log.WithError(err).Error("background Solr update failed, aborting")
	}
	return err
}

// Send ships one update payload. In background mode it awaits the previous
// in-flight request and then returns while the new one runs; in foreground
// mode it blocks until the request completes.
func (c *Client) Send(ctx context.Context, body []byte) error {
	if c.worker != nil {
		return c.worker.Submit(body)
	}
	return c.post(ctx, body, c.cfg.Timeout)
}

// Await drains the background worker, returning its failure if any. It is a
// no-op in foreground mode.
func (c *Client) Await() error {
	if c.worker != nil {
		return c.worker.Await()
	}
	return nil
}

// Commit awaits the worker and issues a synchronous commit.
func (c *Client) Commit(ctx context.Context) error {
	if err := c.Await(); err != nil {
		return err
	}
	return c.post(ctx, []byte(`{"commit":{}}`), c.cfg.Timeout)
}

// CommitLong issues a commit with the long timeout, used after heavy
// operations such as a data source deletion.
func (c *Client) CommitLong(ctx context.Context) error {
	if err := c.Await(); err != nil {
		return err
	}
	return c.post(ctx, []byte(`{"commit":{}}`), c.cfg.LongTimeout)
}

// Optimize issues an index optimize with the long timeout.
func (c *Client) Optimize(ctx context.Context) error {
	if err := c.Await(); err != nil {
		return err
	}
	return c.post(ctx, []byte(`{"optimize":{}}`), c.cfg.LongTimeout)
}

// DeleteByQuery deletes all documents matching the query.
func (c *Client) DeleteByQuery(ctx context.Context, query string) error {
	if err := c.Await(); err != nil {
		return err
	}
	body, err := deleteByQueryBody(query)
	if err != nil {
		return err
	}
	return c.post(ctx, body, c.cfg.LongTimeout)
}
