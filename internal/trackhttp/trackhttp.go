// Package trackhttp implements the two HTTP call families the pipeline
// makes: authenticated API lookups (site resolution) and tracker bulk or
// single submissions. Tracker submissions use bounded retry and the
// tracker's partial-batch recovery contract; API lookups and token
// requests are not retried, apart from one repeat of a lookup after a
// 401 token refresh.
package trackhttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nekrassov01/hitreplay/internal/trackerr"
	"github.com/sirupsen/logrus"
)

// Config carries the HTTP-facing options from trackconfig.Config.
type Config struct {
	TrackerURL     string
	APIURL         string
	AuthUser       string
	AuthPassword   string
	ClientID       string
	ClientSecret   string
	BulkTracking   bool
	RequestTimeout time.Duration
	MaxAttempts    int
	DelayAfterFail time.Duration
	InsecureSkip   bool // accept_invalid_ssl_certificate
}

// Client performs tracker and API calls for one run.
type Client struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry

	mu        sync.Mutex
	token     string
	tokenType string
}

// New builds a Client. httpClient lets callers/tests substitute a
// transport (e.g. httptest.Server); pass nil to use a default one
// configured from cfg.
func New(cfg Config, httpClient *http.Client, log *logrus.Entry) *Client {
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkip {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	}
	return &Client{cfg: cfg, http: httpClient, log: log}
}

// Authenticate acquires a bearer token up front when client credentials
// are configured (spec.md §4.7 "Token acquisition ... at startup"). A
// no-op when no client id/secret is set, e.g. basic-auth-only setups.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.cfg.ClientID == "" && c.cfg.ClientSecret == "" {
		return nil
	}
	return c.refreshToken(ctx)
}

// trackResponse is the tracker's bulk-submission reply: either a bare
// "OK" result or {"tracked": N, "message": "..."} on partial failure.
// Tracked is a pointer so an absent field (full bulk success, no partial
// count reported) is distinguishable from an explicit 0 (genuinely zero
// hits accepted, which must trigger a full retry).
type trackResponse struct {
	Status  string `json:"status"`
	Tracked *int   `json:"tracked"`
	Message string `json:"message"`
}

// SendBatch posts batch to the tracker endpoint, retrying transient
// failures up to cfg.MaxAttempts times with cfg.DelayAfterFail between
// attempts. On a partial accept ("tracked": N < len(batch)), it resends
// only the unaccepted suffix, matching spec.md §8 invariant 4
// (idempotent retry of the rejected tail only). In single-tracking mode
// (cfg.BulkTracking false) the recorder pool already forces batches of
// one hit; postBatch degrades to a single form-encoded POST per call.
func (c *Client) SendBatch(ctx context.Context, batch []map[string]any) error {
	remaining := batch
	attempt := 0
	op := func() error {
		attempt++
		sent, err := c.postBatch(ctx, remaining)
		if err != nil {
			var he *httpStatusError
			if asHTTPStatusError(err, &he) && he.Status == http.StatusBadRequest {
				return backoff.Permanent(trackerr.Fatalf("trackhttp: tracker rejected batch (400): %s", he.Body))
			}
			c.log.WithError(err).WithField("attempt", attempt).Info("tracker request failed, retrying")
			return err
		}
		if sent < len(remaining) {
			unaccepted := len(remaining) - sent
			remaining = remaining[sent:]
			return fmt.Errorf("trackhttp: partial batch accepted (%d/%d), retrying remainder", sent, sent+unaccepted)
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.DelayAfterFail), uint64(maxInt(c.cfg.MaxAttempts-1, 0)))
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return trackerr.NewFatal(fmt.Errorf("trackhttp: giving up after %d attempts: %w", c.cfg.MaxAttempts, err))
	}
	return nil
}

// postBatch sends one HTTP attempt and returns how many hits the
// tracker accepted.
func (c *Client) postBatch(ctx context.Context, batch []map[string]any) (int, error) {
	if !c.cfg.BulkTracking {
		if len(batch) == 0 {
			return 0, nil
		}
		if err := c.postSingle(ctx, batch[0]); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return c.postBulk(ctx, batch)
}

// postBulk sends batch as {"requests":[{...},...]} (spec.md §6), each
// element a real JSON object rather than an encoded query string.
func (c *Client) postBulk(ctx context.Context, batch []map[string]any) (int, error) {
	payload, err := json.Marshal(map[string]any{"requests": batch})
	if err != nil {
		return 0, fmt.Errorf("trackhttp: encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TrackerURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("trackhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthUser != "" {
		req.SetBasicAuth(c.cfg.AuthUser, c.cfg.AuthPassword)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("trackhttp: do request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return 0, &httpStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr trackResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		// tracker replies "OK" on full bulk success with no JSON body
		if strings.TrimSpace(string(body)) == "OK" {
			return len(batch), nil
		}
		return 0, fmt.Errorf("trackhttp: decode response: %w", err)
	}
	if tr.Tracked == nil {
		return len(batch), nil
	}
	return *tr.Tracked, nil
}

// postSingle sends one hit as a URL-encoded form POST (spec.md §6
// "disable_bulk_tracking" path), the architecturally-correct fix for
// the original query-string-building approach's escaping bugs: Go's
// url.Values.Encode handles every byte correctly by construction.
func (c *Client) postSingle(ctx context.Context, args map[string]any) error {
	form := encodeFormValues(args)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TrackerURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("trackhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.cfg.AuthUser != "" {
		req.SetBasicAuth(c.cfg.AuthUser, c.cfg.AuthPassword)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trackhttp: do request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// encodeFormValues flattens a (possibly nested, post-flatten()) tracker
// argument map back into PHP bracket-array form keys, the inverse of
// reqbuilder's deep-array handling, so single-tracking mode can still
// carry structured values like cvar/_cvar over a form POST.
func encodeFormValues(args map[string]any) url.Values {
	form := url.Values{}
	for k, v := range args {
		encodeFormValue(form, k, v)
	}
	return form
}

func encodeFormValue(form url.Values, key string, v any) {
	switch t := v.(type) {
	case string:
		form.Add(key, t)
	case map[string]any:
		for k, child := range t {
			encodeFormValue(form, key+"["+k+"]", child)
		}
	case []any:
		for _, child := range t {
			encodeFormValue(form, key+"[]", child)
		}
	default:
		form.Add(key, fmt.Sprintf("%v", t))
	}
}

// apiEnvelope is the shape returned by both site-lookup API endpoints
// (spec.md §6 "same envelope"): `.data.id` and
// `.data.attributes.urls[0]`.
type apiEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URLs []string `json:"urls"`
		} `json:"attributes"`
	} `json:"data"`
}

func (e *apiEnvelope) mainURL() string {
	if len(e.Data.Attributes.URLs) == 0 {
		return ""
	}
	return e.Data.Attributes.URLs[0]
}

// ResolveSiteID looks up the site id and main URL for host via the
// authenticated API, refreshing the bearer token once on a 401 before
// failing (spec.md §4.7, §6
// "/api/tracker/v2/settings/app/url?app_url={host}").
func (c *Client) ResolveSiteID(ctx context.Context, host string) (string, string, bool, error) {
	path := fmt.Sprintf("/api/tracker/v2/settings/app/url?app_url=%s", url.QueryEscape(host))
	env, status, err := c.apiLookup(ctx, path)
	if err != nil {
		return "", "", false, err
	}
	if status == http.StatusUnauthorized {
		if err := c.refreshToken(ctx); err != nil {
			return "", "", false, err
		}
		env, status, err = c.apiLookup(ctx, path)
		if err != nil {
			return "", "", false, err
		}
	}
	if status == http.StatusNotFound {
		return "", "", false, nil
	}
	if status != http.StatusOK {
		return "", "", false, fmt.Errorf("trackhttp: api lookup %q: unexpected status %d", host, status)
	}
	return env.Data.ID, env.mainURL(), true, nil
}

// FetchMainURL fetches a known site id's main URL (spec.md §6
// "GET /api/apps/v2/{site_id}"), used by the static resolver.
func (c *Client) FetchMainURL(ctx context.Context, siteID string) (string, error) {
	path := fmt.Sprintf("/api/apps/v2/%s", url.PathEscape(siteID))
	env, status, err := c.apiLookup(ctx, path)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		if err := c.refreshToken(ctx); err != nil {
			return "", err
		}
		env, status, err = c.apiLookup(ctx, path)
		if err != nil {
			return "", err
		}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("trackhttp: fetch main url for site %q: unexpected status %d", siteID, status)
	}
	return env.mainURL(), nil
}

func (c *Client) apiLookup(ctx context.Context, path string) (*apiEnvelope, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	c.mu.Lock()
	token, tokenType := c.token, c.tokenType
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", tokenType+" "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("trackhttp: decode lookup response: %w", err)
	}
	return &env, resp.StatusCode, nil
}

// refreshToken exchanges the configured client credentials for a bearer
// token (spec.md §4.7, §6 "POST {piwik_api_url}/auth/token
// form-encoded"), honoring the response's own token_type rather than
// assuming "Bearer".
func (c *Client) refreshToken(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trackhttp: refresh token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return trackerr.Fatalf("trackhttp: token refresh failed with status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("trackhttp: decode token response: %w", err)
	}
	if out.TokenType == "" {
		out.TokenType = "Bearer"
	}
	c.mu.Lock()
	c.token = out.AccessToken
	c.tokenType = out.TokenType
	c.mu.Unlock()
	return nil
}

type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("trackhttp: unexpected status %d: %s", e.Status, e.Body)
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	if he, ok := err.(*httpStatusError); ok {
		*target = he
		return true
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
