// Package untis speaks the WebUntis wire protocol: JSON-RPC for login and
// timetables, REST for homework and exams.
package untis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jw6ventures/timetable/internal/metrics"
)

const (
	defaultClientName    = "timetable"
	defaultMaxAttempts   = 3
	defaultRetryInterval = 250 * time.Millisecond
	sessionCookie        = "JSESSIONID"
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	// ClientName is sent as the "client" parameter of authenticate.
	ClientName string
	// RPS limits outgoing requests per second across all sessions. Zero disables the limit.
	RPS   float64
	Burst int
	// MaxAttempts bounds retries of transport failures.
	MaxAttempts   int
	RetryInterval time.Duration
	// Location is the school's time zone, used for "today".
	Location *time.Location
}

// Client opens sessions against the school service. It is safe for
// concurrent use.
type Client struct {
	http          *http.Client
	limiter       *rate.Limiter
	clientName    string
	maxAttempts   int
	retryInterval time.Duration
	loc           *time.Location
	now           func() time.Time
}

// New builds a Client.
func New(opts Options) *Client {
	c := &Client{
		http:          opts.HTTPClient,
		clientName:    strings.TrimSpace(opts.ClientName),
		maxAttempts:   opts.MaxAttempts,
		retryInterval: opts.RetryInterval,
		loc:           opts.Location,
		now:           time.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.clientName == "" {
		c.clientName = defaultClientName
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.retryInterval <= 0 {
		c.retryInterval = defaultRetryInterval
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return c
}

// Login authenticates and returns a session bound to the account. The
// caller owns creds.Secret and may clear it once Login returns.
func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	base, err := baseURL(creds.Host)
	if err != nil {
		return nil, err
	}
	params := struct {
		User     string `json:"user"`
		Password string `json:"password"`
		Client   string `json:"client"`
	}{User: creds.Username, Password: string(creds.Secret), Client: c.clientName}

	var auth authResult
	if err := c.call(ctx, base, creds.School, "", "authenticate", params, &auth); err != nil {
		return nil, err
	}
	if auth.SessionID == "" {
		return nil, errors.New("untis: authenticate returned no session")
	}
	return &Session{
		client:     c,
		base:       base,
		school:     creds.School,
		id:         auth.SessionID,
		personType: auth.PersonType,
		personID:   auth.PersonID,
		klasseID:   auth.KlasseID,
	}, nil
}

func baseURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("untis: host is required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("untis: invalid host %q", host)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}

// call performs one JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, base, school, sessionID, method string, params, out any) (err error) {
	start := time.Now()
	defer func() {
		observed := err
		if errors.Is(err, ErrNoResult) {
			observed = nil
		}
		metrics.ObserveUpstream(method, start, observed)
	}()

	body, err := json.Marshal(rpcRequest{ID: uuid.NewString(), Method: method, Params: params, JSONRPC: "2.0"})
	if err != nil {
		return fmt.Errorf("untis: encode %s: %w", method, err)
	}
	defer clear(body)

	endpoint := base + "/WebUntis/jsonrpc.do?school=" + url.QueryEscape(school)
	resp, err := c.do(ctx, method, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if sessionID != "" {
			req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(method, resp)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("untis: decode %s: %w", method, err)
	}
	if envelope.Error != nil {
		return &RPCError{Method: method, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("untis: decode %s result: %w", method, err)
	}
	return nil
}

// get performs one REST request and decodes the "data" member into out.
func (c *Client) get(ctx context.Context, base, sessionID, path string, query url.Values, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveUpstream(path, start, err)
	}()

	endpoint := base + "/WebUntis/api/" + path + "?" + query.Encode()
	resp, err := c.do(ctx, path, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: sessionID})
		return req, nil
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}

	var envelope restEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("untis: decode %s: %w", path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("untis: decode %s data: %w", path, err)
	}
	return nil
}

// do sends a request built by build, retrying transport failures and
// transient statuses with exponential backoff.
func (c *Client) do(ctx context.Context, endpoint string, build func() (*http.Request, error)) (*http.Response, error) {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = c.retryInterval

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("untis: %s: %w", endpoint, err)
		}
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("untis: build %s request: %w", endpoint, err)
		}
		resp, err := c.http.Do(req)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("untis: %s: %w", endpoint, err)
		case transient(resp.StatusCode):
			lastErr = statusError(endpoint, resp)
			_ = resp.Body.Close()
		default:
			return resp, nil
		}

		if attempt >= c.maxAttempts || ctx.Err() != nil {
			return nil, lastErr
		}
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			return nil, lastErr
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
}

func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
