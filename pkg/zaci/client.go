// Package zaci issues requests against the REST management API of a Secure Service
// Container appliance and classifies their outcome.
package zaci

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
	"time"

	"github.com/go-logr/logr"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
)

const (
	// MediaType is the payload media type of the appliance API.
	MediaType = "application/vnd.ibm.zaci.payload+json"
	// RequestMediaType is sent as Content-Type of JSON request bodies.
	RequestMediaType = MediaType + ";version=1.0"
	// OctetStream is used for image uploads and binary downloads.
	OctetStream = "application/octet-stream"
	// APIVersion is sent in the zACI-API header.
	APIVersion = "com.ibm.zaci.system/1.0"

	// DefaultProbeTimeout bounds the reachability probe. The appliance may be
	// completely unreachable while it reboots.
	DefaultProbeTimeout = 5 * time.Second
)

// Client performs requests against a single appliance. It holds no credential,
// callers pass the bearer token of their session with every request.
type Client struct {
	address      string
	baseURL      string
	http         *http.Client
	probe        *http.Client
	probeTimeout time.Duration
	log          logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.probeTimeout = d
	}
}

// NewClient returns a Client for the appliance at address, an IP or FQDN with an
// optional port. An address carrying a URL scheme is used as is, otherwise https is assumed.
// The appliance serves a self-signed certificate, so the default transport does not verify it.
func NewClient(address string, opts ...Option) *Client {
	c := &Client{
		address:      address,
		baseURL:      baseURL(address),
		probeTimeout: DefaultProbeTimeout,
		log:          logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // appliance certificates are self-signed.
			},
		}
	}
	probe := *c.http
	probe.Timeout = c.probeTimeout
	c.probe = &probe
	c.log = c.log.WithName("zaci").WithValues("address", address)

	return c
}

func baseURL(address string) string {
	address = strings.TrimSuffix(address, "/")
	if strings.Contains(address, "://") {
		return address
	}
	return "https://" + address
}

// Address returns the appliance address the client was created with.
func (c *Client) Address() string {
	return c.address
}

// Request describes a single API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Token is sent as bearer credential when set.
	Token       string
	Body        io.Reader
	ContentType string
	// ContentLength is set on the request when positive, streaming bodies need it.
	ContentLength int64
	Accept        string
}

// Response is a fully read API response.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

// Expect returns an HTTPError unless the status code is one of codes.
// Without codes any 2xx status is accepted.
func (r *Response) Expect(codes ...int) error {
	if len(codes) == 0 {
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			return nil
		}
	}
	for _, code := range codes {
		if r.StatusCode == code {
			return nil
		}
	}

	return &HTTPError{Method: r.Method, Path: r.Path, StatusCode: r.StatusCode, Body: string(r.Body)}
}

// Decode unmarshals the JSON body into out.
func (r *Response) Decode(out any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return &ProtocolError{Path: r.Path, Reason: "empty body"}
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &ProtocolError{Path: r.Path, Reason: fmt.Sprintf("decode body: %v", err)}
	}

	return nil
}

// Do performs the request. Any received response is returned regardless of its
// status code; only failures to get a response are returned as TransportError.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	u := c.baseURL + r.Path
	if len(r.Query) > 0 {
		u += "?" + r.Query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u, r.Body)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", r.Method, r.Path, err)
	}
	req.Header.Set("Accept", valueOr(r.Accept, MediaType))
	req.Header.Set("zACI-API", APIVersion)
	req.Header.Set("Content-Type", valueOr(r.ContentType, RequestMediaType))
	if r.ContentLength > 0 {
		req.ContentLength = r.ContentLength
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	c.log.V(1).Info("sending request", "method", r.Method, "path", r.Path, "query", r.Query.Encode())
	resp, err := c.http.Do(req)
	if err != nil {
		// The caller gave up, the appliance was not necessarily unreachable.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s %s: %w", r.Method, r.Path, ctxErr)
		}
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.V(1).Info("received response", "method", r.Method, "path", r.Path, "statusCode", resp.StatusCode)

	return &Response{Method: r.Method, Path: r.Path, StatusCode: resp.StatusCode, Body: body}, nil
}

// JSON sends in as request envelope body, when not nil, and decodes a 2xx response into out,
// when not nil. Non 2xx responses are returned together with an HTTPError.
func (c *Client) JSON(ctx context.Context, method, token, path string, query url.Values, in, out any) (*Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	resp, err := c.Do(ctx, Request{Method: method, Path: path, Query: query, Token: token, Body: body})
	if err != nil {
		return nil, err
	}
	if err := resp.Expect(); err != nil {
		c.log.Info("request failed", "method", method, "path", path, "statusCode", resp.StatusCode, "body", string(resp.Body))
		return resp, err
	}
	if out == nil {
		return resp, nil
	}

	return resp, resp.Decode(out)
}

// Token exchanges username and password for a bearer token.
func (c *Client) Token(ctx context.Context, username, password string) (string, error) {
	in := v1alpha1.NewRequest(v1alpha1.TokenParameters{User: username, Password: password})
	var out v1alpha1.TokenResponse
	if _, err := c.JSON(ctx, http.MethodPost, "", PathAPITokens, nil, in, &out); err != nil {
		return "", &AuthError{Address: c.address, Err: err}
	}
	if out.Parameters.Token == "" {
		return "", &AuthError{Address: c.address, Err: &ProtocolError{Path: PathAPITokens, Reason: "no token in response"}}
	}

	return out.Parameters.Token, nil
}

// Probe reports whether the appliance answers HTTP at all, using the short probe timeout.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	c.log.V(1).Info("probing appliance", "timeout", c.probeTimeout)
	resp, err := c.probe.Do(req)
	if err != nil {
		c.log.V(1).Info("appliance not reachable", "error", err.Error())
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return true
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
