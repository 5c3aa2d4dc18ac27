package compute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultHostTemplate builds the API host for a region; {region} is substituted.
	DefaultHostTemplate = "api-{region}.example"
	apiBasePath         = "/oec/0.9"
	accountPath         = "myaccount"
	maxResponseBytes    = 1 << 20
)

var tracer trace.Tracer = otel.Tracer("github.com/gyaneshwarpardhi/syncagent/internal/compute")

// EndpointForRegion derives the API end-point for region from hostTemplate.
// An empty template means DefaultHostTemplate.
func EndpointForRegion(hostTemplate, region string) (*url.URL, error) {
	if hostTemplate == "" {
		hostTemplate = DefaultHostTemplate
	}
	host := strings.ReplaceAll(hostTemplate, "{region}", region)
	u, err := url.Parse("https://" + host + apiBasePath)
	if err != nil {
		return nil, fmt.Errorf("derive endpoint for region %q: %w", region, err)
	}
	if u.Host == "" || u.Host != host || u.User != nil || u.Path != apiBasePath || u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("derive endpoint for region %q: invalid host %q", region, host)
	}
	return u, nil
}

// Resolver looks up the organisation that owns an account.
type Resolver interface {
	Resolve(ctx context.Context, endpoint *url.URL, userName, password string) (uuid.UUID, error)
}

// Connector creates per-actor API clients. Each client owns its own
// transport so it can be torn down when the owning actor deactivates.
type Connector struct {
	timeout atomic.Int64
	base    func() *http.Transport
}

// Option configures a Connector.
type Option func(*Connector)

// WithTimeout bounds every request made by clients of the connector.
func WithTimeout(d time.Duration) Option {
	return func(c *Connector) { c.timeout.Store(int64(d)) }
}

// WithTransport supplies the base transport factory (tests use this to
// reach httptest servers).
func WithTransport(fn func() *http.Transport) Option {
	return func(c *Connector) { c.base = fn }
}

// NewConnector returns a Connector with the given options applied.
func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		base: func() *http.Transport {
			return http.DefaultTransport.(*http.Transport).Clone()
		},
	}
	c.timeout.Store(int64(30 * time.Second))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTimeout changes the request timeout used by clients created afterwards.
func (c *Connector) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

// Connect returns a client bound to endpoint and credentials. No request is
// made until a client method is called.
func (c *Connector) Connect(endpoint *url.URL, userName, password string) *Client {
	base := c.base()
	return &Client{
		endpoint: endpoint,
		userName: userName,
		password: password,
		base:     base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(base),
			Timeout:   time.Duration(c.timeout.Load()),
		},
	}
}

// Resolve fetches the account at endpoint and returns its organisation id.
// The temporary client is closed before returning.
func (c *Connector) Resolve(ctx context.Context, endpoint *url.URL, userName, password string) (uuid.UUID, error) {
	cl := c.Connect(endpoint, userName, password)
	defer cl.Close()

	acct, err := cl.Account(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	return acct.OrganizationID, nil
}

// Client is an authenticated compute API client for one account.
type Client struct {
	endpoint *url.URL
	userName string
	password string
	base     *http.Transport
	http     *http.Client
}

// Account retrieves the account document for the client's credentials.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	ctx, span := tracer.Start(ctx, "compute.Account",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("compute.endpoint", c.endpoint.String())),
	)
	defer span.End()

	body, err := c.get(ctx, "account", accountPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		return nil, err
	}
	acct, err := DecodeAccount(body)
	if err != nil {
		err = &ResolveError{Kind: KindMalformedResponse, Op: "account", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, KindMalformedResponse.String())
		return nil, err
	}
	span.SetAttributes(attribute.String("compute.organization_id", acct.OrganizationID.String()))
	return acct, nil
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
	c.base.CloseIdleConnections()
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	target := c.endpoint.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &ResolveError{Kind: KindTransport, Op: op, Err: err}
	}
	req.SetBasicAuth(c.userName, c.password)
	req.Header.Set("Accept", "text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ResolveError{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &ResolveError{Kind: KindAuth, Op: op, StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &ResolveError{Kind: KindTransport, Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ResolveError{Kind: KindTransport, Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
