package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zimagehq/zimage/internal/adapter/observability"
)

// hopHeaders are stripped in both directions, per RFC 9110 section 7.6.1.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy streams requests to one upstream service, replacing the client's
// Authorization header with the verified identity headers. Client paths under
// /v1 are served by upstreams under /api/v1.
type Proxy struct {
	upstream   *url.URL
	pathPrefix string
	client     *http.Client
	timeout    time.Duration
}

// NewProxy builds a proxy for upstreamURL with a per-request timeout.
// pathPrefix is prepended to the client path before forwarding.
func NewProxy(upstreamURL, pathPrefix string, timeout time.Duration) (*Proxy, error) {
	u, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		upstream:   u,
		pathPrefix: pathPrefix,
		// the proxy must not follow upstream redirects on the client's behalf
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		timeout: timeout,
	}, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	target := *p.upstream
	target.Path = singleJoin(p.upstream.Path, singleJoin(p.pathPrefix, r.URL.Path))
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = r.Body
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "gateway error")
		return
	}

	copyHeaders(req.Header, r.Header)
	req.Header.Del("Authorization")
	req.Header.Del(HeaderUserID)
	req.Header.Del(HeaderUserRole)
	if uid, role := IdentityFrom(r.Context()); uid != "" {
		req.Header.Set(HeaderUserID, uid)
		req.Header.Set(HeaderUserRole, role)
	}
	req.Host = target.Host

	resp, err := p.client.Do(req)
	if err != nil {
		p.writeUpstreamError(w, r, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Warn("proxy response copy interrupted", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func (p *Proxy) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		observability.GatewayReject("upstream_timeout")
		writeJSONError(w, http.StatusGatewayTimeout, "upstream timed out")
	case isDialError(err):
		observability.GatewayReject("upstream_unavailable")
		writeJSONError(w, http.StatusServiceUnavailable, "upstream unavailable")
	default:
		observability.GatewayReject("upstream_error")
		slog.Error("proxy upstream error", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "gateway error")
	}
}

// isDialError reports whether the upstream could not be reached at all:
// refused connections, failed lookups, unreachable routes. Errors after the
// connection was established are not reachability failures.
func isDialError(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) {
		return op.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}

func singleJoin(a, b string) string {
	switch {
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
