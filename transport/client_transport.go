// Package transport implements the client side of an XML-RPC connection.
//
// A ClientTransport owns one keep-alive HTTP transport to one endpoint; that is
// the persistent session. Each call runs its own short-lived XML-RPC client
// (github.com/kolo/xmlrpc) on top of it, so concurrent calls do not queue
// behind each other and a broken call never poisons the next one:
//
//	goroutine-1 ──Call──► xmlrpc.Client ─┐
//	goroutine-2 ──Call──► xmlrpc.Client ─┼──► shared http.Transport ──► server
//	goroutine-3 ──Call──► xmlrpc.Client ─┘     (pooled TCP connections)
//
// Calls are not cancelled: if ctx ends first, Call returns and the late result
// is discarded when it arrives.
package transport

import (
	"context"
	"net"
	"net/http"
	"net/rpc"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/kolo/xmlrpc"

	"xmlrpc-bridge/codec"
	"xmlrpc-bridge/protocol"
)

// ErrClosed is returned by Call after Close.
const ErrClosed = errors.ConstError("transport closed")

// UserAgent is sent with every request.
const UserAgent = "xmlrpc-bridge/1"

// faultPattern matches the text the client library gives remote faults.
var faultPattern = regexp.MustCompile(`(?s)^Fault\((-?\d+)\): (.*)$`)

// Endpoint is the address of an XML-RPC server. It is immutable once a
// transport has been created for it.
type Endpoint struct {
	Host string
	Port int
	Path string
}

// ParseAddr builds an Endpoint from a "host:port" address.
func ParseAddr(addr, path string) (Endpoint, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, errors.NotValidf("address %q", addr)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return Endpoint{}, errors.NotValidf("port %q", portText)
	}
	ep := Endpoint{Host: host, Port: port, Path: path}
	return ep, ep.Validate()
}

// Validate reports whether the endpoint can be dialled.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.NotValidf("empty host")
	}
	if e.Port < 1 || e.Port > 65535 {
		return errors.NotValidf("port %d", e.Port)
	}
	if strings.ContainsAny(e.Path, " ?#") {
		return errors.NotValidf("path %q", e.Path)
	}
	return nil
}

// Addr returns "host:port".
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL returns the HTTP URL of the endpoint.
func (e Endpoint) URL() string {
	u := url.URL{
		Scheme: "http",
		Host:   e.Addr(),
		Path:   protocol.NormalizePath(e.Path),
	}
	return u.String()
}

func (e Endpoint) String() string {
	return e.URL()
}

// ClientTransport calls methods on one endpoint.
type ClientTransport struct {
	endpoint Endpoint
	url      string
	base     *http.Transport   // Keep-alive connection pool, owned by this transport
	rt       http.RoundTripper // What the XML-RPC clients see
	closed   atomic.Bool
}

// NewClientTransport validates the endpoint and prepares the HTTP session.
// No connection is made until the first call.
func NewClientTransport(ep Endpoint) (*ClientTransport, error) {
	if err := ep.Validate(); err != nil {
		return nil, errors.Annotatef(err, "endpoint %s:%d", ep.Host, ep.Port)
	}
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &ClientTransport{
		endpoint: ep,
		url:      ep.URL(),
		base:     base,
		rt:       &roundTripper{base: base},
	}, nil
}

// Endpoint returns the endpoint the transport calls.
func (t *ClientTransport) Endpoint() Endpoint {
	return t.endpoint
}

type callResult struct {
	value any
	err   error
}

// Call invokes method with params and returns the decoded result. A remote
// fault is returned as *codec.Fault; anything else is a transport error.
func (t *ClientTransport) Call(ctx context.Context, method string, params []any) (any, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if params == nil {
		params = []any{}
	}
	c, err := xmlrpc.NewClient(t.url, t.rt)
	if err != nil {
		return nil, errors.Annotatef(err, "creating client for %s", t.url)
	}

	done := make(chan callResult, 1) // Buffered: the goroutine must not block if nobody waits
	go func() {
		defer c.Close()
		var reply any
		err := c.Call(method, params, &reply)
		done <- callResult{value: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify(res.err)
		}
		return res.value, nil
	case <-ctx.Done():
		return nil, errors.Annotatef(ctx.Err(), "calling %q on %s", method, t.url)
	}
}

// Close drops idle connections and rejects further calls. Calls in flight
// complete on their own.
func (t *ClientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.base.CloseIdleConnections()
	return nil
}

func classify(err error) error {
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		if m := faultPattern.FindStringSubmatch(string(serverErr)); m != nil {
			code, _ := strconv.Atoi(m[1])
			return &codec.Fault{Code: code, String: m[2]}
		}
		return &codec.Fault{Code: codec.FaultApplication, String: string(serverErr)}
	}
	return err
}

// roundTripper stamps requests and hides the concrete *http.Transport from the
// XML-RPC client, whose Close would otherwise drop the shared idle connections.
type roundTripper struct {
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", UserAgent)
	return rt.base.RoundTrip(req)
}
