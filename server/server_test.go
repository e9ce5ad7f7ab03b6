package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/kolo/xmlrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmlrpc-bridge/codec"
	"xmlrpc-bridge/metrics"
	"xmlrpc-bridge/registry"
	"xmlrpc-bridge/reply"
)

type recordingWarner struct {
	mu        sync.Mutex
	notFound  []string
	duplicate []string
}

func (w *recordingWarner) NotFound(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notFound = append(w.notFound, method)
}

func (w *recordingWarner) Duplicate(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duplicate = append(w.duplicate, method)
}

func (w *recordingWarner) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.notFound), len(w.duplicate)
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func url(s *Server) string {
	return "http://" + s.Addr().String() + s.Path()
}

func call(t *testing.T, s *Server, method string, params ...any) (any, error) {
	t.Helper()
	c, err := xmlrpc.NewClient(url(s), nil)
	require.NoError(t, err)
	defer c.Close()
	var result any
	err = c.Call(method, params, &result)
	return result, err
}

// addHandler answers asynchronously, the way a flow does.
func addHandler(err error, params []any, tok *reply.Token) {
	go func() {
		if err != nil {
			tok.Send(err, nil)
			return
		}
		var sum int64
		for _, p := range params {
			sum += p.(int64)
		}
		tok.Send(nil, sum)
	}()
}

func TestServerCall(t *testing.T) {
	s := newTestServer(t, Config{})
	assert.Equal(t, StateBound, s.State())
	require.NoError(t, s.Register("add", addHandler))
	assert.Equal(t, 1, s.ListenerCount("add"))

	result, err := call(t, s, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result)
}

func TestServerDuplicateRegistration(t *testing.T) {
	w := &recordingWarner{}
	s := newTestServer(t, Config{Warner: w})

	require.NoError(t, s.Register("add", addHandler))
	err := s.Register("add", func(err error, params []any, tok *reply.Token) {
		tok.Send(nil, "second")
	})
	assert.True(t, errors.IsAlreadyExists(err), "got %v", err)

	_, dup := w.counts()
	assert.Equal(t, 1, dup)
	assert.Equal(t, 1, s.ListenerCount("add"))

	result, err := call(t, s, "add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result, "first handler kept")
}

func TestServerUnregister(t *testing.T) {
	s := newTestServer(t, Config{})
	s.Unregister("never")
	assert.Equal(t, 0, s.ListenerCount("never"))

	require.NoError(t, s.Register("add", addHandler))
	s.Unregister("add")
	s.Unregister("add")
	assert.Equal(t, 0, s.ListenerCount("add"))

	assert.True(t, errors.IsNotValid(s.Register("", addHandler)))
}

func TestServerNotFound(t *testing.T) {
	w := &recordingWarner{}
	s := newTestServer(t, Config{Warner: w})

	_, err := call(t, s, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-32601")

	notFound, _ := w.counts()
	assert.Equal(t, 1, notFound)
	assert.Equal(t, []string{"missing"}, w.notFound)
}

func TestServerHandlerFault(t *testing.T) {
	s := newTestServer(t, Config{})
	require.NoError(t, s.Register("fail", func(err error, params []any, tok *reply.Token) {
		tok.Send(&codec.Fault{Code: 42, String: "nope"}, nil)
	}))

	_, err := call(t, s, "fail")
	require.Error(t, err)
	assert.Equal(t, "Fault(42): nope", err.Error())
}

func TestServerInvalidParams(t *testing.T) {
	s := newTestServer(t, Config{})
	got := make(chan error, 1)
	require.NoError(t, s.Register("add", func(err error, params []any, tok *reply.Token) {
		got <- err
		tok.Send(err, nil)
	}))

	body := `<?xml version="1.0"?><methodCall><methodName>add</methodName><params>` +
		`<param><value><int>abc</int></value></param></params></methodCall>`
	resp, err := http.Post(url(s), "text/xml", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	handlerErr := <-got
	assert.True(t, errors.Is(handlerErr, codec.ErrInvalidParams), "got %v", handlerErr)
}

func TestServerMalformedRequest(t *testing.T) {
	s := newTestServer(t, Config{})

	resp, err := http.Post(url(s), "text/xml", strings.NewReader("not xml"))
	require.NoError(t, err)
	defer resp.Body.Close()

	var r codec.Response
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, (&codec.XMLCodec{}).Decode(data, &r))
	require.NotNil(t, r.Fault)
	assert.Equal(t, codec.FaultParse, r.Fault.Code)

	resp, err = http.Get(url(s))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServerResponseTimeout(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	s := newTestServer(t, Config{Clock: clk, ResponseTimeout: 5 * time.Second})
	require.NoError(t, s.Register("ignored", func(err error, params []any, tok *reply.Token) {}))

	done := make(chan error, 1)
	go func() {
		_, err := call(t, s, "ignored")
		done <- err
	}()

	require.NoError(t, clk.WaitAdvance(5*time.Second, 5*time.Second, 1))
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "-32500")
		assert.Contains(t, err.Error(), `no response for method "ignored"`)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not time out")
	}
}

func TestServerCallerDisconnect(t *testing.T) {
	s := newTestServer(t, Config{})
	tokens := make(chan *reply.Token, 1)
	require.NoError(t, s.Register("slow", func(err error, params []any, tok *reply.Token) {
		tokens <- tok
	}))

	ctx, cancel := context.WithCancel(context.Background())
	body := `<?xml version="1.0"?><methodCall><methodName>slow</methodName></methodCall>`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url(s), strings.NewReader(body))
	require.NoError(t, err)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}()

	tok := <-tokens
	cancel()
	assert.Eventually(t, func() bool {
		return tok.State() == reply.StateAbandoned
	}, 5*time.Second, 10*time.Millisecond)

	// The responder finds the token consumed silently, then already sent.
	assert.NoError(t, tok.Send(nil, "late"))
	assert.True(t, errors.Is(tok.Send(nil, "later"), reply.ErrAlreadySent))
}

func TestServerClose(t *testing.T) {
	s, err := New(Config{Host: "127.0.0.1"})
	require.NoError(t, err)

	tokens := make(chan *reply.Token, 1)
	var calls int
	var mu sync.Mutex
	require.NoError(t, s.Register("wait", func(err error, params []any, tok *reply.Token) {
		mu.Lock()
		calls++
		mu.Unlock()
		tokens <- tok
	}))

	pending := make(chan error, 1)
	go func() {
		_, err := call(t, s, "wait")
		pending <- err
	}()
	<-tokens

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, s.ListenerCount("wait"))

	err = <-pending
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrServerClosed.Error())

	// The socket is gone and nothing more reaches the handler.
	_, err = net.Dial("tcp", s.Addr().String())
	assert.Error(t, err)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	assert.True(t, errors.Is(s.Register("again", addHandler), ErrServerClosed))
	require.NoError(t, s.Close(context.Background()))
}

func TestServerIntrospection(t *testing.T) {
	s := newTestServer(t, Config{Introspection: true})
	require.NoError(t, s.Register("add", addHandler))

	result, err := call(t, s, "system.listMethods")
	require.NoError(t, err)
	assert.Equal(t, []any{"add", "system.listMethods", "system.methodHelp"}, result)

	help, err := call(t, s, "system.methodHelp", "system.listMethods")
	require.NoError(t, err)
	assert.Equal(t, "Returns the names of every method the server answers.", help)

	_, err = call(t, s, "system.methodHelp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-32602")

	err = s.Register("system.listMethods", addHandler)
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestServerAdvertise(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	defer reg.Close()

	s, err := New(Config{Host: "127.0.0.1", Advertise: "arith", Registry: reg})
	require.NoError(t, err)

	instances, err := reg.Discover(context.Background(), "arith")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, s.Addr().String(), instances[0].Addr)
	assert.Equal(t, "/", instances[0].Path)

	require.NoError(t, s.Close(context.Background()))
	instances, err = reg.Discover(context.Background(), "arith")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestServerMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s := newTestServer(t, Config{Metrics: m})
	require.NoError(t, s.Register("add", addHandler))

	_, err := call(t, s, "add", 1)
	require.NoError(t, err)
	_, _ = call(t, s, "missing")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests().WithLabelValues("add", metrics.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests().WithLabelValues("missing", metrics.OutcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registered()))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Pending()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestConfigValidate(t *testing.T) {
	assert.True(t, errors.IsNotValid(Config{Port: -1}.Validate()))
	assert.True(t, errors.IsNotValid(Config{Port: 70000}.Validate()))
	assert.True(t, errors.IsNotValid(Config{Advertise: "x"}.Validate()))
	assert.NoError(t, Config{Port: 8080}.Validate())
}
