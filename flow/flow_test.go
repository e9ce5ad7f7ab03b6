package flow

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"xmlrpc-bridge/message"
)

// recorder collects lifecycle events across nodes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type testNode struct {
	def      *NodeDef
	rt       Runtime
	rec      *recorder
	received chan *message.Message
	inFlight atomic.Int32
	overlap  atomic.Bool
	forward  bool
}

func (n *testNode) ID() string   { return n.def.ID }
func (n *testNode) Type() string { return n.def.Type }

func (n *testNode) Input(ctx context.Context, msg *message.Message) {
	if n.inFlight.Add(1) > 1 {
		n.overlap.Store(true)
	}
	defer n.inFlight.Add(-1)
	time.Sleep(time.Millisecond)
	if n.forward {
		n.rt.Send(msg)
	}
	n.received <- msg
}

func (n *testNode) Close(ctx context.Context) error {
	n.rec.add("close " + n.def.ID)
	return nil
}

func testTypes(rec *recorder) *Types {
	types := NewTypes()
	newNode := func(forward bool) Factory {
		return func(def *NodeDef, rt Runtime, deps Deps) (Node, error) {
			var cfg struct {
				Shared string `yaml:"shared"`
			}
			if err := def.Decode(&cfg); err != nil {
				return nil, err
			}
			if cfg.Shared != "" {
				if _, err := deps.Resolve(cfg.Shared); err != nil {
					return nil, err
				}
			}
			rec.add("build " + def.ID)
			return &testNode{def: def, rt: rt, rec: rec, received: make(chan *message.Message, 16), forward: forward}, nil
		}
	}
	_ = types.RegisterConfig("shared", newNode(false))
	_ = types.Register("echo", newNode(true))
	_ = types.Register("sink", newNode(false))
	return types
}

const testFlow = `
nodes:
  - id: in
    type: echo
    shared: conf
    wires: [out1, out2]
  - id: out1
    type: sink
  - id: out2
    type: sink
  - id: conf
    type: shared
`

func deployTest(t *testing.T, rec *recorder) *Flow {
	t.Helper()
	def, err := Load(strings.NewReader(testFlow))
	require.NoError(t, err)
	f, err := Deploy(context.Background(), def, Options{Types: testTypes(rec)})
	require.NoError(t, err)
	return f
}

func receive(t *testing.T, f *Flow, id string) *message.Message {
	t.Helper()
	n, ok := f.Node(id)
	require.True(t, ok)
	select {
	case msg := <-n.(*testNode).received:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("node %s received nothing", id)
		return nil
	}
}

func TestDeployOrder(t *testing.T) {
	rec := &recorder{}
	f := deployTest(t, rec)
	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))

	assert.Equal(t, []string{
		"build conf", "build in", "build out1", "build out2",
		"close out2", "close out1", "close in", "close conf",
	}, rec.list())
}

func TestRouting(t *testing.T) {
	f := deployTest(t, &recorder{})
	defer f.Close(context.Background())

	msg := message.New("hello")
	require.NoError(t, f.Inject("in", msg))

	got1 := receive(t, f, "out1")
	got2 := receive(t, f, "out2")
	assert.Equal(t, "hello", got1.Payload)
	assert.Equal(t, "hello", got2.Payload)
	assert.Same(t, msg, got1, "first wire gets the original")
	assert.NotSame(t, got1, got2, "later wires get a copy")

	assert.True(t, errors.IsNotFound(f.Inject("nope", msg)))
	assert.True(t, errors.IsNotSupported(f.Inject("conf", msg)))
}

func TestOneEventAtATime(t *testing.T) {
	f := deployTest(t, &recorder{})
	defer f.Close(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = f.Inject("out1", message.New(i))
		}(i)
	}
	wg.Wait()
	for i := 0; i < 20; i++ {
		receive(t, f, "out1")
	}
	n, _ := f.Node("out1")
	assert.False(t, n.(*testNode).overlap.Load())
}

func TestClosedFlowDropsMessages(t *testing.T) {
	f := deployTest(t, &recorder{})
	require.NoError(t, f.Close(context.Background()))
	assert.Error(t, f.Inject("in", message.New(1)))
}

func TestRuntimeLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	def, err := Load(strings.NewReader("nodes:\n  - id: a\n    type: sink\n"))
	require.NoError(t, err)
	f, err := Deploy(context.Background(), def, Options{Types: testTypes(&recorder{}), Logger: zap.New(core)})
	require.NoError(t, err)
	defer f.Close(context.Background())

	n, _ := f.Node("a")
	rt := n.(*testNode).rt
	rt.Warn("careful")
	rt.Error(errors.New("connect: connection refused"), message.New(nil))
	assert.Equal(t, "missing client config", rt.T("xmlrpc.client.missing"))

	warn := logs.FilterMessage("careful").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "a", warn[0].ContextMap()["node"])
	assert.Equal(t, 1, logs.FilterMessage("connect: connection refused").Len())
}

func TestDefinitionValidate(t *testing.T) {
	types := testTypes(&recorder{})
	cases := map[string]string{
		"missing id":    "nodes:\n  - type: sink\n",
		"duplicate id":  "nodes:\n  - id: a\n    type: sink\n  - id: a\n    type: sink\n",
		"unknown type":  "nodes:\n  - id: a\n    type: nope\n",
		"dangling wire": "nodes:\n  - id: a\n    type: sink\n    wires: [b]\n",
	}
	for name, text := range cases {
		def, err := Load(strings.NewReader(text))
		require.NoError(t, err, name)
		assert.Error(t, def.Validate(types), name)
	}

	_, err := Load(strings.NewReader("nodes: [unterminated"))
	assert.True(t, errors.IsNotValid(err))
}

func TestDeployFailureClosesBuiltNodes(t *testing.T) {
	rec := &recorder{}
	def, err := Load(strings.NewReader("nodes:\n  - id: conf\n    type: shared\n  - id: a\n    type: sink\n    shared: missing\n"))
	require.NoError(t, err)
	_, err = Deploy(context.Background(), def, Options{Types: testTypes(rec)})
	assert.True(t, errors.IsNotFound(err), "got %v", err)
	assert.Equal(t, []string{"build conf", "close conf"}, rec.list())
}

func TestNodeDefDecode(t *testing.T) {
	def, err := Load(strings.NewReader(`
nodes:
  - id: c
    type: sink
    name: My client
    host: localhost
    port: "8080"
    timeout: 5s
`))
	require.NoError(t, err)
	nd := def.Nodes[0]
	assert.Equal(t, "My client", nd.Label())

	var cfg struct {
		Host    string        `yaml:"host"`
		Port    int           `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
	}
	require.NoError(t, nd.Decode(&cfg))
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	var narrow struct {
		Host string `yaml:"host"`
	}
	assert.True(t, errors.IsNotValid(nd.Decode(&narrow)), "unknown keys are rejected")
}

func TestTypes(t *testing.T) {
	types := NewTypes()
	f := func(def *NodeDef, rt Runtime, deps Deps) (Node, error) { return nil, nil }
	require.NoError(t, types.Register("a", f))
	assert.True(t, errors.IsAlreadyExists(types.Register("a", f)))
	assert.True(t, errors.IsNotValid(types.Register("", f)))
	require.NoError(t, types.RegisterConfig("b", f))

	info, ok := types.Lookup("b")
	require.True(t, ok)
	assert.True(t, info.Config)
	assert.Equal(t, []string{"a", "b"}, types.Names())
}
