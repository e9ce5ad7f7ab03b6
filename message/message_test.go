package message

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"xmlrpc-bridge/reply"
)

func TestParams(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		expect  []any
	}{
		{"sequence", []any{2, 3}, []any{2, 3}},
		{"typed slice", []int{2, 3}, []any{2, 3}},
		{"array", [2]string{"a", "b"}, []any{"a", "b"}},
		{"scalar", 5, []any{5}},
		{"map", map[string]any{"a": 1}, []any{map[string]any{"a": 1}}},
		{"bytes", []byte("hi"), []any{[]byte("hi")}},
		{"nil", nil, []any{}},
		{"nested", []any{[]any{1, 2}}, []any{[]any{1, 2}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, Params(tc.payload))
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	tok := reply.New(reply.Config{Method: "ping"})
	m := New([]any{1})
	m.Method = "ping"
	m.Params = []any{"a"}
	m.Set("topic", "t1")
	m.Reply = tok

	c := m.Clone()
	c.Payload = 5
	c.Params[0] = "b"
	c.Set("topic", "t2")

	assert.Equal(t, []any{1}, m.Payload)
	assert.Equal(t, "a", m.Params[0])
	topic, _ := m.Get("topic")
	assert.Equal(t, "t1", topic)
	assert.Same(t, tok, c.Reply)
	assert.Equal(t, m.ID, c.ID)
}

func TestErr(t *testing.T) {
	m := New(nil)
	assert.Nil(t, m.Err())

	m.Error = &ErrorInfo{Message: "nope"}
	assert.EqualError(t, m.Err(), "nope")
	assert.Equal(t, DefaultFaultCode, m.Error.FaultCode())

	m.Error.Code = 4
	assert.Equal(t, 4, m.Error.FaultCode())
}
