// Package message defines the envelope exchanged between flow nodes.
//
// A Message is created by the node that starts a hop (an inject node, the call
// node after a successful call, the listen node for each inbound request) and is
// consumed by the next node. Only the Reply token outlives a hop: it travels
// with the message until a response node fires it.
//
//   - call input:      Method (optional), Payload
//   - call output:     the input with Payload replaced by the call result
//   - listen output:   Method, Params, Reply
//   - response input:  Error (optional), Payload, Reply
package message

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"

	"xmlrpc-bridge/reply"
)

// DefaultFaultCode is used when an ErrorInfo carries no code
// ("application error" in the XML-RPC fault code interop list).
const DefaultFaultCode = -32500

// ErrorInfo is the error carried by a message, e.g. the error a flow wants to
// answer an inbound request with.
type ErrorInfo struct {
	Message string `json:"message" yaml:"message" mapstructure:"message"`
	Code    int    `json:"code,omitempty" yaml:"code,omitempty" mapstructure:"code"`
}

func (e *ErrorInfo) Error() string {
	return e.Message
}

// FaultCode returns the XML-RPC fault code for the error.
func (e *ErrorInfo) FaultCode() int {
	if e.Code == 0 {
		return DefaultFaultCode
	}
	return e.Code
}

// Message carries the data for one hop between nodes.
type Message struct {
	ID      string         // Unique per message, assigned on creation
	Method  string         // XML-RPC method name
	Params  []any          // Parameters of an inbound request
	Payload any            // Call argument(s) on input, result on output
	Error   *ErrorInfo     // Error to answer an inbound request with
	Reply   *reply.Token   // Correlation token of an inbound request, nil otherwise
	Fields  map[string]any // Any other properties, preserved across a call
}

// New returns a message with a fresh ID and the given payload.
func New(payload any) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Payload: payload,
	}
}

// Clone returns a copy of m that can be modified without affecting m. Params and
// Fields are copied one level deep; the Reply token is shared, it is the same
// pending request.
func (m *Message) Clone() *Message {
	c := *m
	if m.Params != nil {
		c.Params = append(make([]any, 0, len(m.Params)), m.Params...)
	}
	if m.Fields != nil {
		c.Fields = make(map[string]any, len(m.Fields))
		for k, v := range m.Fields {
			c.Fields[k] = v
		}
	}
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	return &c
}

// Get returns a value from Fields.
func (m *Message) Get(key string) (any, bool) {
	v, ok := m.Fields[key]
	return v, ok
}

// Set stores a value in Fields.
func (m *Message) Set(key string, value any) {
	if m.Fields == nil {
		m.Fields = make(map[string]any)
	}
	m.Fields[key] = value
}

// Err returns the message error as an error value, or nil.
// It never returns a typed nil.
func (m *Message) Err() error {
	if m.Error == nil {
		return nil
	}
	return m.Error
}

// Params converts a payload into a parameter list: a sequence is used as-is
// (element-wise for typed slices and arrays), anything else becomes the single
// parameter. Byte slices are one base64 value, not a sequence. A nil payload
// yields no parameters.
func Params(payload any) []any {
	switch p := payload.(type) {
	case nil:
		return []any{}
	case []any:
		return p
	case []byte:
		return []any{p}
	}
	v := reflect.ValueOf(payload)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return []any{payload}
	}
	params := make([]any, v.Len())
	for i := range params {
		params[i] = v.Index(i).Interface()
	}
	return params
}

func (m *Message) String() string {
	return fmt.Sprintf("message %s (method %q)", m.ID, m.Method)
}
