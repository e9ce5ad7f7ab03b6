// Package codec encodes and decodes XML-RPC documents.
//
// XMLCodec handles the two documents a server and a client exchange:
//
//	<methodCall>      ⇄ *Call      {Method, Params}
//	<methodResponse>  ⇄ *Response  {Value} or {Fault}
//
// Values map to Go as follows when decoding (encoding accepts the obvious
// inverses plus structs, typed slices and maps with string keys):
//
//	int, i4, i8        int64
//	double             float64
//	boolean            bool
//	string, untyped    string
//	dateTime.iso8601   time.Time
//	base64             []byte
//	array              []any
//	struct             map[string]any
//	nil                nil
package codec

import "github.com/juju/errors"

type CodecType byte

const (
	CodecTypeXML  CodecType = 0
	CodecTypeJSON CodecType = 1
)

// ErrUnsupportedTarget is returned when a codec is handed a value it cannot work on.
const ErrUnsupportedTarget = errors.ConstError("unsupported codec target")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=XML, 1=JSON
}

// Call is an XML-RPC method call.
type Call struct {
	Method string
	Params []any
}

// Response is an XML-RPC method response. Exactly one of Value or Fault is meaningful.
type Response struct {
	Value any
	Fault *Fault
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &XMLCodec{}
}
