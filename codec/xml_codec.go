package codec

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrMalformed means the document is not a usable XML-RPC document.
	ErrMalformed = errors.ConstError("malformed XML-RPC document")

	// ErrInvalidParams means the method name was read but a parameter was not.
	ErrInvalidParams = errors.ConstError("invalid XML-RPC parameters")
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

type xmlMethodCall struct {
	XMLName xml.Name   `xml:"methodCall"`
	Method  string     `xml:"methodName"`
	Params  []xmlParam `xml:"params>param"`
}

type xmlMethodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlParam `xml:"params>param"`
	Fault   *xmlParam  `xml:"fault"`
}

// XMLCodec speaks the XML-RPC wire format. Encode and Decode work on *Call and
// *Response only.
type XMLCodec struct{}

func (c *XMLCodec) Encode(v any) ([]byte, error) {
	switch msg := v.(type) {
	case *Call:
		return encodeCall(msg)
	case *Response:
		return encodeResponse(msg)
	}
	return nil, errors.Annotatef(ErrUnsupportedTarget, "XMLCodec: cannot encode %T", v)
}

// Decode parses data into a *Call or *Response. When a call's method name was
// read but its parameters were not, the method name is still set on the Call
// and the returned error satisfies errors.Is(err, ErrInvalidParams).
func (c *XMLCodec) Decode(data []byte, v any) error {
	switch msg := v.(type) {
	case *Call:
		return decodeCall(data, msg)
	case *Response:
		return decodeResponse(data, msg)
	}
	return errors.Annotatef(ErrUnsupportedTarget, "XMLCodec: cannot decode into %T", v)
}

func (c *XMLCodec) Type() CodecType {
	return CodecTypeXML
}

func encodeCall(call *Call) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&buf, []byte(call.Method)); err != nil {
		return nil, errors.Trace(err)
	}
	buf.WriteString("</methodName><params>")
	for i, p := range call.Params {
		buf.WriteString("<param>")
		if err := encodeValue(&buf, p); err != nil {
			return nil, errors.Annotatef(err, "param %d", i)
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

func encodeResponse(resp *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodResponse>")
	if resp.Fault != nil {
		buf.WriteString("<fault>")
		err := encodeValue(&buf, map[string]any{
			"faultCode":   resp.Fault.Code,
			"faultString": resp.Fault.String,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		buf.WriteString("</fault>")
	} else {
		buf.WriteString("<params><param>")
		if err := encodeValue(&buf, resp.Value); err != nil {
			return nil, errors.Annotate(err, "response value")
		}
		buf.WriteString("</param></params>")
	}
	buf.WriteString("</methodResponse>")
	return buf.Bytes(), nil
}

func decodeCall(data []byte, call *Call) error {
	var doc xmlMethodCall
	if err := xml.Unmarshal(data, &doc); err != nil {
		return errors.Annotatef(ErrMalformed, "%v", err)
	}
	call.Method = strings.TrimSpace(doc.Method)
	if call.Method == "" {
		return errors.Annotate(ErrMalformed, "missing methodName")
	}
	call.Params = make([]any, len(doc.Params))
	for i := range doc.Params {
		v, err := doc.Params[i].Value.decode()
		if err != nil {
			call.Params = nil
			return errors.Annotatef(ErrInvalidParams, "param %d: %v", i, err)
		}
		call.Params[i] = v
	}
	return nil
}

func decodeResponse(data []byte, resp *Response) error {
	var doc xmlMethodResponse
	if err := xml.Unmarshal(data, &doc); err != nil {
		return errors.Annotatef(ErrMalformed, "%v", err)
	}
	if doc.Fault != nil {
		v, err := doc.Fault.Value.decode()
		if err != nil {
			return errors.Annotatef(ErrMalformed, "fault: %v", err)
		}
		members, _ := v.(map[string]any)
		fault := &Fault{}
		if code, ok := members["faultCode"].(int64); ok {
			fault.Code = int(code)
		}
		fault.String, _ = members["faultString"].(string)
		resp.Fault = fault
		resp.Value = nil
		return nil
	}
	if len(doc.Params) == 0 {
		resp.Value = nil
		return nil
	}
	v, err := doc.Params[0].Value.decode()
	if err != nil {
		return errors.Annotatef(ErrMalformed, "response value: %v", err)
	}
	resp.Value = v
	return nil
}
