package codec

import (
	"fmt"

	"github.com/juju/errors"
)

// Fault codes from the XML-RPC fault code interoperability list.
const (
	FaultParse          = -32700
	FaultInvalidRequest = -32600
	FaultMethodNotFound = -32601
	FaultInvalidParams  = -32602
	FaultInternal       = -32603
	FaultApplication    = -32500
	FaultTransport      = -32300
)

// Fault is an XML-RPC fault response.
type Fault struct {
	Code   int
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s (fault %d)", f.String, f.Code)
}

// FaultCoder is implemented by errors that know their XML-RPC fault code.
type FaultCoder interface {
	FaultCode() int
}

// NewFault converts err into a fault. A *Fault anywhere in the chain is returned
// as-is; an error implementing FaultCoder keeps its code; anything else becomes
// an application error with the error text.
func NewFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	code := FaultApplication
	var coder FaultCoder
	if errors.As(err, &coder) {
		code = coder.FaultCode()
	}
	return &Fault{Code: code, String: err.Error()}
}
