package server

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/juju/errors"

	"xmlrpc-bridge/codec"
)

// builtin is a method served by the server itself rather than by a flow.
type builtin struct {
	name   string
	rcvr   reflect.Value
	method reflect.Method
	help   string
}

var (
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	paramsType = reflect.TypeOf([]any(nil))
	anyType    = reflect.TypeOf((*any)(nil)).Elem()
)

// helper is implemented by receivers that document their methods.
type helper interface {
	Help(method string) string
}

// registerBuiltins scans rcvr for exported methods of the form
//
//	func (T) Name(params []any) (any, error)
//
// and serves each as "{prefix}.{name}" with the first letter lowered, so
// ListMethods becomes system.listMethods.
func (s *Server) registerBuiltins(rcvr any, prefix string) error {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return errors.NotValidf("builtin receiver %s", typ)
	}
	val := reflect.ValueOf(rcvr)
	h, _ := rcvr.(helper)

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 2 || mt.In(1) != paramsType ||
			mt.NumOut() != 2 || mt.Out(0) != anyType || mt.Out(1) != errorType {
			continue
		}
		name := prefix + "." + lowerFirst(method.Name)
		b := &builtin{name: name, rcvr: val, method: method}
		if h != nil {
			b.help = h.Help(name)
		}
		s.builtins[name] = b
	}
	return nil
}

func (b *builtin) call(params []any) (any, error) {
	if params == nil {
		params = []any{}
	}
	results := b.method.Func.Call([]reflect.Value{b.rcvr, reflect.ValueOf(params)})
	if !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}

// systemService implements the XML-RPC introspection methods.
type systemService struct {
	srv *Server
}

func (s *systemService) ListMethods(params []any) (any, error) {
	return s.srv.Methods(), nil
}

func (s *systemService) MethodHelp(params []any) (any, error) {
	if len(params) != 1 {
		return nil, &codec.Fault{Code: codec.FaultInvalidParams, String: "expected one method name"}
	}
	name, ok := params[0].(string)
	if !ok {
		return nil, &codec.Fault{Code: codec.FaultInvalidParams, String: fmt.Sprintf("method name must be a string, got %T", params[0])}
	}

	s.srv.mu.Lock()
	_, listened := s.srv.handlers[name]
	bi := s.srv.builtins[name]
	s.srv.mu.Unlock()

	switch {
	case bi != nil:
		return bi.help, nil
	case listened:
		return fmt.Sprintf("Answered by the flow listening on %s.", name), nil
	}
	return nil, &codec.Fault{Code: codec.FaultMethodNotFound, String: fmt.Sprintf("method %q not found", name)}
}

func (s *systemService) Help(method string) string {
	switch {
	case strings.HasSuffix(method, ".listMethods"):
		return "Returns the names of every method the server answers."
	case strings.HasSuffix(method, ".methodHelp"):
		return "Returns a description of the named method."
	}
	return ""
}
