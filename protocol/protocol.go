// Package protocol implements the HTTP framing of XML-RPC documents.
//
// XML-RPC rides on plain HTTP: every call is one POST whose body is a
// <methodCall>, every answer is a 200 response whose body is a <methodResponse>
// (faults included). The request body is bounded so a misbehaving client cannot
// make the server buffer an arbitrary amount of data.
//
//	POST {path} HTTP/1.1              HTTP/1.1 200 OK
//	Content-Type: text/xml            Content-Type: text/xml
//	Content-Length: N                 Content-Length: M
//
//	<methodCall>...                   <methodResponse>...
package protocol

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

const (
	ContentType       = "text/xml"
	DefaultPath       = "/"
	MaxBodySize int64 = 4 << 20 // 4 MiB
)

const (
	// ErrBodyTooLarge is returned when a request body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.ConstError("request body too large")

	// ErrEmptyBody is returned when a request has no body at all.
	ErrEmptyBody = errors.ConstError("empty request body")
)

// NormalizePath returns p as an absolute URL path, defaulting to DefaultPath.
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return DefaultPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// Decode reads the XML-RPC document carried by r.
// It reads at most MaxBodySize bytes; anything larger is rejected rather than
// truncated, since a truncated document can never decode.
func Decode(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, ErrEmptyBody
	}
	if r.ContentLength > MaxBodySize {
		return nil, errors.Annotatef(ErrBodyTooLarge, "%d bytes", r.ContentLength)
	}

	// Read one byte past the limit to tell "exactly at limit" from "over".
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
	if err != nil {
		return nil, errors.Annotate(err, "reading request body")
	}
	if int64(len(body)) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	return body, nil
}

// Encode writes body as a complete XML-RPC HTTP response.
func Encode(w http.ResponseWriter, body []byte) error {
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		return errors.Annotate(err, "writing response body")
	}
	return nil
}

// StatusCode maps a Decode error to the HTTP status to reject the request with.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrEmptyBody):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
