package protocol

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	body := "<methodCall><methodName>ping</methodName></methodCall>"
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

	data, err := Decode(req)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestDecodeEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

	_, err := Decode(req)
	assert.True(t, errors.Is(err, ErrEmptyBody))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestDecodeTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("x"), int(MaxBodySize)+1)

	// Declared length over the limit is rejected without reading.
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big))
	_, err := Decode(req)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))

	// Unknown length is caught while reading.
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big))
	req.ContentLength = -1
	_, err = Decode(req)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))

	// Exactly at the limit is fine.
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(big[:MaxBodySize]))
	data, err := Decode(req)
	require.NoError(t, err)
	assert.Len(t, data, int(MaxBodySize))
}

func TestEncode(t *testing.T) {
	rec := httptest.NewRecorder()
	body := []byte("<methodResponse/>")

	require.NoError(t, Encode(rec, body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "17", rec.Header().Get("Content-Length"))
	assert.Equal(t, body, rec.Body.Bytes())
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/", NormalizePath(""))
	assert.Equal(t, "/RPC2", NormalizePath("RPC2"))
	assert.Equal(t, "/RPC2", NormalizePath(" /RPC2 "))
}
