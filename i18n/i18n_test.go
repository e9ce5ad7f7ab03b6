package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestTranslate(t *testing.T) {
	en := New("en")
	assert.Equal(t, "missing client config", en.T(MissingClient))
	assert.Equal(t, "`add` method invoked, but not found", en.T(MethodNotFound, "add"))
	assert.Equal(t, "The method `ping` is already registered.", en.T(AlreadyRegistered, "ping"))
	assert.Equal(t, "Missing xmlrpc callback", en.T(MissingCallback))

	de := New("de-CH")
	assert.Equal(t, language.German, de.Language())
	assert.Equal(t, "Die Methode `ping` ist bereits registriert.", de.T(AlreadyRegistered, "ping"))
}

func TestFallback(t *testing.T) {
	assert.Equal(t, BaseLocale, New("ja").Language())
	assert.Equal(t, BaseLocale, New("").Language())
	assert.Equal(t, "missing server config", New("ja").T(MissingServer))
	assert.Equal(t, "plain text", New("en").T("plain text"))
}

func TestEveryMessageHasEnglish(t *testing.T) {
	en := New("en")
	for _, id := range []string{
		MissingClient, MissingServer, MethodNotFound, AlreadyRegistered,
		MissingMethod, MissingCallback, ResponseAlreadySent,
	} {
		assert.NotEqual(t, id, en.T(id, "x"), id)
	}
}

func TestLoadRequiresBase(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/de.yaml": {Data: []byte("locale: de\nmessages:\n  a: b\n")},
	}
	_, err := Load(fsys)
	assert.True(t, errors.IsNotFound(err), "got %v", err)

	fsys["locales/en.yaml"] = &fstest.MapFile{Data: []byte("locale: en\nmessages:\n  a: c\n")}
	b, err := Load(fsys)
	require.NoError(t, err)
	assert.Equal(t, []language.Tag{language.English, language.German}, b.Languages())
}
