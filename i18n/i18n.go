// Package i18n localizes the messages nodes show to flow authors.
//
// Catalogs are embedded YAML files, one per locale, keyed by message id.
// English is the base locale: every id must exist there, and lookups for
// unsupported languages fall back to it.
package i18n

import (
	"embed"
	"io/fs"
	"sort"

	"github.com/juju/errors"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// Message ids.
const (
	MissingClient       = "xmlrpc.client.missing"
	MissingServer       = "xmlrpc.server.missing"
	MethodNotFound      = "xmlrpc.server.not-found"
	AlreadyRegistered   = "xmlrpc.listen.duplicate"
	MissingMethod       = "xmlrpc.call.missing-method"
	MissingCallback     = "xmlrpc.response.missing-callback"
	ResponseAlreadySent = "xmlrpc.response.already-sent"
)

// BaseLocale is the fallback language.
var BaseLocale = language.English

//go:embed locales/*.yaml
var localeFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Bundle holds the loaded catalogs.
type Bundle struct {
	catalog *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
}

var defaultBundle = mustLoadEmbedded()

func mustLoadEmbedded() *Bundle {
	b, err := Load(localeFS)
	if err != nil {
		panic(err)
	}
	return b
}

// Default returns the embedded catalogs.
func Default() *Bundle {
	return defaultBundle
}

// Load reads every locales/*.yaml file in fsys.
func Load(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*.yaml")
	if err != nil {
		return nil, errors.Annotate(err, "glob locale catalogs")
	}
	sort.Strings(paths)

	builder := catalog.NewBuilder(catalog.Fallback(BaseLocale))
	var tags []language.Tag
	haveBase := false
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, errors.Annotatef(err, "read catalog %s", path)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, errors.Annotatef(err, "parse catalog %s", path)
		}
		tag, err := language.Parse(file.Locale)
		if err != nil {
			return nil, errors.Annotatef(err, "catalog %s locale", path)
		}
		for key, msg := range file.Messages {
			if err := builder.SetString(tag, key, msg); err != nil {
				return nil, errors.Annotatef(err, "catalog %s key %q", path, key)
			}
		}
		if tag == BaseLocale {
			haveBase = true
			tags = append([]language.Tag{tag}, tags...)
		} else {
			tags = append(tags, tag)
		}
	}
	if !haveBase {
		return nil, errors.NotFoundf("base locale %s catalog", BaseLocale)
	}
	return &Bundle{
		catalog: builder,
		tags:    tags,
		matcher: language.NewMatcher(tags),
	}, nil
}

// Languages returns the supported languages, base locale first.
func (b *Bundle) Languages() []language.Tag {
	return append([]language.Tag(nil), b.tags...)
}

// Translator formats messages in one language.
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// Translator returns a translator for the best match of lang, which may be
// a BCP 47 tag or an Accept-Language style list.
func (b *Bundle) Translator(lang string) *Translator {
	tag := BaseLocale
	if wanted, _, err := language.ParseAcceptLanguage(lang); err == nil && len(wanted) > 0 {
		_, idx, _ := b.matcher.Match(wanted...)
		tag = b.tags[idx]
	}
	return &Translator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(b.catalog)),
	}
}

// New returns a translator from the embedded catalogs.
func New(lang string) *Translator {
	return Default().Translator(lang)
}

// T formats the message id with args. Unknown ids are formatted as-is.
func (t *Translator) T(id string, args ...any) string {
	return t.printer.Sprintf(id, args...)
}

// Language returns the language messages are printed in.
func (t *Translator) Language() language.Tag {
	return t.tag
}
