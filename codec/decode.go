package codec

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// xmlValue mirrors <value>. An untyped value is a string held in Raw.
type xmlValue struct {
	Raw      string     `xml:",chardata"`
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	I8       *string    `xml:"i8"`
	Boolean  *string    `xml:"boolean"`
	String   *string    `xml:"string"`
	Double   *string    `xml:"double"`
	DateTime *string    `xml:"dateTime.iso8601"`
	Base64   *string    `xml:"base64"`
	Array    *xmlArray  `xml:"array"`
	Struct   *xmlStruct `xml:"struct"`
	Nil      *struct{}  `xml:"nil"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

var dateTimeLayouts = []string{
	DateTimeFormat,
	"2006-01-02T15:04:05",
	"20060102T15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"20060102T150405",
}

// decode converts a parsed <value> into its Go representation.
func (v *xmlValue) decode() (any, error) {
	switch {
	case v.Nil != nil:
		return nil, nil
	case v.Int != nil:
		return parseInt(*v.Int)
	case v.I4 != nil:
		return parseInt(*v.I4)
	case v.I8 != nil:
		return parseInt(*v.I8)
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, errors.NotValidf("boolean %q", *v.Boolean)
	case v.String != nil:
		return *v.String, nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, errors.NotValidf("double %q", *v.Double)
		}
		return f, nil
	case v.DateTime != nil:
		return parseDateTime(*v.DateTime)
	case v.Base64 != nil:
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(*v.Base64), ""))
		if err != nil {
			return nil, errors.NotValidf("base64 value")
		}
		return data, nil
	case v.Array != nil:
		values := make([]any, len(v.Array.Values))
		for i := range v.Array.Values {
			item, err := v.Array.Values[i].decode()
			if err != nil {
				return nil, errors.Annotatef(err, "array index %d", i)
			}
			values[i] = item
		}
		return values, nil
	case v.Struct != nil:
		members := make(map[string]any, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			item, err := m.Value.decode()
			if err != nil {
				return nil, errors.Annotatef(err, "member %q", m.Name)
			}
			members[m.Name] = item
		}
		return members, nil
	}
	return v.Raw, nil
}

func parseInt(s string) (int64, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, errors.NotValidf("integer %q", s)
	}
	return i, nil
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NotValidf("dateTime.iso8601 %q", s)
}
