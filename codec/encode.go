package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
)

// DateTimeFormat is the XML-RPC dateTime.iso8601 layout.
const DateTimeFormat = "20060102T15:04:05"

var timeType = reflect.TypeOf(time.Time{})

// encodeValue writes v as a <value> element.
func encodeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString("<value>")
	if err := encodeInner(buf, reflect.ValueOf(v)); err != nil {
		return err
	}
	buf.WriteString("</value>")
	return nil
}

func encodeInner(buf *bytes.Buffer, val reflect.Value) error {
	if !val.IsValid() {
		buf.WriteString("<nil/>")
		return nil
	}
	if val.Type() == timeType {
		buf.WriteString("<dateTime.iso8601>")
		buf.WriteString(val.Interface().(time.Time).Format(DateTimeFormat))
		buf.WriteString("</dateTime.iso8601>")
		return nil
	}

	switch val.Kind() {
	case reflect.Ptr, reflect.Interface:
		if val.IsNil() {
			buf.WriteString("<nil/>")
			return nil
		}
		return encodeInner(buf, val.Elem())
	case reflect.Bool:
		if val.Bool() {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt(buf, val.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := val.Uint()
		if u > math.MaxInt64 {
			return errors.NotSupportedf("integer %d out of range", u)
		}
		writeInt(buf, int64(u))
	case reflect.Float32, reflect.Float64:
		buf.WriteString("<double>")
		buf.WriteString(strconv.FormatFloat(val.Float(), 'f', -1, 64))
		buf.WriteString("</double>")
	case reflect.String:
		buf.WriteString("<string>")
		if err := xml.EscapeText(buf, []byte(val.String())); err != nil {
			return errors.Trace(err)
		}
		buf.WriteString("</string>")
	case reflect.Slice, reflect.Array:
		if val.Type().Elem().Kind() == reflect.Uint8 {
			return encodeBase64(buf, val)
		}
		buf.WriteString("<array><data>")
		for i := 0; i < val.Len(); i++ {
			buf.WriteString("<value>")
			if err := encodeInner(buf, val.Index(i)); err != nil {
				return errors.Annotatef(err, "array index %d", i)
			}
			buf.WriteString("</value>")
		}
		buf.WriteString("</data></array>")
	case reflect.Map:
		return encodeMap(buf, val)
	case reflect.Struct:
		return encodeStruct(buf, val)
	default:
		return errors.NotSupportedf("value of kind %s", val.Kind())
	}
	return nil
}

func writeInt(buf *bytes.Buffer, i int64) {
	// <int> is 32 bits wide; larger values need the i8 extension.
	if i < math.MinInt32 || i > math.MaxInt32 {
		buf.WriteString("<i8>")
		buf.WriteString(strconv.FormatInt(i, 10))
		buf.WriteString("</i8>")
		return
	}
	buf.WriteString("<int>")
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteString("</int>")
}

func encodeBase64(buf *bytes.Buffer, val reflect.Value) error {
	data := make([]byte, val.Len())
	for i := range data {
		data[i] = byte(val.Index(i).Uint())
	}
	buf.WriteString("<base64>")
	buf.WriteString(base64.StdEncoding.EncodeToString(data))
	buf.WriteString("</base64>")
	return nil
}

func encodeMap(buf *bytes.Buffer, val reflect.Value) error {
	if val.Type().Key().Kind() != reflect.String {
		return errors.NotSupportedf("map with %s keys", val.Type().Key().Kind())
	}
	keys := make([]string, 0, val.Len())
	for _, k := range val.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	buf.WriteString("<struct>")
	for _, k := range keys {
		mv := val.MapIndex(reflect.ValueOf(k).Convert(val.Type().Key()))
		if err := writeMember(buf, k, mv); err != nil {
			return err
		}
	}
	buf.WriteString("</struct>")
	return nil
}

// encodeStruct writes exported fields as members. The `xmlrpc` tag renames a
// member, "-" skips the field and ",omitempty" skips zero values.
func encodeStruct(buf *bytes.Buffer, val reflect.Value) error {
	typ := val.Type()
	buf.WriteString("<struct>")
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("xmlrpc"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				omitEmpty = omitEmpty || opt == "omitempty"
			}
		}
		fv := val.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if err := writeMember(buf, name, fv); err != nil {
			return err
		}
	}
	buf.WriteString("</struct>")
	return nil
}

func writeMember(buf *bytes.Buffer, name string, val reflect.Value) error {
	buf.WriteString("<member><name>")
	if err := xml.EscapeText(buf, []byte(name)); err != nil {
		return errors.Trace(err)
	}
	buf.WriteString("</name><value>")
	if err := encodeInner(buf, val); err != nil {
		return errors.Annotatef(err, "member %q", name)
	}
	buf.WriteString("</value></member>")
	return nil
}
