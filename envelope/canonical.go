package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"xdao.co/lighthouse/errs"
)

// FieldSignatures is the only field excluded from the canonical signed content.
const FieldSignatures = "signatures"

// Object is a decoded envelope. Numbers are held as json.Number so their
// literal text survives canonicalization unchanged.
type Object map[string]any

// Decode parses raw as a single JSON object.
//
// Errors are MalformedPayload: invalid JSON or UTF-8 framing (LH-ENV-001),
// trailing data after the object (LH-ENV-002), a top-level value that is
// not an object (LH-ENV-003), or an object at any depth that repeats a member
// name (LH-ENV-004).
func Decode(raw []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, errs.Wrap(errs.KindMalformedPayload, "LH-ENV-001", "invalid JSON", err)
	}
	if err := ensureEOF(dec); err != nil {
		return nil, err
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, errs.New(errs.KindMalformedPayload, "LH-ENV-003", fmt.Sprintf("envelope must be a JSON object, got %s", jsonType(value)))
	}
	// The decoder keeps the last of repeated members, so the signed content
	// would not cover the earlier copies still present in raw.
	if err := rejectDuplicateMembers(raw); err != nil {
		return nil, err
	}
	return Object(obj), nil
}

// Canonical returns the canonical signed content of a raw envelope.
func Canonical(raw []byte) ([]byte, error) {
	obj, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return CanonicalObject(obj)
}

// CanonicalObject serializes obj without its signatures field: object keys
// sorted by byte order, no insignificant whitespace, non-ASCII and HTML
// characters written as-is, numbers as their literal text.
func CanonicalObject(obj Object) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := writeObject(buf, obj, FieldSignatures); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ensureEOF(dec *json.Decoder) error {
	var extra any
	if err := dec.Decode(&extra); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errs.Wrap(errs.KindMalformedPayload, "LH-ENV-002", "invalid JSON after envelope", err)
	}
	return errs.New(errs.KindMalformedPayload, "LH-ENV-002", "trailing data after envelope")
}

func rejectDuplicateMembers(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return walkMembers(dec)
}

func walkMembers(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return errs.Wrap(errs.KindMalformedPayload, "LH-ENV-001", "invalid JSON", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		seen := map[string]struct{}{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return errs.Wrap(errs.KindMalformedPayload, "LH-ENV-001", "invalid JSON", err)
			}
			name, _ := tok.(string)
			if _, dup := seen[name]; dup {
				return errs.New(errs.KindMalformedPayload, "LH-ENV-004", "duplicate member "+strconv.Quote(name))
			}
			seen[name] = struct{}{}
			if err := walkMembers(dec); err != nil {
				return err
			}
		}
	case '[':
		for dec.More() {
			if err := walkMembers(dec); err != nil {
				return err
			}
		}
	}
	// closing delimiter
	if _, err := dec.Token(); err != nil {
		return errs.Wrap(errs.KindMalformedPayload, "LH-ENV-001", "invalid JSON", err)
	}
	return nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case map[string]any:
		return writeObject(buf, v, "")
	case Object:
		return writeObject(buf, v, "")
	case []any:
		return writeArray(buf, v)
	default:
		return errs.New(errs.KindInternal, "LH-ENV-900", fmt.Sprintf("unsupported JSON type %T", value))
	}
	return nil
}

// writeObject writes obj with sorted keys, leaving out skip when it is set.
func writeObject(buf *bytes.Buffer, obj map[string]any, skip string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if skip != "" && k == skip {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
