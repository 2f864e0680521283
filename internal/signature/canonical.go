package signature

import (
	"bytes"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonical returns the deterministic encoding of s that Key hashes:
//
//	{"args":["i:1","s:alice"],"query":"SELECT ..."}
//
// Every argument is tagged with its kind so that int 1, float 1 and string
// "1" never collide. Strings are NFC normalized.
func (s Signature) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"args":[`)
	for i, arg := range s.Args {
		if i > 0 {
			buf.WriteByte(',')
		}
		tagged, err := encodeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		str, err := marshalString(tagged)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		buf.Write(str)
	}
	buf.WriteString(`],"query":`)
	q, err := marshalString(s.Query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	buf.Write(q)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// encodeArg renders one bound parameter as "<tag>:<value>".
func encodeArg(v any) (string, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return "", fmt.Errorf("driver value: %w", err)
		}
		v = dv
	}

	switch val := v.(type) {
	case nil:
		return "n:", nil
	case string:
		return "s:" + val, nil
	case []byte:
		return "x:" + hex.EncodeToString(val), nil
	case bool:
		return "b:" + strconv.FormatBool(val), nil
	case int:
		return "i:" + strconv.FormatInt(int64(val), 10), nil
	case int8:
		return "i:" + strconv.FormatInt(int64(val), 10), nil
	case int16:
		return "i:" + strconv.FormatInt(int64(val), 10), nil
	case int32:
		return "i:" + strconv.FormatInt(int64(val), 10), nil
	case int64:
		return "i:" + strconv.FormatInt(val, 10), nil
	case uint:
		return "i:" + strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return "i:" + strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return "i:" + strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return "i:" + strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return "i:" + strconv.FormatUint(val, 10), nil
	case float32:
		return "f:" + strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return "f:" + strconv.FormatFloat(val, 'g', -1, 64), nil
	case time.Time:
		return "t:" + val.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}

// marshalString produces a JSON string with NFC normalization and without
// HTML escaping.
func marshalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
