// Package codec converts typed values to and from their sqlite storage
// representation.
//
// Strings and dicts are stored base64-encoded (dicts as base64 of their JSON
// form), numbers as decimal strings, byte blobs raw. Decoding never fails
// loudly: anything that does not decode against its declared type collapses
// to nil, so corrupt rows read as absent.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/vfxpipe/bookmarkdb/internal/schema"
)

// Codec encodes and decodes column values. String and dict results are
// memoized: production data repeats the same descriptions and config blobs
// across thousands of rows.
type Codec struct {
	log *slog.Logger

	encMemo sync.Map // plain string -> base64 string
	decMemo sync.Map // stored string -> decoded string
	dictDec sync.Map // stored string -> map[string]any
}

// New returns a Codec logging through the given logger. A nil logger falls
// back to slog.Default().
func New(log *slog.Logger) *Codec {
	if log == nil {
		log = slog.Default()
	}
	return &Codec{log: log}
}

// Encode converts a runtime value into its storage form. The value must
// already have been validated against the column type.
func (c *Codec) Encode(v any, t schema.ValueType) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case schema.String:
		return c.encodeString(v.(string)), nil
	case schema.Dict:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("could not encode dict: %w", err)
		}
		return c.encodeString(string(raw)), nil
	case schema.Int:
		return strconv.FormatInt(toInt64(v), 10), nil
	case schema.Float:
		return strconv.FormatFloat(toFloat64(v), 'g', -1, 64), nil
	case schema.Bytes:
		// Blobs are natively supported, stored as-is.
		return v.([]byte), nil
	}
	return nil, fmt.Errorf("unhandled value type %s", t)
}

// Decode converts a stored value back into its runtime form. A nil result
// means absent, corrupt or type-mismatched; the three are not distinguished
// beyond a debug log line.
func (c *Codec) Decode(stored any, t schema.ValueType) any {
	if stored == nil {
		return nil
	}

	switch t {
	case schema.String:
		return c.decodeString(stored)
	case schema.Dict:
		return c.decodeDict(stored)
	case schema.Int:
		switch v := stored.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				c.log.Debug("stored value is not an integer", "value", v, "error", err)
				return nil
			}
			return n
		case []byte:
			return c.Decode(string(v), t)
		}
	case schema.Float:
		switch v := stored.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.log.Debug("stored value is not a float", "value", v, "error", err)
				return nil
			}
			return f
		case []byte:
			return c.Decode(string(v), t)
		}
	case schema.Bytes:
		if b, ok := stored.([]byte); ok {
			return b
		}
	}
	c.log.Debug("stored value has unexpected representation",
		"type", t.String(), "stored", fmt.Sprintf("%T", stored))
	return nil
}

func (c *Codec) encodeString(v string) string {
	if enc, ok := c.encMemo.Load(v); ok {
		return enc.(string)
	}
	enc := base64.StdEncoding.EncodeToString([]byte(v))
	c.encMemo.Store(v, enc)
	return enc
}

func (c *Codec) decodeString(stored any) any {
	s, ok := asString(stored)
	if !ok {
		c.log.Debug("stored string has unexpected representation", "stored", fmt.Sprintf("%T", stored))
		return nil
	}
	if dec, ok := c.decMemo.Load(s); ok {
		return dec.(string)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		c.log.Debug("stored string is not valid base64", "error", err)
		return nil
	}
	dec := string(raw)
	c.decMemo.Store(s, dec)
	return dec
}

func (c *Codec) decodeDict(stored any) any {
	s, ok := asString(stored)
	if !ok {
		c.log.Debug("stored dict has unexpected representation", "stored", fmt.Sprintf("%T", stored))
		return nil
	}
	if dec, ok := c.dictDec.Load(s); ok {
		return dec.(map[string]any)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		c.log.Debug("stored dict is not valid base64", "error", err)
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		c.log.Debug("stored dict is not valid json", "error", err)
		return nil
	}
	c.dictDec.Store(s, m)
	return m
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
