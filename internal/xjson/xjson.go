package xjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	stdjson "encoding/json"
	"errors"
	"io"

	gjson "github.com/goccy/go-json"
)

var ErrNotObject = errors.New("json value is not an object")

// Marshal/Unmarshal wrappers keep a single import site for the codec.

func Marshal(v interface{}) ([]byte, error) {
	return gjson.Marshal(v)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gjson.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return gjson.Unmarshal(data, v)
}

func NewDecoder(r io.Reader) *gjson.Decoder {
	return gjson.NewDecoder(r)
}

func NewEncoder(w io.Writer) *gjson.Encoder {
	return gjson.NewEncoder(w)
}

// DecodeObject parses data into a JSON object. Numbers stay float64, matching
// what step executors see from any other source.
func DecodeObject(data []byte) (map[string]interface{}, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := gjson.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotObject
	}
	return out, nil
}

// Hash returns the hex SHA-256 of the canonical encoding of v. Object keys are
// emitted sorted, so equal documents hash equally regardless of key order.
func Hash(parts ...interface{}) (string, error) {
	h := sha256.New()
	for _, part := range parts {
		data, err := gjson.Marshal(part)
		if err != nil {
			return "", err
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RawMessage is kept compatible with encoding/json's RawMessage type.
type RawMessage = stdjson.RawMessage
