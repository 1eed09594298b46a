// Package jsoncodec is the single JSON entry point for wire payloads. It
// mirrors encoding/json semantics through sonic's standard-compatible config.
package jsoncodec

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// Raw marshals v into a json.RawMessage. A nil value yields a nil message
// so optional payload fields stay omitted.
func Raw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
