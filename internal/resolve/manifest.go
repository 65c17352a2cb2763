package resolve

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Object is a JSON object that remembers key order. Conditional exports are
// matched in the order the package author wrote them.
type Object struct {
	Keys   []string
	Values map[string]any
}

func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.Values[key]
	return v, ok
}

// Manifest is the subset of package.json the resolver reads.
type Manifest struct {
	Name    string
	Main    string
	Type    string
	Exports any
	Imports any
	Browser any

	HasExports bool
	HasImports bool
}

type rawManifest struct {
	Name    any             `json:"name"`
	Main    any             `json:"main"`
	Type    any             `json:"type"`
	Exports json.RawMessage `json:"exports"`
	Imports json.RawMessage `json:"imports"`
	Browser json.RawMessage `json:"browser"`
}

// ParseManifest decodes package.json content. Fields of an unexpected type
// are ignored rather than rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse package.json: %w", err)
	}

	m := &Manifest{}
	m.Name, _ = raw.Name.(string)
	m.Main, _ = raw.Main.(string)
	m.Type, _ = raw.Type.(string)

	var err error
	if m.Exports, m.HasExports, err = decodeOptional(raw.Exports); err != nil {
		return nil, fmt.Errorf("parse package.json exports: %w", err)
	}
	if m.Imports, m.HasImports, err = decodeOptional(raw.Imports); err != nil {
		return nil, fmt.Errorf("parse package.json imports: %w", err)
	}
	if m.Browser, _, err = decodeOptional(raw.Browser); err != nil {
		return nil, fmt.Errorf("parse package.json browser: %w", err)
	}
	return m, nil
}

// decodeOptional reports a null field the same as a missing one.
func decodeOptional(raw json.RawMessage) (any, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	v, err := decodeOrdered(trimmed)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected trailing data")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch typed := tok.(type) {
	case json.Delim:
		switch typed {
		case '{':
			obj := &Object{Values: map[string]any{}}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if _, seen := obj.Values[key]; !seen {
					obj.Keys = append(obj.Keys, key)
				}
				obj.Values[key] = value
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			items := []any{}
			for dec.More() {
				value, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return items, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", typed)
		}
	default:
		return tok, nil
	}
}
