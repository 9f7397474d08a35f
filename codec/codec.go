// Package codec encodes invocation arguments and results as tagged JSON
// documents: {"type": <tag>, "value": <payload>}. Unlike the closure blob,
// which only ever travels between trusted SDK code, codec input comes from
// a remote execution endpoint and is treated as untrusted: every tag must
// be registered, unknown tags are hard failures, and containers are
// guarded against circular references.
//
// The registry is process-wide and append-only: kinds are registered at
// startup (package init), after which concurrent Encode/Decode calls are
// safe without locking. Registering new kinds after startup is a caller
// bug.
package codec

import (
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"

	"github.com/atelier-ml/atelier-go/vm"
)

// EncodeFunc produces the payload for a value. Container encoders recurse
// via Memo.Encode so nested values pass through the same dispatch and the
// same cycle guard.
type EncodeFunc func(v vm.Value, m *Memo) (any, error)

// DecodeFunc rebuilds a value from its raw payload.
type DecodeFunc func(payload json.RawMessage) (vm.Value, error)

var (
	encoders = make(map[reflect.Type]taggedEncoder)
	decoders = make(map[string]DecodeFunc)
)

type taggedEncoder struct {
	tag string
	fn  EncodeFunc
}

// Register adds a value kind to the codec: sample carries the runtime type,
// tag is the wire discriminator. The core dispatch never changes; extension
// kinds (ndarray, and any caller-defined kind) go through this same door.
func Register(sample vm.Value, tag string, enc EncodeFunc, dec DecodeFunc) {
	encoders[reflect.TypeOf(sample)] = taggedEncoder{tag: tag, fn: enc}
	decoders[tag] = dec
}

// Memo tracks container identities within one top-level Encode call. A
// container seen a second time within the same call is treated as a
// circular reference; the value cannot be transmitted.
type Memo struct {
	seen map[uintptr]bool
}

// Encode encodes a nested value through the registry, sharing this memo.
func (m *Memo) Encode(v vm.Value) (any, error) {
	return encodeValue(v, m)
}

func (m *Memo) enter(v vm.Value) error {
	id, isContainer := containerID(v)
	if !isContainer {
		return nil
	}
	if m.seen[id] {
		return &CircularRefError{Kind: vm.TypeName(v)}
	}
	m.seen[id] = true
	return nil
}

// containerID returns an identity for container kinds: the data pointer
// for sequences, the struct pointer for dicts. Empty sequences have no
// identity worth tracking; they cannot contain themselves.
func containerID(v vm.Value) (uintptr, bool) {
	switch x := v.(type) {
	case vm.List:
		if len(x) == 0 {
			return 0, false
		}
		return reflect.ValueOf(x).Pointer(), true
	case vm.Tuple:
		if len(x) == 0 {
			return 0, false
		}
		return reflect.ValueOf(x).Pointer(), true
	case *vm.Dict:
		return reflect.ValueOf(x).Pointer(), true
	default:
		return 0, false
	}
}

// document is the wire grammar: every encoded value, at every nesting
// level, is a {"type", "value"} object.
type document struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// Encode serializes a value into a tagged JSON document.
func Encode(v vm.Value) ([]byte, error) {
	doc, err := encodeValue(v, &Memo{seen: make(map[uintptr]bool)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func encodeValue(v vm.Value, m *Memo) (any, error) {
	if err := m.enter(v); err != nil {
		return nil, err
	}

	if v == nil {
		return document{Type: "null", Value: "null"}, nil
	}
	enc, ok := encoders[reflect.TypeOf(v)]
	if !ok {
		return nil, &UnsupportedTypeError{Kind: vm.TypeName(v)}
	}
	payload, err := enc.fn(v, m)
	if err != nil {
		return nil, err
	}
	return document{Type: enc.tag, Value: payload}, nil
}

// Decode parses a tagged JSON document back into a value.
func Decode(data []byte) (vm.Value, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedPayloadError{Reason: err.Error()}
	}
	return decodeInner(raw)
}

type rawDocument struct {
	Type  *string         `json:"type"`
	Value json.RawMessage `json:"value"`
}

func decodeInner(raw rawDocument) (vm.Value, error) {
	if raw.Type == nil || raw.Value == nil {
		return nil, &MalformedPayloadError{Reason: "document is not a {type, value} object"}
	}
	dec, ok := decoders[*raw.Type]
	if !ok {
		return nil, &UnsupportedTypeError{Kind: *raw.Type}
	}
	return dec(raw.Value)
}

// decodeRaw dispatches a nested raw payload; container decoders use it to
// recurse.
func decodeRaw(data json.RawMessage) (vm.Value, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedPayloadError{Reason: err.Error()}
	}
	return decodeInner(raw)
}

func init() {
	Register(false, "bool",
		func(v vm.Value, m *Memo) (any, error) {
			if v.(bool) {
				return "true", nil
			}
			return "false", nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			return s == "true", nil
		})

	Register(int64(0), "int",
		func(v vm.Value, m *Memo) (any, error) {
			return strconv.FormatInt(v.(int64), 10), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, &MalformedPayloadError{Reason: "bad int literal " + strconv.Quote(s)}
			}
			return n, nil
		})

	Register(new(big.Int), "long",
		func(v vm.Value, m *Memo) (any, error) {
			return v.(*big.Int).String(), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			n, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, &MalformedPayloadError{Reason: "bad long literal " + strconv.Quote(s)}
			}
			return n, nil
		})

	Register(float64(0), "float",
		func(v vm.Value, m *Memo) (any, error) {
			return strconv.FormatFloat(v.(float64), 'g', -1, 64), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, &MalformedPayloadError{Reason: "bad float literal " + strconv.Quote(s)}
			}
			return f, nil
		})

	Register(complex128(0), "complex",
		func(v vm.Value, m *Memo) (any, error) {
			return strconv.FormatComplex(v.(complex128), 'g', -1, 128), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			c, err := strconv.ParseComplex(s, 128)
			if err != nil {
				return nil, &MalformedPayloadError{Reason: "bad complex literal " + strconv.Quote(s)}
			}
			return c, nil
		})

	Register("", "unicode",
		func(v vm.Value, m *Memo) (any, error) {
			return v.(string), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			return payloadString(payload)
		})

	Register([]byte(nil), "bytes",
		func(v vm.Value, m *Memo) (any, error) {
			return base64NoBreaks(v.([]byte)), nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			s, err := payloadString(payload)
			if err != nil {
				return nil, err
			}
			data, err := base64Decode(s)
			if err != nil {
				return nil, &MalformedPayloadError{Reason: "bad base64 bytes payload"}
			}
			return data, nil
		})

	// The "null" tag is handled specially on encode (nil has no
	// reflect.Type); only the decoder registers.
	decoders["null"] = func(payload json.RawMessage) (vm.Value, error) {
		return nil, nil
	}

	Register(vm.List(nil), "list",
		func(v vm.Value, m *Memo) (any, error) {
			return encodeSeq(v.(vm.List), m)
		},
		func(payload json.RawMessage) (vm.Value, error) {
			items, err := decodeSeq(payload)
			if err != nil {
				return nil, err
			}
			return vm.List(items), nil
		})

	Register(vm.Tuple(nil), "tuple",
		func(v vm.Value, m *Memo) (any, error) {
			return encodeSeq(v.(vm.Tuple), m)
		},
		func(payload json.RawMessage) (vm.Value, error) {
			items, err := decodeSeq(payload)
			if err != nil {
				return nil, err
			}
			return vm.Tuple(items), nil
		})

	Register(vm.NewDict(), "dict",
		func(v vm.Value, m *Memo) (any, error) {
			d := v.(*vm.Dict)
			pairs := make([]any, 0, d.Len())
			for _, p := range d.Items() {
				k, err := m.Encode(p.Key)
				if err != nil {
					return nil, err
				}
				val, err := m.Encode(p.Value)
				if err != nil {
					return nil, err
				}
				pairs = append(pairs, []any{k, val})
			}
			return pairs, nil
		},
		func(payload json.RawMessage) (vm.Value, error) {
			var pairs [][]json.RawMessage
			if err := json.Unmarshal(payload, &pairs); err != nil {
				return nil, &MalformedPayloadError{Reason: "dict payload is not a pair list"}
			}
			d := vm.NewDict()
			for _, pair := range pairs {
				if len(pair) != 2 {
					return nil, &MalformedPayloadError{Reason: "dict pair does not have 2 elements"}
				}
				k, err := decodeRaw(pair[0])
				if err != nil {
					return nil, err
				}
				v, err := decodeRaw(pair[1])
				if err != nil {
					return nil, err
				}
				d.Set(k, v)
			}
			return d, nil
		})
}

func encodeSeq(items []vm.Value, m *Memo) (any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		enc, err := m.Encode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}

func decodeSeq(payload json.RawMessage) ([]vm.Value, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(payload, &raws); err != nil {
		return nil, &MalformedPayloadError{Reason: "sequence payload is not an array"}
	}
	items := make([]vm.Value, len(raws))
	for i, r := range raws {
		v, err := decodeRaw(r)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

func payloadString(payload json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", &MalformedPayloadError{Reason: "payload is not a string"}
	}
	return s, nil
}
