package closure

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/atelier-ml/atelier-go/vm"
)

// Blob layout: 4 magic bytes, 1 version byte, then canonical CBOR of the
// node list.
var blobMagic = []byte{'A', 'T', 'C', 'G'}

// BlobVersion is the current closure blob format version.
const BlobVersion byte = 1

// cborEncMode uses canonical mode so identical graphs produce identical
// blobs.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("closure: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireValue is the tagged representation of a data value inside the blob:
// literal globals, constant pools, defaults and captured values. Exactly
// one payload field is meaningful per kind.
type wireValue struct {
	Kind  string      `cbor:"k"`
	Bool  bool        `cbor:"b,omitempty"`
	Int   int64       `cbor:"i,omitempty"`
	Real  float64     `cbor:"f,omitempty"`
	Imag  float64     `cbor:"g,omitempty"`
	Text  string      `cbor:"s,omitempty"`
	Bytes []byte      `cbor:"y,omitempty"`
	Items []wireValue `cbor:"v,omitempty"`
	Pairs []wirePair  `cbor:"p,omitempty"`
	Shape []int64     `cbor:"d,omitempty"`
}

type wirePair struct {
	Key   wireValue `cbor:"k"`
	Value wireValue `cbor:"v"`
}

// encodeWire converts a data value to its blob representation. Runtime-only
// kinds (functions, classes, modules, instances) are rejected: those travel
// as graph nodes, never as literals. seen guards against self-referential
// containers, which cannot be represented.
func encodeWire(v vm.Value, seen map[any]bool) (wireValue, error) {
	switch x := v.(type) {
	case nil:
		return wireValue{Kind: "null"}, nil
	case bool:
		return wireValue{Kind: "bool", Bool: x}, nil
	case int64:
		return wireValue{Kind: "int", Int: x}, nil
	case *big.Int:
		return wireValue{Kind: "long", Text: x.String()}, nil
	case float64:
		return wireValue{Kind: "float", Real: x}, nil
	case complex128:
		return wireValue{Kind: "complex", Real: real(x), Imag: imag(x)}, nil
	case string:
		return wireValue{Kind: "str", Text: x}, nil
	case []byte:
		return wireValue{Kind: "bytes", Bytes: x}, nil
	case vm.List:
		return encodeWireSlice("list", x, seen)
	case vm.Tuple:
		return encodeWireSlice("tuple", x, seen)
	case *vm.Dict:
		if seen[x] {
			return wireValue{}, fmt.Errorf("self-referential dict")
		}
		seen[x] = true
		defer delete(seen, x)
		w := wireValue{Kind: "dict"}
		for _, p := range x.Items() {
			k, err := encodeWire(p.Key, seen)
			if err != nil {
				return wireValue{}, err
			}
			val, err := encodeWire(p.Value, seen)
			if err != nil {
				return wireValue{}, err
			}
			w.Pairs = append(w.Pairs, wirePair{Key: k, Value: val})
		}
		return w, nil
	case *vm.NDArray:
		return wireValue{Kind: "ndarray", Shape: x.Shape, Text: x.DType, Bytes: x.Data}, nil
	default:
		return wireValue{}, fmt.Errorf("%s values cannot be embedded", vm.TypeName(v))
	}
}

func encodeWireSlice(kind string, items []vm.Value, seen map[any]bool) (wireValue, error) {
	if len(items) > 0 {
		key := &items[0]
		if seen[key] {
			return wireValue{}, fmt.Errorf("self-referential %s", kind)
		}
		seen[key] = true
		defer delete(seen, key)
	}
	w := wireValue{Kind: kind}
	for _, item := range items {
		enc, err := encodeWire(item, seen)
		if err != nil {
			return wireValue{}, err
		}
		w.Items = append(w.Items, enc)
	}
	return w, nil
}

// decodeWire is the exact inverse of encodeWire.
func decodeWire(w wireValue) (vm.Value, error) {
	switch w.Kind {
	case "null":
		return nil, nil
	case "bool":
		return w.Bool, nil
	case "int":
		return w.Int, nil
	case "long":
		n, ok := new(big.Int).SetString(w.Text, 10)
		if !ok {
			return nil, fmt.Errorf("closure: malformed long literal %q", w.Text)
		}
		return n, nil
	case "float":
		return w.Real, nil
	case "complex":
		return complex(w.Real, w.Imag), nil
	case "str":
		return w.Text, nil
	case "bytes":
		return w.Bytes, nil
	case "list":
		items, err := decodeWireSlice(w.Items)
		if err != nil {
			return nil, err
		}
		return vm.List(items), nil
	case "tuple":
		items, err := decodeWireSlice(w.Items)
		if err != nil {
			return nil, err
		}
		return vm.Tuple(items), nil
	case "dict":
		d := vm.NewDict()
		for _, p := range w.Pairs {
			k, err := decodeWire(p.Key)
			if err != nil {
				return nil, err
			}
			v, err := decodeWire(p.Value)
			if err != nil {
				return nil, err
			}
			d.Set(k, v)
		}
		return d, nil
	case "ndarray":
		return &vm.NDArray{Shape: w.Shape, DType: w.Text, Data: w.Bytes}, nil
	default:
		return nil, fmt.Errorf("closure: unknown literal kind %q", w.Kind)
	}
}

func decodeWireSlice(ws []wireValue) ([]vm.Value, error) {
	items := make([]vm.Value, len(ws))
	for i, w := range ws {
		v, err := decodeWire(w)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return items, nil
}

// wireChunk is the blob representation of vm.Chunk; the constant pool and
// defaults go through the tagged literal encoding so value kinds survive
// the round trip.
type wireChunk struct {
	Version      uint16      `cbor:"v"`
	Code         []byte      `cbor:"c"`
	Consts       []wireValue `cbor:"k,omitempty"`
	Params       []string    `cbor:"p,omitempty"`
	Defaults     []wireValue `cbor:"d,omitempty"`
	NumLocals    uint8       `cbor:"l,omitempty"`
	CaptureNames []string    `cbor:"n,omitempty"`
}

func encodeChunk(c *vm.Chunk) (*wireChunk, error) {
	w := &wireChunk{
		Version:      c.Version,
		Code:         c.Code,
		Params:       c.Params,
		NumLocals:    c.NumLocals,
		CaptureNames: c.CaptureNames,
	}
	for i, v := range c.Consts {
		enc, err := encodeWire(v, map[any]bool{})
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		w.Consts = append(w.Consts, enc)
	}
	for i, v := range c.Defaults {
		enc, err := encodeWire(v, map[any]bool{})
		if err != nil {
			return nil, fmt.Errorf("default %d: %w", i, err)
		}
		w.Defaults = append(w.Defaults, enc)
	}
	return w, nil
}

func decodeChunk(w *wireChunk) (*vm.Chunk, error) {
	c := &vm.Chunk{
		Version:      w.Version,
		Code:         w.Code,
		Params:       w.Params,
		NumLocals:    w.NumLocals,
		CaptureNames: w.CaptureNames,
	}
	for _, enc := range w.Consts {
		v, err := decodeWire(enc)
		if err != nil {
			return nil, err
		}
		c.Consts = append(c.Consts, v)
	}
	for _, enc := range w.Defaults {
		v, err := decodeWire(enc)
		if err != nil {
			return nil, err
		}
		c.Defaults = append(c.Defaults, v)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// marshalGraph frames the node list as a blob.
func marshalGraph(nodes []Node) ([]byte, error) {
	payload, err := cborEncMode.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("closure: marshal graph: %w", err)
	}
	blob := make([]byte, 0, len(blobMagic)+1+len(payload))
	blob = append(blob, blobMagic...)
	blob = append(blob, BlobVersion)
	return append(blob, payload...), nil
}

// unmarshalGraph checks the frame and decodes the node list.
func unmarshalGraph(blob []byte) ([]Node, error) {
	if len(blob) < len(blobMagic)+1 {
		return nil, reconstructErr("blob too short (%d bytes)", len(blob))
	}
	if string(blob[:4]) != string(blobMagic) {
		return nil, reconstructErr("bad magic %q", blob[:4])
	}
	if blob[4] > BlobVersion {
		return nil, reconstructErr("blob version %d is newer than supported version %d", blob[4], BlobVersion)
	}
	var nodes []Node
	if err := cbor.Unmarshal(blob[5:], &nodes); err != nil {
		return nil, &ReconstructionError{Reason: "unmarshal graph", Err: err}
	}
	return nodes, nil
}
