package codec

import (
	"encoding/json"

	"github.com/atelier-ml/atelier-go/vm"
)

// The ndarray kind registers through the same public Register door any
// extension kind would use. Payload is a [shape, dtype, data] triple with
// the raw buffer base64 encoded.

func init() {
	Register(&vm.NDArray{}, "ndarray", encodeNDArray, decodeNDArray)
}

func encodeNDArray(v vm.Value, m *Memo) (any, error) {
	a := v.(*vm.NDArray)
	return []any{a.Shape, a.DType, base64NoBreaks(a.Data)}, nil
}

func decodeNDArray(payload json.RawMessage) (vm.Value, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(payload, &parts); err != nil || len(parts) != 3 {
		return nil, &MalformedPayloadError{Reason: "ndarray payload is not a [shape, dtype, data] triple"}
	}
	var a vm.NDArray
	if err := json.Unmarshal(parts[0], &a.Shape); err != nil {
		return nil, &MalformedPayloadError{Reason: "bad ndarray shape"}
	}
	if err := json.Unmarshal(parts[1], &a.DType); err != nil {
		return nil, &MalformedPayloadError{Reason: "bad ndarray dtype"}
	}
	var data string
	if err := json.Unmarshal(parts[2], &data); err != nil {
		return nil, &MalformedPayloadError{Reason: "bad ndarray data"}
	}
	buf, err := base64Decode(data)
	if err != nil {
		return nil, &MalformedPayloadError{Reason: "bad base64 ndarray data"}
	}
	a.Data = buf
	return &a, nil
}
