package closure

import (
	"reflect"
	"testing"

	"github.com/atelier-ml/atelier-go/vm"
)

func TestGlobalReadsOrderAndDedup(t *testing.T) {
	c := vm.NewChunk()
	c.EmitLoadGlobal("b")
	c.EmitLoadGlobal("a")
	c.EmitLoadGlobal("b") // repeat, must not appear twice
	c.EmitStoreGlobal("c") // writes are not reads
	c.Emit(vm.OpReturnNil)

	got, err := GlobalReads(c)
	if err != nil {
		t.Fatalf("GlobalReads error: %v", err)
	}
	want := []string{"b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GlobalReads = %v, want %v", got, want)
	}
}

func TestGlobalReadsSkipsOperandBytes(t *testing.T) {
	// An operand byte equal to OpLoadGlobal's value must not confuse the
	// walk: operands are skipped by instruction length, not scanned.
	c := vm.NewChunk()
	c.EmitU8(vm.OpMakeList, uint8(vm.OpLoadGlobal))
	c.EmitLoadGlobal("real")
	c.Emit(vm.OpReturn)

	got, err := GlobalReads(c)
	if err != nil {
		t.Fatalf("GlobalReads error: %v", err)
	}
	if len(got) != 1 || got[0] != "real" {
		t.Errorf("GlobalReads = %v, want [real]", got)
	}
}

func TestGlobalReadsRejectsBadChunk(t *testing.T) {
	c := vm.NewChunk()
	c.Code = append(c.Code, 0xEE)

	if _, err := GlobalReads(c); err == nil {
		t.Error("GlobalReads accepted an invalid chunk")
	}
}

func TestWireRoundTripValues(t *testing.T) {
	d := vm.NewDict()
	d.Set(int64(2), int64(3))
	d.Set("k", vm.List{int64(1), "x"})

	cases := []vm.Value{
		nil,
		true,
		int64(-7),
		3.5,
		complex(1, 2),
		"text",
		[]byte{0, 1, 2},
		vm.Tuple{int64(1), int64(2)},
		d,
		&vm.NDArray{Shape: []int64{2, 2}, DType: "float64", Data: []byte{1, 2, 3, 4}},
	}
	for _, in := range cases {
		enc, err := encodeWire(in, map[any]bool{})
		if err != nil {
			t.Fatalf("encodeWire(%v) error: %v", in, err)
		}
		out, err := decodeWire(enc)
		if err != nil {
			t.Fatalf("decodeWire(%v) error: %v", in, err)
		}
		if !vm.Equal(in, out) {
			t.Errorf("round trip of %v produced %v", in, out)
		}
	}
}
