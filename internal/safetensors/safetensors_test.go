package safetensors

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func TestWriteThenReadF32(t *testing.T) {
	p := filepath.Join(t.TempDir(), "w.safetensors")
	in := map[string]Tensor{
		"a": {Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
		"b": {Shape: []int{3}, Data: []float32{-1, 0.5, 8}},
	}
	if err := Write(p, "F32", in); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, f.Names()); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	got, info, err := f.ReadTensorF32("b")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(in["b"].Data, got); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3}, info.Shape); diff != "" {
		t.Fatalf("shape (-want +got):\n%s", diff)
	}
}

func TestF16IsWidened(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h.safetensors")
	// values exactly representable in half precision
	want := []float32{0.5, -2, 1024, 0.25}
	if err := Write(p, "F16", map[string]Tensor{"h": {Shape: []int{4}, Data: want}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _, err := f.ReadTensorF32("h")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestBF16IsWidened(t *testing.T) {
	want := []float32{1, -0.5, 3}
	// bf16 keeps the upper half of the float32 bits
	data := make([]byte, 2*len(want))
	for i, v := range want {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(math.Float32bits(v)>>16))
	}
	header, _ := json.Marshal(map[string]any{
		"x": map[string]any{"dtype": "BF16", "shape": []int{3}, "data_offsets": []int{0, len(data)}},
	})
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	p := filepath.Join(t.TempDir(), "bf.safetensors")
	content := append(append(lenBuf[:], header...), data...)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(p)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _, err := f.ReadTensorF32("x")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	p := filepath.Join(t.TempDir(), "short")
	if err := os.WriteFile(p, []byte{1, 2}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(p); err == nil {
		t.Fatalf("expected error for truncated header")
	}
	if err := Write(p, "I8", nil); err == nil {
		t.Fatalf("expected unsupported dtype error")
	}
	if err := Write(p, "F32", map[string]Tensor{"x": {Shape: []int{2}, Data: []float32{1}}}); err == nil {
		t.Fatalf("expected shape mismatch error")
	}
}
