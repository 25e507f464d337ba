package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Tensor is an in-memory tensor to be written.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Write stores tensors as a safetensors file using dtype "F32" or "F16".
func Write(path string, dtype string, tensors map[string]Tensor) error {
	width := 0
	switch dtype {
	case "F32":
		width = 4
	case "F16":
		width = 2
	default:
		return fmt.Errorf("unsupported dtype %s", dtype)
	}

	names := make([]string, 0, len(tensors))
	for n := range tensors {
		names = append(names, n)
	}
	sort.Strings(names)

	header := make(map[string]tensorHeader, len(names))
	var off int64
	for _, n := range names {
		t := tensors[n]
		cnt, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", n, err)
		}
		if cnt != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v wants %d values, got %d", n, t.Shape, cnt, len(t.Data))
		}
		size := int64(cnt * width)
		header[n] = tensorHeader{DType: dtype, Shape: t.Shape, DataOffsets: []int64{off, off + size}}
		off += size
	}
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// pad the header to 8 bytes as other writers do
	for len(hb)%8 != 0 {
		hb = append(hb, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hb)))
	_, _ = w.Write(lenBuf[:])
	_, _ = w.Write(hb)
	buf := make([]byte, 4)
	for _, n := range names {
		for _, v := range tensors[n].Data {
			if width == 4 {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			} else {
				binary.LittleEndian.PutUint16(buf, float16.Fromfloat32(v).Bits())
			}
			if _, err := w.Write(buf[:width]); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
