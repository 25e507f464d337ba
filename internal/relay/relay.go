// Package relay encodes the tensors handed between shards as Arrow IPC
// streams. A frame is one record batch with a single column: int64 token
// ids for token frames, float32 values for hidden states. Shape, kind,
// request id and shard travel in the schema metadata.
package relay

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"shardd/internal/tensor"
	"shardd/pkg/types"
)

// ContentType is the media type of an encoded frame.
const ContentType = "application/vnd.apache.arrow.stream"

const (
	keyKind      = "shardd.kind"
	keyShape     = "shardd.shape"
	keyRequestID = "shardd.request_id"
	keyModelID   = "shardd.shard.model_id"
	keyStart     = "shardd.shard.start"
	keyEnd       = "shardd.shard.end"
	keyNLayers   = "shardd.shard.n_layers"
)

var ErrFrame = errors.New("malformed relay frame")

// Frame is one relayed step payload. Kind is one of the types.Input* or
// types.Output* constants; token kinds use Tokens, the rest use Tensor.
type Frame struct {
	RequestID string
	Shard     types.Shard
	Kind      string
	Tokens    []int
	Tensor    *tensor.Tensor
}

func isTokenKind(kind string) bool {
	return kind == types.InputTokens || kind == types.OutputToken
}

// Encode writes f to w as a single-batch Arrow IPC stream.
func Encode(w io.Writer, f Frame) error {
	mem := memory.DefaultAllocator
	keys := []string{keyKind, keyRequestID, keyModelID, keyStart, keyEnd, keyNLayers}
	vals := []string{
		f.Kind, f.RequestID, f.Shard.ModelID,
		strconv.Itoa(f.Shard.Start), strconv.Itoa(f.Shard.End), strconv.Itoa(f.Shard.NLayers),
	}

	var (
		field arrow.Field
		col   arrow.Array
	)
	if isTokenKind(f.Kind) {
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, id := range f.Tokens {
			b.Append(int64(id))
		}
		field = arrow.Field{Name: "tokens", Type: arrow.PrimitiveTypes.Int64}
		col = b.NewArray()
	} else {
		if f.Tensor == nil {
			return fmt.Errorf("%w: %s frame without tensor", ErrFrame, f.Kind)
		}
		if err := f.Tensor.Validate(); err != nil {
			return err
		}
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.AppendValues(f.Tensor.Data, nil)
		field = arrow.Field{Name: "values", Type: arrow.PrimitiveTypes.Float32}
		col = b.NewArray()
		keys = append(keys, keyShape)
		vals = append(vals, formatShape(f.Tensor.Shape))
	}
	defer col.Release()

	md := arrow.NewMetadata(keys, vals)
	schema := arrow.NewSchema([]arrow.Field{field}, &md)
	rec := array.NewRecord(schema, []arrow.Array{col}, int64(col.Len()))
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return fmt.Errorf("write frame: %w", err)
	}
	return wr.Close()
}

// Decode reads one frame from r.
func Decode(r io.Reader) (Frame, error) {
	rd, err := ipc.NewReader(r, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	defer rd.Release()

	md := rd.Schema().Metadata()
	get := func(key string) string {
		if i := md.FindKey(key); i >= 0 {
			return md.Values()[i]
		}
		return ""
	}
	f := Frame{Kind: get(keyKind), RequestID: get(keyRequestID)}
	f.Shard.ModelID = get(keyModelID)
	for key, dst := range map[string]*int{keyStart: &f.Shard.Start, keyEnd: &f.Shard.End, keyNLayers: &f.Shard.NLayers} {
		if v := get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Frame{}, fmt.Errorf("%w: %s=%q", ErrFrame, key, v)
			}
			*dst = n
		}
	}

	if !rd.Next() {
		if err := rd.Err(); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrFrame, err)
		}
		return Frame{}, fmt.Errorf("%w: no record batch", ErrFrame)
	}
	rec := rd.Record()
	if rec.NumCols() != 1 {
		return Frame{}, fmt.Errorf("%w: want 1 column, got %d", ErrFrame, rec.NumCols())
	}
	col := rec.Column(0)
	if col.NullN() > 0 {
		return Frame{}, fmt.Errorf("%w: null values", ErrFrame)
	}
	switch c := col.(type) {
	case *array.Int64:
		if !isTokenKind(f.Kind) {
			return Frame{}, fmt.Errorf("%w: int64 column for kind %q", ErrFrame, f.Kind)
		}
		f.Tokens = make([]int, c.Len())
		for i, v := range c.Int64Values() {
			f.Tokens[i] = int(v)
		}
	case *array.Float32:
		if isTokenKind(f.Kind) {
			return Frame{}, fmt.Errorf("%w: float32 column for kind %q", ErrFrame, f.Kind)
		}
		shape, err := parseShape(get(keyShape))
		if err != nil {
			return Frame{}, err
		}
		t, err := tensor.FromData(append([]float32(nil), c.Float32Values()...), shape...)
		if err != nil {
			return Frame{}, err
		}
		f.Tensor = t
	default:
		return Frame{}, fmt.Errorf("%w: unsupported column type %s", ErrFrame, col.DataType())
	}
	return f, nil
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing shape", ErrFrame)
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: shape %q", ErrFrame, s)
		}
		shape[i] = d
	}
	return shape, nil
}
