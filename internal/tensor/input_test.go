package tensor

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustTensor(t *testing.T, data []float32, shape ...int) *Tensor {
	t.Helper()
	x, err := FromData(data, shape...)
	if err != nil {
		t.Fatalf("FromData: %v", err)
	}
	return x
}

func TestInferInput_SingleTokenTakesTokenPath(t *testing.T) {
	in, err := InferInput(mustTensor(t, []float32{7}, 1, 1))
	if err != nil {
		t.Fatalf("InferInput: %v", err)
	}
	if in.Mode != TokenMode {
		t.Fatalf("mode=%v want tokens", in.Mode)
	}
	if diff := cmp.Diff([]int{7}, in.Tokens); diff != "" {
		t.Fatalf("tokens (-want +got):\n%s", diff)
	}
}

func TestInferInput_Rank3TakesHiddenPath(t *testing.T) {
	for _, shape := range [][]int{{1, 1, 4}, {1, 3, 2}, {2, 1, 1}} {
		n := shape[0] * shape[1] * shape[2]
		in, err := InferInput(mustTensor(t, make([]float32, n), shape...))
		if err != nil {
			t.Fatalf("shape %v: %v", shape, err)
		}
		if in.Mode != HiddenMode || in.Hidden == nil {
			t.Fatalf("shape %v: mode=%v", shape, in.Mode)
		}
	}
}

func TestInferInput_RejectsOtherShapes(t *testing.T) {
	cases := []struct {
		data  []float32
		shape []int
	}{
		{[]float32{1, 2}, []int{1, 2}},
		{[]float32{1, 2}, []int{2, 1}},
		{[]float32{1}, []int{1}},
		{make([]float32, 16), []int{1, 2, 2, 4}},
		{[]float32{1.5}, []int{1, 1}},
		{[]float32{-1}, []int{1, 1}},
	}
	for _, c := range cases {
		_, err := InferInput(mustTensor(t, c.data, c.shape...))
		if !errors.Is(err, ErrShape) {
			t.Fatalf("shape %v data %v: expected ErrShape, got %v", c.shape, c.data, err)
		}
	}
}

func TestInputValidate(t *testing.T) {
	if err := Tokens().Validate(); err == nil {
		t.Fatalf("expected error for empty token batch")
	}
	if err := Tokens(1, 2, 3).Validate(); err != nil {
		t.Fatalf("prefill batch: %v", err)
	}
	if err := Hidden(New(1, 4)).Validate(); err == nil {
		t.Fatalf("expected error for rank-2 hidden state")
	}
	if err := (Input{}).Validate(); err == nil {
		t.Fatalf("expected error for untagged input")
	}
}

func TestLastPositions(t *testing.T) {
	x := mustTensor(t, []float32{
		1, 2, 3, 4, // b0 s0
		5, 6, 7, 8, // b0 s1
		9, 10, 11, 12, // b1 s0
		13, 14, 15, 16, // b1 s1
	}, 2, 2, 4)
	rows, err := x.LastPositions()
	if err != nil {
		t.Fatalf("LastPositions: %v", err)
	}
	want := [][]float32{{5, 6, 7, 8}, {13, 14, 15, 16}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
	if _, err := New(4).LastPositions(); err == nil {
		t.Fatalf("expected error for rank 1")
	}
}

func TestOutputValidate(t *testing.T) {
	if err := (Output{}).Validate(); err == nil {
		t.Fatalf("expected error for empty output")
	}
	if err := (Output{Hidden: New(1, 1, 2), Logits: New(1, 1, 2)}).Validate(); err == nil {
		t.Fatalf("expected error for double output")
	}
	if err := (Output{Logits: New(1, 1, 2)}).Validate(); err != nil {
		t.Fatalf("logits output: %v", err)
	}
}
