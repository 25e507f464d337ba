package tensor

import "fmt"

// Mode tags a forward-pass input.
type Mode int

const (
	// TokenMode carries newly produced token ids for the first shard.
	TokenMode Mode = iota + 1
	// HiddenMode carries a hidden state relayed from the upstream shard.
	HiddenMode
)

func (m Mode) String() string {
	switch m {
	case TokenMode:
		return "tokens"
	case HiddenMode:
		return "hidden"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Input is the tagged forward-pass input. Exactly one of Tokens and Hidden
// is set, as selected by Mode.
type Input struct {
	Mode   Mode
	Tokens []int
	Hidden *Tensor
}

// Tokens builds a token-mode input.
func Tokens(ids ...int) Input { return Input{Mode: TokenMode, Tokens: ids} }

// Hidden builds a hidden-state-mode input.
func Hidden(h *Tensor) Input { return Input{Mode: HiddenMode, Hidden: h} }

// Validate checks the tag agrees with the payload.
func (in Input) Validate() error {
	switch in.Mode {
	case TokenMode:
		if len(in.Tokens) == 0 {
			return fmt.Errorf("%w: empty token batch", ErrShape)
		}
		if in.Hidden != nil {
			return fmt.Errorf("%w: token input carries a hidden state", ErrShape)
		}
		for _, id := range in.Tokens {
			if id < 0 {
				return fmt.Errorf("%w: negative token id %d", ErrShape, id)
			}
		}
		return nil
	case HiddenMode:
		if len(in.Tokens) != 0 {
			return fmt.Errorf("%w: hidden input carries tokens", ErrShape)
		}
		if err := in.Hidden.Validate(); err != nil {
			return err
		}
		if in.Hidden.Rank() != 3 {
			return fmt.Errorf("%w: hidden state must be rank 3, got shape %v", ErrShape, in.Hidden.Shape)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown input mode %v", ErrShape, in.Mode)
	}
}

// InferInput classifies an untagged tensor by shape: (1,1) is a single new
// token and any rank-3 tensor is a hidden state. Other shapes are rejected.
func InferInput(t *Tensor) (Input, error) {
	if err := t.Validate(); err != nil {
		return Input{}, err
	}
	switch {
	case t.Rank() == 2 && t.Shape[0] == 1 && t.Shape[1] == 1:
		v := t.Data[0]
		id := int(v)
		if float32(id) != v || id < 0 {
			return Input{}, fmt.Errorf("%w: token value %v is not a non-negative integer", ErrShape, v)
		}
		return Tokens(id), nil
	case t.Rank() == 3:
		return Hidden(t), nil
	default:
		return Input{}, fmt.Errorf("%w: cannot infer input mode from shape %v", ErrShape, t.Shape)
	}
}

// Output is the tagged forward-pass result: a hidden state for the next
// shard, or logits when this shard is terminal. Exactly one is set.
type Output struct {
	Hidden *Tensor
	Logits *Tensor
}

// IsHidden reports whether the output should be relayed downstream.
func (o Output) IsHidden() bool { return o.Hidden != nil }

// Validate checks exactly one branch is set and well formed.
func (o Output) Validate() error {
	switch {
	case o.Hidden != nil && o.Logits != nil:
		return fmt.Errorf("%w: output carries both hidden state and logits", ErrShape)
	case o.Hidden != nil:
		return o.Hidden.Validate()
	case o.Logits != nil:
		return o.Logits.Validate()
	default:
		return fmt.Errorf("%w: empty output", ErrShape)
	}
}
