// Package tokenizer resolves the tokenizer that belongs to a model
// directory. Two on-disk formats are understood: a Hugging Face
// tokenizer.json with a byte-level BPE model, and the fixed
// original/tokenizer.model ranks file used by the Llama 3 family.
package tokenizer

import (
	"fmt"
	"path/filepath"

	"shardd/internal/common/fsutil"
)

const (
	HFFile       = "tokenizer.json"
	HFConfigFile = "tokenizer_config.json"
	// FixedFile is the path, relative to the model directory, of the
	// fixed-format ranks file.
	FixedFile = "original/tokenizer.model"
)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Resolver builds the tokenizer for a model directory.
type Resolver interface {
	Resolve(dir string) (Tokenizer, error)
}

// FileResolver loads tokenizers from model directories. When Fixed is
// set it always loads the fixed-format file, otherwise tokenizer.json.
type FileResolver struct {
	Fixed bool
}

func (r FileResolver) Resolve(dir string) (Tokenizer, error) {
	if r.Fixed {
		return LoadTiktoken(filepath.Join(dir, FixedFile))
	}
	p := filepath.Join(dir, HFFile)
	if !fsutil.PathExists(p) {
		return nil, fmt.Errorf("no %s in %s", HFFile, dir)
	}
	return LoadHF(p, filepath.Join(dir, HFConfigFile))
}
