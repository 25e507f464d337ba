package tokenizer

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Vocabulary is a byte-level BPE vocabulary: the 256 byte tokens followed
// by one token per merge, in merge order.
type Vocabulary struct {
	Tokens []string
	Merges [][2]string
}

// Train learns merges from corpus until the vocabulary holds size tokens
// or no pair occurs more than once. Ties go to the lexically smallest
// pair, so training is deterministic.
func Train(corpus string, size int) (*Vocabulary, error) {
	if size < 256 {
		return nil, fmt.Errorf("vocabulary size %d is below the 256 byte tokens", size)
	}
	bt := newByteTable()
	v := &Vocabulary{Tokens: make([]string, 0, size)}
	for b := 0; b < 256; b++ {
		v.Tokens = append(v.Tokens, string(bt.enc[b]))
	}

	counts := map[string]int{}
	for _, w := range mustCompilePattern(gpt2Pattern).split(corpus) {
		counts[w]++
	}
	type word struct {
		parts []string
		n     int
	}
	words := make([]word, 0, len(counts))
	for w, n := range counts {
		words = append(words, word{parts: bt.encode(w), n: n})
	}

	for len(v.Tokens) < size {
		freq := map[pair]int{}
		for _, w := range words {
			for i := 0; i+1 < len(w.parts); i++ {
				freq[pair{w.parts[i], w.parts[i+1]}] += w.n
			}
		}
		var best pair
		bestN := 1
		for p, n := range freq {
			if n > bestN || (n == bestN && n > 1 && lessPair(p, best)) {
				best, bestN = p, n
			}
		}
		if bestN < 2 {
			break
		}
		for i := range words {
			words[i].parts = mergeRanked(words[i].parts, func(a, b string) (int, bool) {
				return 0, a == best.a && b == best.b
			})
		}
		v.Merges = append(v.Merges, [2]string{best.a, best.b})
		v.Tokens = append(v.Tokens, best.a+best.b)
	}
	return v, nil
}

func lessPair(p, q pair) bool {
	if p.a != q.a {
		return p.a < q.a
	}
	return p.b < q.b
}

// WriteHF writes dir/tokenizer.json.
func (v *Vocabulary) WriteHF(dir string) error {
	vocab := make(map[string]int, len(v.Tokens))
	for i, tok := range v.Tokens {
		vocab[tok] = i
	}
	merges := make([]string, len(v.Merges))
	for i, m := range v.Merges {
		merges[i] = m[0] + " " + m[1]
	}
	doc := map[string]any{
		"version": "1.0",
		"model": map[string]any{
			"type":   "BPE",
			"vocab":  vocab,
			"merges": merges,
		},
		"pre_tokenizer": map[string]any{
			"type": "Sequence",
			"pretokenizers": []any{
				map[string]any{"type": "Split", "pattern": map[string]string{"Regex": gpt2Pattern}},
				map[string]any{"type": "ByteLevel", "add_prefix_space": false},
			},
		},
		"decoder":      map[string]any{"type": "ByteLevel"},
		"added_tokens": []any{},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, HFFile), b, 0o644)
}

// WriteTiktoken writes the vocabulary as a ranks file at path.
func (v *Vocabulary) WriteTiktoken(path string) error {
	bt := newByteTable()
	var sb strings.Builder
	for rank, tok := range v.Tokens {
		raw := bt.decode(tok, nil)
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString(raw), rank)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
