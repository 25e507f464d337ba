package tokenizer

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// numReservedSpecials is the number of special ids following the ranked
// vocabulary in the Llama 3 layout.
const numReservedSpecials = 256

var llama3Specials = []string{
	"<|begin_of_text|>",
	"<|end_of_text|>",
	"<|reserved_special_token_0|>",
	"<|reserved_special_token_1|>",
	"<|finetune_right_pad_id|>",
	"<|step_id|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"<|eom_id|>",
	"<|eot_id|>",
	"<|python_tag|>",
}

// Tiktoken is a ranked byte-pair tokenizer read from a file of
// "base64(token) rank" lines. A token's rank is its id.
type Tiktoken struct {
	ranks    map[string]int
	tokens   [][]byte
	split    *splitter
	special  map[string]int
	specials []string
}

// LoadTiktoken reads a ranks file and appends the Llama 3 special tokens.
func LoadTiktoken(path string) (*Tiktoken, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	t := &Tiktoken{
		ranks:   map[string]int{},
		split:   mustCompilePattern(llama3Pattern),
		special: map[string]int{},
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: want \"token rank\"", path, line)
		}
		tok, err := base64.StdEncoding.DecodeString(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rank, err := strconv.Atoi(fields[1])
		if err != nil || rank < 0 {
			return nil, fmt.Errorf("%s:%d: bad rank %q", path, line, fields[1])
		}
		t.ranks[string(tok)] = rank
		if rank >= len(t.tokens) {
			t.tokens = append(t.tokens, make([][]byte, rank+1-len(t.tokens))...)
		}
		t.tokens[rank] = tok
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.ranks) == 0 {
		return nil, fmt.Errorf("%s: no ranks", path)
	}

	base := len(t.tokens)
	for i := 0; i < numReservedSpecials; i++ {
		name := fmt.Sprintf("<|reserved_special_token_%d|>", i+2)
		if i < len(llama3Specials) {
			name = llama3Specials[i]
		}
		t.special[name] = base + i
		t.specials = append(t.specials, name)
		t.tokens = append(t.tokens, []byte(name))
	}
	t.specials = longestFirst(t.specials)
	return t, nil
}

func (t *Tiktoken) VocabSize() int { return len(t.tokens) }

func (t *Tiktoken) Encode(text string) ([]int, error) {
	var ids []int
	for _, seg := range splitSpecials(text, t.specials) {
		if seg.special {
			ids = append(ids, t.special[seg.text])
			continue
		}
		for _, word := range t.split.split(seg.text) {
			if id, ok := t.ranks[word]; ok {
				ids = append(ids, id)
				continue
			}
			parts := make([]string, len(word))
			for i := 0; i < len(word); i++ {
				parts[i] = word[i : i+1]
			}
			for _, piece := range mergeRanked(parts, t.rank) {
				id, ok := t.ranks[piece]
				if !ok {
					return nil, fmt.Errorf("no rank for byte sequence %q", piece)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (t *Tiktoken) rank(a, b string) (int, bool) {
	r, ok := t.ranks[a+b]
	return r, ok
}

func (t *Tiktoken) Decode(ids []int) (string, error) {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.tokens) || t.tokens[id] == nil {
			return "", fmt.Errorf("token id %d out of range", id)
		}
		out = append(out, t.tokens[id]...)
	}
	return string(out), nil
}
