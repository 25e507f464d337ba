package tokenizer

import (
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
)

// BPE is a byte-level BPE tokenizer loaded from tokenizer.json.
type BPE struct {
	vocab    map[string]int
	tokens   []string
	ranks    map[pair]int
	bytes    *byteTable
	split    *splitter
	specials []string
	bos      int
	addBOS   bool
}

type hfFile struct {
	Model struct {
		Type   string         `json:"type"`
		Vocab  map[string]int `json:"vocab"`
		Merges []any          `json:"merges"`
	} `json:"model"`
	PreTokenizer struct {
		Type          string    `json:"type"`
		Pattern       hfPattern `json:"pattern"`
		Pretokenizers []struct {
			Type    string    `json:"type"`
			Pattern hfPattern `json:"pattern"`
		} `json:"pretokenizers"`
	} `json:"pre_tokenizer"`
	AddedTokens []hfAddedToken `json:"added_tokens"`
}

type hfPattern struct {
	Regex string `json:"Regex"`
}

type hfAddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type hfConfig struct {
	AddBOS   bool   `json:"add_bos_token"`
	BOSToken string `json:"bos_token"`
}

// LoadHF reads tokenizer.json and, when present, tokenizer_config.json.
func LoadHF(path, configPath string) (*BPE, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if configPath != "" {
		if raw, err := os.ReadFile(configPath); err == nil {
			cfg = raw
		}
	}
	return ParseHF(data, cfg)
}

// ParseHF builds a tokenizer from tokenizer.json bytes and optional
// tokenizer_config.json bytes.
func ParseHF(data, configData []byte) (*BPE, error) {
	var f hfFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if !strings.EqualFold(f.Model.Type, "BPE") {
		return nil, fmt.Errorf("unsupported tokenizer model %q", f.Model.Type)
	}
	if len(f.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json has an empty vocab")
	}

	t := &BPE{
		vocab: make(map[string]int, len(f.Model.Vocab)+len(f.AddedTokens)),
		ranks: make(map[pair]int, len(f.Model.Merges)),
		bytes: newByteTable(),
		bos:   -1,
	}
	maxID := -1
	for tok, id := range f.Model.Vocab {
		if id < 0 {
			return nil, fmt.Errorf("negative id %d for %q", id, tok)
		}
		t.vocab[tok] = id
		maxID = max(maxID, id)
	}
	var specials []string
	for _, at := range f.AddedTokens {
		t.vocab[at.Content] = at.ID
		maxID = max(maxID, at.ID)
		if at.Special || isSpecial(at.Content) {
			specials = append(specials, at.Content)
		}
	}
	t.specials = longestFirst(specials)
	t.tokens = make([]string, maxID+1)
	for tok, id := range t.vocab {
		t.tokens[id] = tok
	}

	for _, raw := range f.Model.Merges {
		var a, b string
		switch v := raw.(type) {
		case string:
			parts := strings.Split(strings.TrimSpace(v), " ")
			if len(parts) != 2 {
				continue
			}
			a, b = parts[0], parts[1]
		case []any:
			if len(v) != 2 {
				continue
			}
			a, _ = v[0].(string)
			b, _ = v[1].(string)
		}
		if a == "" || b == "" {
			continue
		}
		p := pair{a, b}
		if _, ok := t.ranks[p]; !ok {
			t.ranks[p] = len(t.ranks)
		}
	}

	expr := f.PreTokenizer.Pattern.Regex
	for _, p := range f.PreTokenizer.Pretokenizers {
		if p.Type == "Split" && p.Pattern.Regex != "" {
			expr = p.Pattern.Regex
			break
		}
	}
	split, err := compilePattern(expr)
	if err != nil {
		return nil, err
	}
	t.split = split

	if len(configData) > 0 {
		var cfg hfConfig
		if err := json.Unmarshal(configData, &cfg); err == nil && cfg.AddBOS {
			if id, ok := t.vocab[cfg.BOSToken]; ok {
				t.bos, t.addBOS = id, true
			}
		}
	}
	return t, nil
}

// VocabSize is one past the largest token id.
func (t *BPE) VocabSize() int { return len(t.tokens) }

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS {
		ids = append(ids, t.bos)
	}
	for _, seg := range splitSpecials(text, t.specials) {
		if seg.special {
			ids = append(ids, t.vocab[seg.text])
			continue
		}
		for _, word := range t.split.split(seg.text) {
			for _, piece := range mergeRanked(t.bytes.encode(word), t.rank) {
				id, ok := t.vocab[piece]
				if !ok {
					return nil, fmt.Errorf("no token for %q", piece)
				}
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (t *BPE) rank(a, b string) (int, bool) {
	r, ok := t.ranks[pair{a, b}]
	return r, ok
}

func (t *BPE) Decode(ids []int) (string, error) {
	var out []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.tokens) || t.tokens[id] == "" {
			return "", fmt.Errorf("token id %d out of range", id)
		}
		tok := t.tokens[id]
		if isSpecial(tok) {
			out = append(out, tok...)
			continue
		}
		out = t.bytes.decode(tok, out)
	}
	return string(out), nil
}
