package tokenizer

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// gpt2Pattern is the GPT-2 byte-level pre-tokenizer.
const gpt2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// llama3Pattern is the Llama 3 pre-tokenizer, also used by the fixed
// tiktoken format.
const llama3Pattern = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

// splitter cuts text into pre-tokenizer words.
type splitter struct {
	re *regexp2.Regexp
}

// compilePattern compiles a pre-tokenizer regex. An empty expression
// selects the GPT-2 pattern.
func compilePattern(expr string) (*splitter, error) {
	if expr == "" {
		expr = gpt2Pattern
	}
	re, err := regexp2.Compile(expr, regexp2.RE2)
	if err != nil {
		return nil, fmt.Errorf("compile pre-tokenizer %q: %w", expr, err)
	}
	return &splitter{re: re}, nil
}

func mustCompilePattern(expr string) *splitter {
	s, err := compilePattern(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// split returns the matches of the pattern in order. Text between matches
// is kept as its own word so nothing is dropped.
func (s *splitter) split(text string) []string {
	r := []rune(text)
	var out []string
	offset := 0
	for m, _ := s.re.FindRunesMatch(r); m != nil; m, _ = s.re.FindNextMatch(m) {
		if m.Index > offset {
			out = append(out, string(r[offset:m.Index]))
		}
		out = append(out, m.String())
		offset = m.Index + m.Length
	}
	if offset < len(r) {
		out = append(out, string(r[offset:]))
	}
	return out
}

// byteTable is GPT-2's reversible mapping from bytes to printable runes.
type byteTable struct {
	enc [256]rune
	dec map[rune]byte
}

func newByteTable() *byteTable {
	t := &byteTable{dec: make(map[rune]byte, 256)}
	printable := func(b int) bool {
		return (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
	}
	n := 0
	for b := 0; b < 256; b++ {
		r := rune(b)
		if !printable(b) {
			r = rune(256 + n)
			n++
		}
		t.enc[b] = r
		t.dec[r] = byte(b)
	}
	return t
}

func (t *byteTable) encode(s string) []string {
	out := make([]string, len(s))
	for i := 0; i < len(s); i++ {
		out[i] = string(t.enc[s[i]])
	}
	return out
}

func (t *byteTable) decode(tok string, dst []byte) []byte {
	for _, r := range tok {
		if b, ok := t.dec[r]; ok {
			dst = append(dst, b)
		} else {
			dst = append(dst, string(r)...)
		}
	}
	return dst
}

type pair struct{ a, b string }

// mergeRanked repeatedly joins the adjacent pair with the lowest rank
// until no ranked pair remains.
func mergeRanked(parts []string, rank func(a, b string) (int, bool)) []string {
	for len(parts) > 1 {
		best, at := 0, -1
		for i := 0; i+1 < len(parts); i++ {
			r, ok := rank(parts[i], parts[i+1])
			if ok && (at < 0 || r < best) {
				best, at = r, i
			}
		}
		if at < 0 {
			break
		}
		parts[at] += parts[at+1]
		parts = append(parts[:at+1], parts[at+2:]...)
	}
	return parts
}

type segment struct {
	text    string
	special bool
}

// splitSpecials cuts text around occurrences of special tokens. specials
// must be ordered longest first.
func splitSpecials(text string, specials []string) []segment {
	if len(specials) == 0 || !strings.Contains(text, "<|") {
		return []segment{{text: text}}
	}
	var out []segment
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if i > start {
			out = append(out, segment{text: text[start:i]})
		}
		out = append(out, segment{text: match, special: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		out = append(out, segment{text: text[start:]})
	}
	return out
}

func isSpecial(s string) bool {
	return len(s) >= 4 && strings.HasPrefix(s, "<|") && strings.HasSuffix(s, "|>")
}

// longestFirst sorts specials so splitSpecials prefers the longest match.
func longestFirst(s []string) []string {
	out := append([]string(nil), s...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j]) > len(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
