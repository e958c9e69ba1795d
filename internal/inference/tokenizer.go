// Package inference wraps tokenization and ONNX Runtime sessions for the
// embedding and cross-encoder models.
package inference

import (
	"fmt"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// Encoding is the model input for one text or text pair.
type Encoding struct {
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Len returns the number of tokens.
func (e Encoding) Len() int { return len(e.IDs) }

// Truncate keeps at most max tokens. The final token (the closing special
// token) is preserved.
func (e Encoding) Truncate(max int) Encoding {
	if max <= 0 || len(e.IDs) <= max {
		return e
	}
	cut := func(s []int64) []int64 {
		if len(s) == 0 {
			return s
		}
		out := make([]int64, 0, max)
		out = append(out, s[:max-1]...)
		return append(out, s[len(s)-1])
	}
	return Encoding{IDs: cut(e.IDs), AttentionMask: cut(e.AttentionMask), TypeIDs: cut(e.TypeIDs)}
}

// Tokenizer turns text into model input ids.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
	EncodePair(a, b string) (Encoding, error)
}

// HFTokenizer loads a HuggingFace tokenizer.json.
type HFTokenizer struct {
	tk *tokenizer.Tokenizer
	mu sync.Mutex
}

// LoadTokenizer reads a tokenizer.json file.
func LoadTokenizer(path string) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Encode tokenizes a single text with special tokens.
func (t *HFTokenizer) Encode(text string) (Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	enc, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, fmt.Errorf("tokenize: %w", err)
	}
	return fromTokenizer(enc), nil
}

// EncodePair tokenizes a (query, document) pair with special tokens.
func (t *HFTokenizer) EncodePair(a, b string) (Encoding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	enc, err := t.tk.EncodePair(a, b, true)
	if err != nil {
		return Encoding{}, fmt.Errorf("tokenize pair: %w", err)
	}
	return fromTokenizer(enc), nil
}

func fromTokenizer(enc *tokenizer.Encoding) Encoding {
	ids := toInt64(enc.Ids)
	mask := toInt64(enc.AttentionMask)
	if len(mask) != len(ids) {
		mask = make([]int64, len(ids))
		for i := range mask {
			mask[i] = 1
		}
	}
	types := toInt64(enc.TypeIds)
	if len(types) != len(ids) {
		types = make([]int64, len(ids))
	}
	return Encoding{IDs: ids, AttentionMask: mask, TypeIDs: types}
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

// Batch is a padded, row-major group of encodings.
type Batch struct {
	Size          int
	SeqLen        int
	IDs           []int64
	AttentionMask []int64
	TypeIDs       []int64
}

// Pad right-pads encodings to the longest one with id 0 and mask 0.
func Pad(encs []Encoding) Batch {
	seq := 0
	for _, e := range encs {
		seq = max(seq, e.Len())
	}
	b := Batch{
		Size:          len(encs),
		SeqLen:        seq,
		IDs:           make([]int64, len(encs)*seq),
		AttentionMask: make([]int64, len(encs)*seq),
		TypeIDs:       make([]int64, len(encs)*seq),
	}
	for i, e := range encs {
		row := i * seq
		copy(b.IDs[row:], e.IDs)
		copy(b.AttentionMask[row:], e.AttentionMask)
		copy(b.TypeIDs[row:], e.TypeIDs)
	}
	return b
}
