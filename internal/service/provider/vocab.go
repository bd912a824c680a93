package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// spaceMarker is how byte-level BPE vocabularies spell a leading space.
const spaceMarker = "Ġ"

// Vocabulary is a whole-word tokenizer over a GPT-2 style encoder.json.
// Only words that are a single vocabulary entry resolve; multi-token words
// are left alone rather than biasing their fragments.
type Vocabulary struct {
	ids map[string]int
}

func NewVocabulary(ids map[string]int) *Vocabulary {
	return &Vocabulary{ids: ids}
}

// LoadVocabulary reads an encoder.json file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary %s: %w", path, err)
	}
	return NewVocabulary(ids), nil
}

// Encode returns the ids of word both mid-sentence (leading space) and at
// the start of a line, in ascending order.
func (v *Vocabulary) Encode(word string) []int {
	if v == nil || word == "" {
		return nil
	}
	var out []int
	seen := map[int]bool{}
	for _, form := range []string{spaceMarker + word, word} {
		if id, ok := v.ids[form]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func (v *Vocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.ids)
}
