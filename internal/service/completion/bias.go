package completion

import (
	"strings"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/provider"
	"github.com/ifuryst/quill/pkg/util"
)

// Token ids of the GPT-2/GPT-3 byte-level BPE vocabulary.
const (
	TokenEndOfText     = 50256
	TokenNewline       = 198
	TokenDoubleNewline = 628
	TokenHTTP          = 4023
	TokenHTTPS         = 5450
	TokenSchemeSep     = 1378 // "://"
	TokenWWW           = 2503
	TokenUnderscore    = 62
	TokenDoubleUnder   = 834
)

// structuralTokens are suppressed on every call to keep output well-formed.
var structuralTokens = []int{
	TokenEndOfText,
	TokenDoubleNewline,
	TokenHTTP,
	TokenHTTPS,
	TokenSchemeSep,
	TokenWWW,
	TokenUnderscore,
	TokenDoubleUnder,
}

var firstPersonPronouns = []string{"I", "we", "We", "us", "Us", "my", "My", "our", "Our"}

// BiasBuilder computes logit bias maps. It holds no randomness: equal
// inputs give equal maps.
type BiasBuilder struct {
	tokenizer      provider.Tokenizer
	boostWeight    int
	suppressWeight int
}

func NewBiasBuilder(tokenizer provider.Tokenizer, boostWeight, suppressWeight int) *BiasBuilder {
	return &BiasBuilder{
		tokenizer:      tokenizer,
		boostWeight:    boostWeight,
		suppressWeight: suppressWeight,
	}
}

// Build layers, in order: structural suppressions, the newline for
// single-unit content, first-person pronouns, boosts, then explicit
// suppressions. Boosts never lift a suppressed token; suppressions always
// win.
func (b *BiasBuilder) Build(s Settings, c *models.Candidate) map[int]int {
	bias := make(map[int]int)

	for _, id := range structuralTokens {
		bias[id] = b.suppressWeight
	}
	if s.NumUnits == 1 {
		bias[TokenNewline] = b.suppressWeight
	}
	if s.SuppressFirstPerson {
		for _, word := range firstPersonPronouns {
			b.set(bias, word, b.suppressWeight, true)
		}
	}

	boosts := append([]string(nil), s.BoostedKeywords...)
	if c != nil {
		boosts = append(boosts, util.ParseKeywords(c.Pros)...)
		boosts = append(boosts, util.ParseKeywords(c.UsedFor)...)
	}
	for _, phrase := range boosts {
		for _, word := range strings.Fields(phrase) {
			b.set(bias, word, b.boostWeight, false)
		}
	}

	for _, phrase := range s.SuppressedKeywords {
		for _, word := range strings.Fields(phrase) {
			b.set(bias, word, b.suppressWeight, true)
		}
	}
	return bias
}

func (b *BiasBuilder) set(bias map[int]int, word string, weight int, override bool) {
	if b.tokenizer == nil {
		return
	}
	word = strings.Trim(word, ".,;:!?\"'()")
	if word == "" {
		return
	}
	for _, id := range b.tokenizer.Encode(word) {
		if _, exists := bias[id]; exists && !override {
			continue
		}
		bias[id] = weight
	}
}
