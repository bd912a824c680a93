package completion

import (
	"strings"

	"github.com/ifuryst/quill/internal/models"
)

// Defaults are the service-wide fallbacks below organization settings.
type Defaults struct {
	Engine      string
	Temperature float64
}

// Overrides are per-call adjustments; zero values leave the resolved
// setting alone.
type Overrides struct {
	Engine           string   `json:"engine,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	NumUnits         int      `json:"num_units,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
	StopSequences    []string `json:"stop_sequences,omitempty"`
}

// Settings is the merged configuration of one completion call. It is
// resolved once and read-only afterwards.
type Settings struct {
	Component           string
	Shape               models.ContentShape
	Prompt              string
	Intros              []string
	Starters            []string
	BoostedKeywords     []string
	SuppressedKeywords  []string
	StopSequences       []string
	Replacements        []models.Replacement
	Engine              string
	Temperature         float64
	TopP                float64
	FrequencyPenalty    float64
	PresencePenalty     float64
	NumUnits            int
	MaxTokens           int
	MaxFragmentLength   int
	LinkFree            bool
	SuppressFirstPerson bool
	RequiresTopic       bool
	RequiresHeader      bool
	OrganizationName    string
	ProductType         string
}

const (
	defaultParagraphUnits = 3
	defaultListUnits      = 5
)

// Resolve merges service defaults, organization defaults, the template and
// per-call overrides, later layers winning. Keyword lists accumulate.
func Resolve(defaults Defaults, org *models.Organization, tmpl *models.PromptTemplate, o Overrides) Settings {
	s := Settings{
		Engine:      defaults.Engine,
		Temperature: defaults.Temperature,
		TopP:        1,
		Shape:       models.ShapeParagraph,
	}

	if org != nil {
		s.OrganizationName = org.Name
		s.ProductType = org.ProductType
		if org.DefaultEngine != "" {
			s.Engine = org.DefaultEngine
		}
		if org.DefaultTemperature != nil {
			s.Temperature = *org.DefaultTemperature
		}
		s.BoostedKeywords = appendUnique(s.BoostedKeywords, org.BoostedKeywords...)
		s.SuppressedKeywords = appendUnique(s.SuppressedKeywords, org.SuppressedKeywords...)
	}

	if tmpl != nil {
		s.Component = tmpl.Name
		if tmpl.Shape != "" {
			s.Shape = tmpl.Shape
		}
		s.Prompt = tmpl.Prompt
		s.Intros = nonBlank(tmpl.Intros)
		s.Starters = nonBlank(tmpl.Starters)
		s.BoostedKeywords = appendUnique(s.BoostedKeywords, tmpl.BoostedKeywords...)
		s.SuppressedKeywords = appendUnique(s.SuppressedKeywords, tmpl.SuppressedKeywords...)
		s.StopSequences = nonEmpty(tmpl.StopSequences)
		s.Replacements = append([]models.Replacement(nil), tmpl.Replacements...)
		if tmpl.Engine != "" {
			s.Engine = tmpl.Engine
		}
		setFloat(&s.Temperature, tmpl.Temperature)
		setFloat(&s.TopP, tmpl.TopP)
		setFloat(&s.FrequencyPenalty, tmpl.FrequencyPenalty)
		setFloat(&s.PresencePenalty, tmpl.PresencePenalty)
		s.NumUnits = tmpl.NumUnits
		s.MaxFragmentLength = tmpl.MaxFragmentLength
		s.LinkFree = tmpl.LinkFree
		s.SuppressFirstPerson = tmpl.SuppressFirstPerson
		s.RequiresTopic = tmpl.RequiresTopic
		s.RequiresHeader = tmpl.RequiresHeader
	}

	if o.Engine != "" {
		s.Engine = o.Engine
	}
	setFloat(&s.Temperature, o.Temperature)
	setFloat(&s.TopP, o.TopP)
	setFloat(&s.FrequencyPenalty, o.FrequencyPenalty)
	setFloat(&s.PresencePenalty, o.PresencePenalty)
	if o.NumUnits > 0 {
		s.NumUnits = o.NumUnits
	}
	if o.MaxTokens > 0 {
		s.MaxTokens = o.MaxTokens
	}
	if stops := nonEmpty(o.StopSequences); len(stops) > 0 {
		s.StopSequences = stops
	}

	if s.NumUnits <= 0 {
		if s.Shape == models.ShapeParagraph {
			s.NumUnits = defaultParagraphUnits
		} else {
			s.NumUnits = defaultListUnits
		}
	}
	return s
}

// IsList reports whether the shape is one of the list forms.
func (s Settings) IsList() bool {
	return s.Shape == models.ShapeUnorderedList || s.Shape == models.ShapeOrderedList
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func nonBlank(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// nonEmpty keeps whitespace-only values, which are meaningful stops.
func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[strings.ToLower(v)] = true
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		dst = append(dst, v)
	}
	return dst
}
