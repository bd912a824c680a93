package completion

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/pkg/util"
)

// Output is shaped completion text. Items is set for list shapes.
type Output struct {
	Text  string
	Items []string
}

// Shaper post-processes raw provider text into one content shape.
type Shaper interface {
	Shape() models.ContentShape
	Apply(raw string, s Settings) Output
}

// Shapers is the registry of content shapers.
type Shapers struct {
	shapers map[models.ContentShape]Shaper
}

func NewShapers() *Shapers {
	return &Shapers{shapers: make(map[models.ContentShape]Shaper)}
}

// DefaultShapers registers paragraph, unordered and ordered list shapers.
func DefaultShapers() *Shapers {
	s := NewShapers()
	_ = s.Register(NewParagraphShaper())
	_ = s.Register(UnorderedListShaper{})
	_ = s.Register(OrderedListShaper{})
	return s
}

func (m *Shapers) Register(shaper Shaper) error {
	shape := shaper.Shape()
	if _, exists := m.shapers[shape]; exists {
		return fmt.Errorf("shaper for %s already registered", shape)
	}
	m.shapers[shape] = shaper
	return nil
}

func (m *Shapers) Get(shape models.ContentShape) (Shaper, error) {
	shaper, exists := m.shapers[shape]
	if !exists {
		return nil, fmt.Errorf("shaper for %s not found", shape)
	}
	return shaper, nil
}

func (m *Shapers) Available() []models.ContentShape {
	out := make([]models.ContentShape, 0, len(m.shapers))
	for shape := range m.shapers {
		out = append(out, shape)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var anchorPattern = regexp.MustCompile(`(?i)<a[\s>]`)

// ParagraphShaper keeps the text as generated, applying configured
// replacements and removing links for link-free templates.
type ParagraphShaper struct {
	linkPolicy *bluemonday.Policy
}

func NewParagraphShaper() *ParagraphShaper {
	// Everything except anchors survives; anchor text is kept.
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em", "u", "ul", "ol", "li", "h2", "h3", "h4", "blockquote")
	return &ParagraphShaper{linkPolicy: p}
}

func (ParagraphShaper) Shape() models.ContentShape {
	return models.ShapeParagraph
}

func (p *ParagraphShaper) Apply(raw string, s Settings) Output {
	text := strings.TrimSpace(raw)
	text = applyReplacements(text, s.Replacements)
	if s.LinkFree {
		text = p.stripLinks(text)
	}
	return Output{Text: text}
}

func (p *ParagraphShaper) stripLinks(text string) string {
	if !anchorPattern.MatchString(text) {
		return text
	}
	// The sanitizer escapes text nodes; the copy is plain text again
	// afterwards.
	return strings.TrimSpace(html.UnescapeString(p.linkPolicy.Sanitize(text)))
}

func applyReplacements(text string, replacements []models.Replacement) string {
	for _, r := range replacements {
		if r.From == "" {
			continue
		}
		text = strings.ReplaceAll(text, r.From, r.To)
	}
	return text
}

var numberedPrefix = regexp.MustCompile(`(?:^|\s+)\d+\.\s+`)

// UnorderedListShaper splits on numbered prefixes and wraps each fragment
// in a <ul>.
type UnorderedListShaper struct{}

func (UnorderedListShaper) Shape() models.ContentShape {
	return models.ShapeUnorderedList
}

func (UnorderedListShaper) Apply(raw string, s Settings) Output {
	items := splitFragments(numberedPrefix, applyReplacements(raw, s.Replacements))
	return Output{Text: wrapList("ul", items), Items: items}
}

var (
	listPrefix   = regexp.MustCompile(`(?m)(?:^|\s)\d+[.)]\s+|^\s*[-*•]\s+`)
	restartMarks = regexp.MustCompile(`(?m)(?:^|\s)1[.)]\s`)
)

// OrderedListShaper cuts runaway second lists, splits on numbered or
// bulleted prefixes, caps fragment length and the item count, and wraps
// the result in an <ol>.
type OrderedListShaper struct{}

func (OrderedListShaper) Shape() models.ContentShape {
	return models.ShapeOrderedList
}

func (OrderedListShaper) Apply(raw string, s Settings) Output {
	text := truncateRunaway(applyReplacements(raw, s.Replacements))

	items := splitFragments(listPrefix, text)
	if s.MaxFragmentLength > 0 {
		for i, item := range items {
			items[i] = util.TruncateWords(item, s.MaxFragmentLength)
		}
	}
	if s.NumUnits > 0 && len(items) > s.NumUnits {
		items = items[:s.NumUnits]
	}
	return Output{Text: wrapList("ol", items), Items: items}
}

// truncateRunaway drops everything from the point where the provider
// starts numbering again at 1.
func truncateRunaway(text string) string {
	marks := restartMarks.FindAllStringIndex(text, -1)
	if len(marks) == 0 {
		return text
	}
	cut := marks[0][0]
	if strings.TrimSpace(text[:cut]) == "" {
		if len(marks) < 2 {
			return text
		}
		cut = marks[1][0]
	}
	return text[:cut]
}

func splitFragments(pattern *regexp.Regexp, text string) []string {
	var items []string
	for _, part := range pattern.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	return items
}

// wrapList renders fragments as list markup. Fragments are provider text,
// so they are escaped.
func wrapList(tag string, items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<" + tag + ">")
	for _, item := range items {
		b.WriteString("<li>")
		b.WriteString(html.EscapeString(item))
		b.WriteString("</li>")
	}
	b.WriteString("</" + tag + ">")
	return b.String()
}
