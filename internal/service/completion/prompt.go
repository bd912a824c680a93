package completion

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/models"
)

// StarterMarker in a template prompt is replaced by a sentence starter not
// yet used in the session.
const StarterMarker = "{{starter}}"

// Input is the per-item content of a completion call.
type Input struct {
	Candidate *models.Candidate
	Topic     string
	Header    string
	Preface   string
	// Existing is partial content to continue rather than start over.
	Existing string
}

func (in Input) topic() string {
	if t := strings.TrimSpace(in.Topic); t != "" {
		return t
	}
	if in.Candidate != nil {
		return strings.TrimSpace(in.Candidate.Name)
	}
	return ""
}

func (in Input) continuing() bool {
	return strings.TrimSpace(in.Existing) != ""
}

// assembled is a rendered prompt. The prompt always ends with lead, and the
// final text starts with it.
type assembled struct {
	prompt string
	lead   string
}

func (o *Orchestrator) assemble(ctx context.Context, s Settings, in Input, session string) assembled {
	c := in.Candidate
	if c == nil {
		c = &models.Candidate{}
	}

	body := strings.NewReplacer(
		"{{topic}}", in.topic(),
		"{{header}}", strings.TrimSpace(in.Header),
		"{{preface}}", strings.TrimSpace(in.Preface),
		"{{name}}", c.Name,
		"{{description}}", c.Description,
		"{{features}}", c.Features,
		"{{pros}}", c.Pros,
		"{{usedfor}}", c.UsedFor,
		"{{brand}}", c.Brand,
		"{{category}}", c.Category,
		"{{organization}}", s.OrganizationName,
		"{{producttype}}", s.ProductType,
	).Replace(s.Prompt)

	var lead string
	if strings.Contains(body, StarterMarker) {
		trailing := strings.HasSuffix(strings.TrimRight(body, " "), StarterMarker)
		starter := o.pickStarter(ctx, s.Starters, session)
		body = strings.ReplaceAll(body, StarterMarker, starter)
		if trailing {
			body = strings.TrimRight(body, " ")
			lead = starter
		}
	}

	switch {
	case in.continuing():
		return assembled{prompt: body + in.Existing, lead: lead + in.Existing}
	case lead == "" && len(s.Intros) > 0:
		intro := s.Intros[o.intn(len(s.Intros))]
		return assembled{prompt: body + intro, lead: intro}
	}
	return assembled{prompt: body, lead: lead}
}

// pickStarter chooses a random starter the session has not used yet. Once
// all are used the session starts over. Tracker failures fall back to an
// untracked pick.
func (o *Orchestrator) pickStarter(ctx context.Context, starters []string, session string) string {
	if len(starters) == 0 {
		return ""
	}
	if session == "" || o.starters == nil {
		return starters[o.intn(len(starters))]
	}

	used, err := o.starters.Used(ctx, session)
	if err != nil {
		o.logger.Warn("Failed to read used starters", zap.String("session", session), zap.Error(err))
		return starters[o.intn(len(starters))]
	}

	var available []string
	for _, s := range starters {
		if !used[s] {
			available = append(available, s)
		}
	}
	if len(available) == 0 {
		if err := o.starters.Reset(ctx, session); err != nil {
			o.logger.Warn("Failed to reset used starters", zap.String("session", session), zap.Error(err))
		}
		available = starters
	}

	starter := available[o.intn(len(available))]
	if err := o.starters.MarkUsed(ctx, session, starter); err != nil {
		o.logger.Warn("Failed to mark starter used", zap.String("session", session), zap.Error(err))
	}
	return starter
}
