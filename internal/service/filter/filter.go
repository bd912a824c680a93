// Package filter turns a workflow's stored search criteria into a
// parameterized predicate over the candidate inventory.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm/clause"

	"github.com/ifuryst/quill/internal/models"
)

// Alias is the table alias every predicate refers to.
const Alias = "c"

var ErrUnsupportedType = errors.New("workflow type has no candidate inventory")

// Source describes the inventory table backing a workflow type.
type Source struct {
	Type  models.WorkflowType
	Table string
}

// TableExpr is the FROM expression matching Alias.
func (s Source) TableExpr() string {
	return s.Table + " AS " + Alias
}

var sources = map[models.WorkflowType]Source{
	models.WorkflowTypeProduct: {Type: models.WorkflowTypeProduct, Table: "products"},
	models.WorkflowTypeIdea:    {Type: models.WorkflowTypeIdea, Table: "keywords"},
	models.WorkflowTypePage:    {Type: models.WorkflowTypePage, Table: "pages"},
}

func SourceFor(t models.WorkflowType) (Source, error) {
	src, ok := sources[t]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	return src, nil
}

// Predicate is SQL text with positional placeholders plus the bound values.
// Filter values only ever travel in Args.
type Predicate struct {
	SQL  string
	Args []any
}

// Expr exposes the predicate as a gorm clause.
func (p Predicate) Expr() clause.Expr {
	return clause.Expr{SQL: p.SQL, Vars: p.Args}
}

func (p Predicate) IsEmpty() bool {
	return strings.TrimSpace(p.SQL) == ""
}

// And joins predicates with AND, skipping empty ones.
func And(preds ...Predicate) Predicate {
	return join(" AND ", preds)
}

// Or joins predicates with OR, skipping empty ones.
func Or(preds ...Predicate) Predicate {
	return join(" OR ", preds)
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	if p.IsEmpty() {
		return p
	}
	return Predicate{SQL: "NOT (" + p.SQL + ")", Args: p.Args}
}

func join(sep string, preds []Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if !p.IsEmpty() {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return Predicate{}
	case 1:
		return kept[0]
	}

	parts := make([]string, 0, len(kept))
	var args []any
	for _, p := range kept {
		parts = append(parts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return Predicate{SQL: strings.Join(parts, sep), Args: args}
}

func cond(sql string, args ...any) Predicate {
	return Predicate{SQL: sql, Args: args}
}

// Build returns the inventory source and the full candidate predicate for a
// workflow: organization scope, search criteria, and exclusion of candidates
// already completed in this workflow.
func Build(orgID, workflowID uint, workflowType models.WorkflowType, params models.SearchParams) (Source, Predicate, error) {
	src, err := SourceFor(workflowType)
	if err != nil {
		return Source{}, Predicate{}, err
	}

	pred := And(
		Scope(orgID),
		Criteria(workflowType, params),
		NotCompleted(workflowID, workflowType),
	)
	return src, pred, nil
}

// Scope restricts to live, named candidates of one organization.
func Scope(orgID uint) Predicate {
	return And(
		cond(Alias+".organization_id = ?", orgID),
		cond(Alias+".deleted_at IS NULL"),
		cond(Alias+".name IS NOT NULL"),
		cond(Alias+".name <> ?", ""),
	)
}

// Criteria translates the stored search params. Empty params yield an empty
// predicate.
func Criteria(workflowType models.WorkflowType, params models.SearchParams) Predicate {
	matchAny := strings.EqualFold(string(params.MatchType), string(models.MatchAny))

	var preds []Predicate

	if categories := nonEmpty(params.Categories); len(categories) > 0 {
		preds = append(preds, cond(Alias+".category IN ?", categories))
	}

	var attrs []Predicate
	for _, attr := range params.Attributes {
		values := nonEmpty(attr.Values)
		if strings.TrimSpace(attr.Name) == "" || len(values) == 0 {
			continue
		}
		attrs = append(attrs, hasAttribute(workflowType, attr.Name, values))
	}
	if matchAny {
		preds = append(preds, Or(attrs...))
	} else {
		preds = append(preds, And(attrs...))
	}

	if labels := nonEmpty(params.Labels); len(labels) > 0 {
		if matchAny {
			preds = append(preds, hasLabel(workflowType, labels))
		} else {
			var each []Predicate
			for _, label := range labels {
				each = append(each, hasLabel(workflowType, []string{label}))
			}
			preds = append(preds, And(each...))
		}
	}

	if excluded := nonEmpty(params.ExcludedLabels); len(excluded) > 0 {
		preds = append(preds, Not(hasLabel(workflowType, excluded)))
	}

	if missing := strings.TrimSpace(params.MissingContent); missing != "" {
		preds = append(preds, Not(hasContent(workflowType, missing)))
	}

	return And(preds...)
}

// NotCompleted excludes candidates that have a completed item in the workflow.
func NotCompleted(workflowID uint, workflowType models.WorkflowType) Predicate {
	return cond(`NOT EXISTS (SELECT 1 FROM workflow_items wi`+
		` WHERE wi.workflow_id = ? AND wi.item_type = ? AND wi.item_ref = `+Alias+`.ref`+
		` AND wi.date_completed IS NOT NULL)`,
		workflowID, string(workflowType))
}

func hasLabel(workflowType models.WorkflowType, labels []string) Predicate {
	return cond(`EXISTS (SELECT 1 FROM candidate_labels cl`+
		` WHERE cl.organization_id = `+Alias+`.organization_id AND cl.candidate_type = ?`+
		` AND cl.candidate_ref = `+Alias+`.ref AND cl.label IN ?)`,
		string(workflowType), labels)
}

func hasAttribute(workflowType models.WorkflowType, name string, values []string) Predicate {
	return cond(`EXISTS (SELECT 1 FROM candidate_attributes ca`+
		` WHERE ca.organization_id = `+Alias+`.organization_id AND ca.candidate_type = ?`+
		` AND ca.candidate_ref = `+Alias+`.ref AND ca.name = ? AND ca.value IN ?)`,
		string(workflowType), name, values)
}

func hasContent(workflowType models.WorkflowType, contentType string) Predicate {
	return cond(`EXISTS (SELECT 1 FROM candidate_contents cc`+
		` WHERE cc.organization_id = `+Alias+`.organization_id AND cc.candidate_type = ?`+
		` AND cc.candidate_ref = `+Alias+`.ref AND cc.content_type = ?)`,
		string(workflowType), contentType)
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
