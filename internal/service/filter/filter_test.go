package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ifuryst/quill/internal/models"
)

func TestBuild_EmptyParamsIsBroadest(t *testing.T) {
	src, pred, err := Build(3, 7, models.WorkflowTypeProduct, models.SearchParams{})
	require.NoError(t, err)

	assert.Equal(t, "products AS c", src.TableExpr())
	assert.Contains(t, pred.SQL, "c.organization_id = ?")
	assert.Contains(t, pred.SQL, "c.deleted_at IS NULL")
	assert.Contains(t, pred.SQL, "c.name <> ?")
	assert.Contains(t, pred.SQL, "NOT EXISTS (SELECT 1 FROM workflow_items wi")
	assert.NotContains(t, pred.SQL, "candidate_labels")
	assert.NotContains(t, pred.SQL, "c.category")
	assert.Equal(t, []any{uint(3), "", uint(7), "Product"}, pred.Args)
}

func TestBuild_SourcePerType(t *testing.T) {
	tests := []struct {
		workflowType models.WorkflowType
		table        string
	}{
		{models.WorkflowTypeProduct, "products"},
		{models.WorkflowTypeIdea, "keywords"},
		{models.WorkflowTypePage, "pages"},
	}
	for _, tt := range tests {
		t.Run(string(tt.workflowType), func(t *testing.T) {
			src, _, err := Build(1, 1, tt.workflowType, models.SearchParams{})
			require.NoError(t, err)
			assert.Equal(t, tt.table, src.Table)
		})
	}
}

func TestBuild_FileTypeUnsupported(t *testing.T) {
	_, _, err := Build(1, 1, models.WorkflowTypeFile, models.SearchParams{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestBuild_ValuesNeverInSQL(t *testing.T) {
	hostile := "x'); DROP TABLE products; --"
	params := models.SearchParams{
		Categories:     []string{hostile},
		Attributes:     []models.AttributeFilter{{Name: hostile, Values: []string{hostile}}},
		Labels:         []string{hostile},
		ExcludedLabels: []string{hostile},
		MissingContent: hostile,
	}

	_, pred, err := Build(1, 2, models.WorkflowTypeProduct, params)
	require.NoError(t, err)

	assert.NotContains(t, pred.SQL, "DROP TABLE")
	assert.NotContains(t, pred.SQL, "'")

	var found int
	for _, arg := range pred.Args {
		switch v := arg.(type) {
		case string:
			if v == hostile {
				found++
			}
		case []string:
			for _, s := range v {
				if s == hostile {
					found++
				}
			}
		}
	}
	// category, attribute name, attribute value, label, excluded label, content type
	assert.Equal(t, 6, found)
	assert.Equal(t, strings.Count(pred.SQL, "?"), len(pred.Args))
}

func TestCriteria_LabelMatchMode(t *testing.T) {
	all := Criteria(models.WorkflowTypeProduct, models.SearchParams{
		Labels:    []string{"summer", "sale"},
		MatchType: models.MatchAll,
	})
	assert.Equal(t, 2, strings.Count(all.SQL, "EXISTS (SELECT 1 FROM candidate_labels"))
	assert.Contains(t, all.SQL, ") AND (")

	anyOf := Criteria(models.WorkflowTypeProduct, models.SearchParams{
		Labels:    []string{"summer", "sale"},
		MatchType: models.MatchAny,
	})
	assert.Equal(t, 1, strings.Count(anyOf.SQL, "EXISTS (SELECT 1 FROM candidate_labels"))
	assert.Equal(t, []any{"Product", []string{"summer", "sale"}}, anyOf.Args)
}

func TestCriteria_AttributesMatchAny(t *testing.T) {
	pred := Criteria(models.WorkflowTypeProduct, models.SearchParams{
		Attributes: []models.AttributeFilter{
			{Name: "color", Values: []string{"red"}},
			{Name: "size", Values: []string{"L", "XL"}},
			{Name: "ignored", Values: []string{" "}},
		},
		MatchType: models.MatchAny,
	})
	assert.Equal(t, 2, strings.Count(pred.SQL, "candidate_attributes"))
	assert.Contains(t, pred.SQL, ") OR (")
}

func TestCriteria_ExclusionsAndMissingContent(t *testing.T) {
	pred := Criteria(models.WorkflowTypeIdea, models.SearchParams{
		ExcludedLabels: []string{"archived"},
		MissingContent: "description",
	})
	assert.Contains(t, pred.SQL, "NOT (EXISTS (SELECT 1 FROM candidate_labels")
	assert.Contains(t, pred.SQL, "NOT (EXISTS (SELECT 1 FROM candidate_contents")
	assert.Equal(t, []any{"Idea", []string{"archived"}, "Idea", "description"}, pred.Args)
}

func TestAnd_SkipsEmpty(t *testing.T) {
	assert.True(t, And().IsEmpty())
	assert.True(t, And(Predicate{}, Predicate{SQL: "  "}).IsEmpty())

	single := And(Predicate{}, cond("a = ?", 1))
	assert.Equal(t, "a = ?", single.SQL)
	assert.Equal(t, []any{1}, single.Args)

	both := Or(cond("a = ?", 1), cond("b = ?", 2))
	assert.Equal(t, "(a = ?) OR (b = ?)", both.SQL)
	assert.Equal(t, []any{1, 2}, both.Args)
}
