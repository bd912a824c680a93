package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/testutil"
)

func TestStore_TemplateFallsBackToGlobal(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewStore(db)
	ctx := context.Background()

	require.NoError(t, s.SaveTemplate(ctx, &models.PromptTemplate{Name: "description", Prompt: "global"}))
	require.NoError(t, s.SaveTemplate(ctx, &models.PromptTemplate{OrganizationID: 5, Name: "description", Prompt: "acme"}))
	require.NoError(t, s.SaveTemplate(ctx, &models.PromptTemplate{
		Name:     "features",
		Prompt:   "list",
		Shape:    models.ShapeOrderedList,
		Starters: datatypes.JSONSlice[string]{"Imagine"},
	}))

	got, err := s.Template(ctx, 5, "description")
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Prompt)

	got, err = s.Template(ctx, 6, "description")
	require.NoError(t, err)
	assert.Equal(t, "global", got.Prompt)

	got, err = s.Template(ctx, 5, "features")
	require.NoError(t, err)
	assert.Equal(t, models.ShapeOrderedList, got.Shape)
	assert.Equal(t, []string{"Imagine"}, []string(got.Starters))

	_, err = s.Template(ctx, 5, "headline")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestStore_Organization(t *testing.T) {
	db := testutil.NewDB(t)
	s := NewStore(db)
	ctx := context.Background()

	temp := 0.4
	org := &models.Organization{
		Name:               "Acme",
		BoostedKeywords:    datatypes.JSONSlice[string]{"soft"},
		DefaultTemperature: &temp,
	}
	require.NoError(t, s.SaveOrganization(ctx, org))

	got, err := s.Organization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.Equal(t, []string{"soft"}, []string(got.BoostedKeywords))
	require.NotNil(t, got.DefaultTemperature)
	assert.Equal(t, 0.4, *got.DefaultTemperature)

	_, err = s.Organization(ctx, 999)
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}
