package usage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/testutil"
)

func TestRecorder_RecordAndList(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewRecorder(db, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled request still leaves its audit row.
	r.Record(ctx, Entry{
		OrganizationID:   3,
		AccountID:        "acct-1",
		ComponentName:    "description",
		Topic:            "Tee",
		Prompt:           "Describe Tee:",
		RequestParams:    map[string]any{"max_tokens": 120},
		ProviderResponse: []byte(`{"choices":[{"text":"Soft."}]}`),
		FinalText:        "Soft.",
	})
	r.Record(context.Background(), Entry{
		OrganizationID:   3,
		ComponentName:    "features",
		ProviderResponse: []byte("not json"),
		FinalText:        "<ol><li>Soft</li></ol>",
	})
	r.Record(context.Background(), Entry{OrganizationID: 4, ComponentName: "other"})

	rows, err := r.List(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "features", rows[0].ComponentName)
	assert.JSONEq(t, `"not json"`, string(rows[0].ProviderResponse))

	first := rows[1]
	assert.Len(t, first.RequestID, 36)
	assert.Equal(t, "acct-1", first.AccountID)
	assert.Equal(t, "Describe Tee:", first.Prompt)
	assert.JSONEq(t, `{"max_tokens":120}`, string(first.RequestParams))
	assert.JSONEq(t, `{"choices":[{"text":"Soft."}]}`, string(first.ProviderResponse))
	assert.NotEqual(t, first.RequestID, rows[0].RequestID)

	limited, err := r.List(context.Background(), 3, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
