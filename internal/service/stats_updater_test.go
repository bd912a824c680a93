package service

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ifuryst/quill/internal/models"
	"github.com/ifuryst/quill/internal/service/metrics"
	"github.com/ifuryst/quill/internal/service/queue"
	"github.com/ifuryst/quill/internal/service/workflow"
	"github.com/ifuryst/quill/internal/testutil"
)

func TestStatsUpdater_PublishesRemaining(t *testing.T) {
	db := testutil.NewDB(t)
	store := workflow.NewStore(db, zap.NewNop())
	q := queue.New(db, store, zap.NewNop())
	ctx := context.Background()

	testutil.Seed(t, db,
		&models.Product{OrganizationID: 1, Ref: "A", Name: "A"},
		&models.Product{OrganizationID: 1, Ref: "B", Name: "B"},
	)
	running := &models.Workflow{OrganizationID: 1, Name: "running", WorkflowType: models.WorkflowTypeProduct}
	idle := &models.Workflow{OrganizationID: 1, Name: "idle", WorkflowType: models.WorkflowTypeProduct}
	require.NoError(t, store.Create(ctx, running))
	require.NoError(t, store.Create(ctx, idle))
	_, err := store.Transition(ctx, running.ID, 1, models.EventStart)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	u := NewStatsUpdater(NewMonitoringService(db, zap.NewNop(), m), store, q, m, zap.NewNop(), 0, 90)
	u.UpdateStats(ctx)

	expected := `
# HELP quill_workflow_remaining_items Eligible candidates left per running workflow
# TYPE quill_workflow_remaining_items gauge
quill_workflow_remaining_items{workflow_id="1"} 2
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected), "quill_workflow_remaining_items"))
}
