// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caliberhq/caliber/pkg/coordination"
	"github.com/caliberhq/caliber/pkg/entity"
	"github.com/caliberhq/caliber/pkg/id"
)

func newManager(t *testing.T, retention time.Duration) (*Manager, coordination.Store[entity.Scope], id.ID) {
	t.Helper()
	scopes := coordination.NewInMemoryStore[entity.Scope]()
	records := coordination.NewInMemoryStore[Record]()
	mgr, err := NewManager(records, scopes, retention)
	require.NoError(t, err)

	tenant := id.New()
	traj := id.New()
	scope, err := entity.NewScope(entity.TenantID(tenant), traj, "main", 1000)
	require.NoError(t, err)
	require.NoError(t, scopes.Put(context.Background(), tenant, scope.ID, scope))

	return mgr, scopes, tenant
}

func TestManagerRequiresPositiveRetention(t *testing.T) {
	_, err := NewManager(coordination.NewInMemoryStore[Record](), coordination.NewInMemoryStore[entity.Scope](), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint_retention")
}

func TestCaptureAndRestore(t *testing.T) {
	mgr, scopes, tenant := newManager(t, time.Hour)
	ctx := context.Background()

	all, err := scopes.List(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, all, 1)
	scopeID := all[0].ID

	_, err = mgr.Capture(ctx, tenant, scopeID, entity.RawContent(`{"k":"v"}`), true)
	require.NoError(t, err)

	rec, err := mgr.Restore(ctx, tenant, scopeID)
	require.NoError(t, err)
	assert.Equal(t, entity.RawContent(`{"k":"v"}`), rec.Checkpoint.ContextState)

	scope, err := scopes.Get(ctx, tenant, scopeID)
	require.NoError(t, err)
	require.NotNil(t, scope.Checkpoint)
	assert.True(t, scope.Checkpoint.Recoverable)
}

func TestRestoreRejectsNonRecoverable(t *testing.T) {
	mgr, scopes, tenant := newManager(t, time.Hour)
	ctx := context.Background()
	all, _ := scopes.List(ctx, tenant)
	scopeID := all[0].ID

	_, err := mgr.Capture(ctx, tenant, scopeID, entity.RawContent(`{}`), false)
	require.NoError(t, err)

	_, err = mgr.Restore(ctx, tenant, scopeID)
	require.Error(t, err)
}

func TestCaptureRejectsClosedScope(t *testing.T) {
	mgr, scopes, tenant := newManager(t, time.Hour)
	ctx := context.Background()
	all, _ := scopes.List(ctx, tenant)
	scope := all[0]
	require.NoError(t, scope.Close())
	require.NoError(t, scopes.Put(ctx, tenant, scope.ID, scope))

	_, err := mgr.Capture(ctx, tenant, scope.ID, entity.RawContent(`{}`), true)
	require.Error(t, err)
}

func TestPruneRemovesOldRecords(t *testing.T) {
	mgr, scopes, tenant := newManager(t, time.Millisecond)
	ctx := context.Background()
	all, _ := scopes.List(ctx, tenant)
	scopeID := all[0].ID

	_, err := mgr.Capture(ctx, tenant, scopeID, entity.RawContent(`{}`), true)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	n, err := mgr.Prune(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mgr.Restore(ctx, tenant, scopeID)
	require.Error(t, err)
}
