package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "query:ACC-1:recon_status", Key("ACC-1", KindReconciliationStatus, ""))
	assert.Equal(t, "query:ACC-1:open_positions:EURUSD", Key("ACC-1", KindOpenPositions, "EURUSD"))
}

func TestMemory_SetGet(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	_, hit, err := m.Get(ctx, "query:ACC-1:recon_status")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, m.Set(ctx, "query:ACC-1:recon_status", []byte(`{"ok":true}`), time.Minute))

	value, hit, err := m.Get(ctx, "query:ACC-1:recon_status")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []byte(`{"ok":true}`), value)
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "query:ACC-1:guard_status", []byte("v"), 20*time.Millisecond))

	_, hit, err := m.Get(ctx, "query:ACC-1:guard_status")
	require.NoError(t, err)
	assert.True(t, hit)

	assert.Eventually(t, func() bool {
		_, hit, _ := m.Get(ctx, "query:ACC-1:guard_status")
		return !hit
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_InvalidateAccountIsScoped(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, Key("ACC-1", KindReconciliationStatus, ""), []byte("a"), time.Minute))
	require.NoError(t, m.Set(ctx, Key("ACC-1", KindOpenPositions, "EURUSD"), []byte("b"), time.Minute))
	require.NoError(t, m.Set(ctx, Key("ACC-2", KindReconciliationStatus, ""), []byte("c"), time.Minute))

	require.NoError(t, m.InvalidateAccount(ctx, "ACC-1"))

	_, hit, _ := m.Get(ctx, Key("ACC-1", KindReconciliationStatus, ""))
	assert.False(t, hit)
	_, hit, _ = m.Get(ctx, Key("ACC-1", KindOpenPositions, "EURUSD"))
	assert.False(t, hit)

	// the other account's entries survive
	_, hit, _ = m.Get(ctx, Key("ACC-2", KindReconciliationStatus, ""))
	assert.True(t, hit)
}

func TestInvalidator_ConsumesEvents(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Set(ctx, Key("ACC-1", KindGuardStatus, ""), []byte("v"), time.Minute))

	inv := NewInvalidator(m)
	go inv.Start(ctx)

	inv.Notify("ACC-1")

	assert.Eventually(t, func() bool {
		_, hit, _ := m.Get(ctx, Key("ACC-1", KindGuardStatus, ""))
		return !hit
	}, time.Second, 10*time.Millisecond)
}

func TestAccountFromKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ACC-1", accountFromKey("query:ACC-1:recon_status"))
	assert.Equal(t, "ACC-1", accountFromKey("query:ACC-1:open_positions:EURUSD"))
	assert.Equal(t, "", accountFromKey("other:ACC-1:x"))
}
