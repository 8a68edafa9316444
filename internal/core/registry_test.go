package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/pkg/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(nil, eligible("A", 1))
	reg := NewRegistry(h.scheduler, WithLogger(noopLogger{}))
	require.NoError(t, reg.Register(h.catalog))
	require.Error(t, reg.Register(h.catalog))
	require.Error(t, reg.Register(nil))

	m, err := reg.Get("offers")
	require.NoError(t, err)
	assert.Equal(t, "offers", m.ID())
	_, err = reg.Get("nope")
	require.ErrorIs(t, err, ErrUnknownCatalog)
	assert.Equal(t, []string{"offers"}, reg.IDs())

	require.NoError(t, reg.InitializeAll(ctx))
	require.NoError(t, m.Update("A", []byte(`{"enabled": false}`)))
	require.NoError(t, reg.ReloadAll(ctx))
	require.NoError(t, reg.ShutdownAll(ctx))

	doc, _, err := h.document(ctx)
	require.NoError(t, err)
	assert.False(t, doc.Entries["A"].User.Enabled)
	assert.Equal(t, StateClosed, m.State())
}

func TestRegistryJoinsErrors(t *testing.T) {
	ctx := context.Background()
	first := newHarness(nil, eligible("A", 1))
	first.source.fail(errors.New("offline"))
	reg := NewRegistry(nil)
	require.NoError(t, reg.Register(first.catalog))

	err := reg.InitializeAll(ctx)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	err = reg.ReloadAll(ctx)
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	require.NoError(t, reg.ShutdownAll(ctx))
}
