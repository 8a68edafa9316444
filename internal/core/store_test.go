package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/pkg/domain"
)

func reconciledStore(t *testing.T, descriptors ...offer) *Store[offerUser, offerDerived] {
	t.Helper()
	def := offerDefinition()
	s := NewStore[offerUser, offerDerived](def.ID, def.ValidateUser)
	s.reconcileWith(func(complete map[string]*domain.Entry[offerUser, offerDerived]) Reconciliation[offerUser, offerDerived] {
		return Reconcile(complete, descriptors, def, nil)
	})
	return s
}

func TestStoreMutateCommitsOnlyValidEdits(t *testing.T) {
	s := reconciledStore(t, eligible("A", 10))

	require.NoError(t, s.Mutate("A", func(u *offerUser) error {
		u.Price = 7
		return nil
	}))
	got, ok := s.Active().Get("A")
	require.True(t, ok)
	assert.Equal(t, 7, got.User.Price)

	err := s.Mutate("A", func(u *offerUser) error {
		u.Price = -1
		return nil
	})
	require.ErrorIs(t, err, domain.ErrInvalidUser)
	got, _ = s.Active().Get("A")
	assert.Equal(t, 7, got.User.Price, "rejected edit must not leak")

	callbackErr := errors.New("editor cancelled")
	err = s.Mutate("A", func(u *offerUser) error {
		u.Enabled = false
		return callbackErr
	})
	require.ErrorIs(t, err, callbackErr)
	got, _ = s.Active().Get("A")
	assert.True(t, got.User.Enabled)
}

func TestStoreMutateUnknownKey(t *testing.T) {
	s := reconciledStore(t)
	err := s.Mutate("missing", func(*offerUser) error { return nil })
	var nf domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, domain.ErrNotFound{Catalog: "offers", Key: "missing"}, nf)
}

func TestStoreMutateReachesRetiredEntries(t *testing.T) {
	s := reconciledStore(t, eligible("A", 10))
	def := offerDefinition()
	s.reconcileWith(func(complete map[string]*domain.Entry[offerUser, offerDerived]) Reconciliation[offerUser, offerDerived] {
		return Reconcile(complete, nil, def, nil)
	})
	require.False(t, s.Active().Has("A"))
	require.NoError(t, s.Mutate("A", func(u *offerUser) error { u.Price = 1; return nil }))
	got, ok := s.Complete().Get("A")
	require.True(t, ok)
	assert.Equal(t, 1, got.User.Price)
}

func TestStoreMutateJSON(t *testing.T) {
	s := reconciledStore(t, eligible("A", 10))

	require.NoError(t, s.MutateJSON("A", []byte(`{"price": 55}`)))
	got, _ := s.Active().Get("A")
	assert.Equal(t, offerUser{Enabled: true, Price: 55}, got.User)

	err := s.MutateJSON("A", []byte(`{"base": 1}`))
	require.ErrorIs(t, err, domain.ErrInvalidUser)
	err = s.MutateJSON("A", []byte(`{"price": -3}`))
	require.ErrorIs(t, err, domain.ErrInvalidUser)
	got, _ = s.Active().Get("A")
	assert.Equal(t, 55, got.User.Price)
}

func TestViewReturnsCopies(t *testing.T) {
	s := reconciledStore(t, eligible("B", 2), eligible("A", 1))
	entries := s.Active().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"A", "B"}, s.Active().Keys())
	entries[0].User.Price = 999
	entry, _ := s.Active().Get("A")
	entry.Derived.Base = 999
	again, _ := s.Active().Get("A")
	assert.Equal(t, 10, again.User.Price)
	assert.Equal(t, 1, again.Derived.Base)
}

func TestViewRangeAllowsMutation(t *testing.T) {
	s := reconciledStore(t, eligible("A", 1), eligible("B", 2), eligible("C", 3))
	var visited []string
	s.Active().Range(func(e domain.Entry[offerUser, offerDerived]) bool {
		visited = append(visited, e.Key)
		require.NoError(t, s.Mutate(e.Key, func(u *offerUser) error { u.Enabled = false; return nil }))
		return e.Key != "B"
	})
	assert.Equal(t, []string{"A", "B"}, visited)
	c, _ := s.Active().Get("C")
	assert.True(t, c.User.Enabled)
}

func TestStoreSnapshotIsDetached(t *testing.T) {
	s := reconciledStore(t, eligible("A", 1))
	doc := s.Snapshot()
	doc.Entries["A"].User.Price = 123
	got, _ := s.Complete().Get("A")
	assert.Equal(t, 10, got.User.Price)
	assert.Equal(t, domain.SchemaVersion, doc.SchemaVersion)
	assert.Equal(t, "offers", doc.Catalog)
}

func TestStoreEncodeIsDeterministic(t *testing.T) {
	s := reconciledStore(t, eligible("B", 2), eligible("A", 1))
	first, err := s.Encode()
	require.NoError(t, err)
	second, err := s.Encode()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "\n  \"entries\": {\n    \"A\"")
	assert.Equal(t, byte('\n'), first[len(first)-1])
	assert.NotContains(t, string(first), "Active")
}

func TestStoreReplaceClearsActiveSet(t *testing.T) {
	s := reconciledStore(t, eligible("A", 1))
	loaded := map[string]*domain.Entry[offerUser, offerDerived]{
		"Z": {Key: "Z", Active: true},
	}
	s.replace(loaded)
	assert.Equal(t, 0, s.Active().Len())
	assert.Equal(t, []string{"Z"}, s.Complete().Keys())
	z, _ := s.Complete().Get("Z")
	assert.False(t, z.Active)
}
