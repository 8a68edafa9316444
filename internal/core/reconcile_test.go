package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepost/pkg/domain"
)

type offerEntries = map[string]*domain.Entry[offerUser, offerDerived]

func storedA() offerEntries {
	return offerEntries{
		"A": {
			Key:         "A",
			User:        offerUser{Enabled: true, Price: 500},
			Derived:     offerDerived{Base: 3},
			Eligibility: domain.Eligibility{Eligible: true},
		},
	}
}

func TestReconcileAddsNewKeysAndPreservesUserFields(t *testing.T) {
	r := Reconcile(storedA(), []offer{eligible("A", 10), eligible("B", 20)}, offerDefinition(), nil)

	require.True(t, r.Changed)
	require.Len(t, r.Active, 2)
	assert.Equal(t, offerUser{Enabled: true, Price: 500}, r.Active["A"].User)
	assert.Equal(t, 10, r.Active["A"].Derived.Base)
	assert.Equal(t, offerUser{Enabled: true, Price: 200}, r.Active["B"].User)
	assert.Equal(t, 20, r.Active["B"].Derived.Base)
	assert.Equal(t, []string{"B"}, r.Report.Created)
	assert.Equal(t, []string{"A"}, r.Report.Refreshed)
	assert.True(t, r.Complete["A"].Active)
}

func TestReconcileEmptySourceOnlyChangesMembership(t *testing.T) {
	complete := storedA()
	before := *complete["A"]

	r := Reconcile(complete, nil, offerDefinition(), nil)

	assert.False(t, r.Changed)
	assert.Empty(t, r.Active)
	require.Contains(t, r.Complete, "A")
	after := *r.Complete["A"]
	assert.False(t, after.Active)
	after.Active = before.Active
	assert.Equal(t, before, after)
	assert.Equal(t, []string{"A"}, r.Report.Retired)
}

func TestReconcileIsIdempotent(t *testing.T) {
	descriptors := []offer{eligible("A", 10), eligible("B", 20), {Key: "C", Base: 1, Reason: "locked"}}
	def := offerDefinition()

	first := Reconcile(storedA(), descriptors, def, nil)
	require.True(t, first.Changed)
	snapshot, err := json.Marshal(first.Complete)
	require.NoError(t, err)

	second := Reconcile(first.Complete, descriptors, def, nil)
	assert.False(t, second.Changed)
	again, err := json.Marshal(second.Complete)
	require.NoError(t, err)
	assert.Equal(t, string(snapshot), string(again))
}

func TestReconcileRoundTripThroughDocumentIsUnchanged(t *testing.T) {
	descriptors := []offer{eligible("A", 10), eligible("B", 20)}
	def := offerDefinition()
	first := Reconcile(nil, descriptors, def, nil)

	doc := domain.NewDocument[offerUser, offerDerived]("offers")
	doc.Entries = first.Complete
	data, err := EncodeDocument(doc)
	require.NoError(t, err)

	decoded := domain.NewDocument[offerUser, offerDerived]("offers")
	require.NoError(t, decodeDocument(data, "offers", decoded))

	second := Reconcile(decoded.Entries, descriptors, def, nil)
	assert.False(t, second.Changed)
}

func TestReconcileRetirementAndReturn(t *testing.T) {
	def := offerDefinition()
	r := Reconcile(nil, []offer{eligible("A", 10)}, def, nil)
	r.Complete["A"].User = offerUser{Enabled: false, Price: 42}

	retired := Reconcile(r.Complete, nil, def, nil)
	assert.Empty(t, retired.Active)
	assert.Equal(t, offerUser{Enabled: false, Price: 42}, retired.Complete["A"].User)
	assert.Equal(t, 10, retired.Complete["A"].Derived.Base)

	back := Reconcile(retired.Complete, []offer{eligible("A", 11)}, def, nil)
	require.Contains(t, back.Active, "A")
	assert.Equal(t, offerUser{Enabled: false, Price: 42}, back.Active["A"].User)
	assert.Equal(t, 11, back.Active["A"].Derived.Base)
	assert.Empty(t, back.Report.Created)
}

func TestReconcileIneligibleNewKeyIsNotCreated(t *testing.T) {
	r := Reconcile(nil, []offer{{Key: "X", Base: 5, Reason: "special"}}, offerDefinition(), nil)
	assert.False(t, r.Changed)
	assert.Empty(t, r.Complete)
	assert.Equal(t, map[string]string{"X": "special"}, r.Report.Ineligible)
}

func TestReconcileLosingEligibilityKeepsEntryAndRunsPolicyOnce(t *testing.T) {
	def := offerDefinition()
	calls := 0
	def.OnIneligible = func(u *offerUser, reason string) bool {
		calls++
		u.Enabled = false
		return true
	}
	r := Reconcile(nil, []offer{eligible("A", 10)}, def, nil)

	lost := Reconcile(r.Complete, []offer{{Key: "A", Base: 10, Reason: "no longer tradeable"}}, def, nil)
	assert.True(t, lost.Changed)
	assert.Empty(t, lost.Active)
	require.Contains(t, lost.Complete, "A")
	assert.False(t, lost.Complete["A"].User.Enabled)
	assert.Equal(t, domain.Eligibility{Reason: "no longer tradeable"}, lost.Complete["A"].Eligibility)
	assert.Equal(t, []string{"A"}, lost.Report.Disabled)

	still := Reconcile(lost.Complete, []offer{{Key: "A", Base: 10, Reason: "no longer tradeable"}}, def, nil)
	assert.False(t, still.Changed)
	assert.Equal(t, 1, calls)
}

func TestReconcileIsolatesPerEntityFailures(t *testing.T) {
	logger := &captureLogger{}
	complete := storedA()
	descriptors := []offer{
		{Key: "A", Broken: true},
		{Key: ""},
		eligible("B", 2),
		eligible("B", 99),
	}

	r := Reconcile(complete, descriptors, offerDefinition(), logger)

	assert.Contains(t, r.Report.Failed["A"], "broken descriptor")
	assert.Equal(t, "descriptor has no key", r.Report.Failed["#1"])
	assert.Equal(t, "duplicate key in source", r.Report.Failed["B"])
	require.Contains(t, r.Active, "B")
	assert.Equal(t, 2, r.Active["B"].Derived.Base)
	assert.NotContains(t, r.Active, "A")
	assert.Equal(t, 3, r.Complete["A"].Derived.Base, "failed entry stays frozen")
	assert.True(t, logger.has("warn", "derive failed"))
}

type gauge struct {
	Key   string
	Ratio float64
}

type gaugeDerived struct {
	Ratio float64 `json:"ratio"`
}

func gaugeDefinition() domain.Definition[gauge, offerUser, gaugeDerived] {
	return domain.Definition[gauge, offerUser, gaugeDerived]{
		ID:  "gauges",
		Key: func(g gauge) string { return g.Key },
		Derive: func(g gauge) (domain.Derivation[offerUser, gaugeDerived], error) {
			return domain.Derivation[offerUser, gaugeDerived]{
				Derived:  gaugeDerived{Ratio: g.Ratio},
				Defaults: offerUser{Enabled: true},
				Eligible: true,
			}, nil
		},
	}
}

func TestReconcileIsolatesDerivedValuesThatCannotBeStored(t *testing.T) {
	complete := map[string]*domain.Entry[offerUser, gaugeDerived]{
		"Old": {Key: "Old", User: offerUser{Price: 7}, Derived: gaugeDerived{Ratio: 0.5}, Eligibility: domain.Eligibility{Eligible: true}},
	}
	descriptors := []gauge{
		{Key: "Fine", Ratio: 1.5},
		{Key: "Old", Ratio: math.Inf(1)},
		{Key: "Low", Ratio: math.Inf(-1)},
		{Key: "Odd", Ratio: math.NaN()},
	}

	r := Reconcile(complete, descriptors, gaugeDefinition(), nil)

	assert.Equal(t, []string{"Fine"}, r.Report.Created)
	require.Len(t, r.Report.Failed, 3)
	for _, key := range []string{"Old", "Low", "Odd"} {
		assert.Contains(t, r.Report.Failed[key], "derived fields cannot be stored", key)
		assert.NotContains(t, r.Active, key)
	}
	assert.Equal(t, 0.5, r.Complete["Old"].Derived.Ratio, "failed entry stays frozen")

	doc := domain.NewDocument[offerUser, gaugeDerived]("gauges")
	doc.Entries = r.Complete
	_, err := EncodeDocument(doc)
	require.NoError(t, err)
}

func TestReconcileTreatsNilAndEmptyDerivedSlicesAlike(t *testing.T) {
	def := offerDefinition()
	inner := def.Derive
	def.Derive = func(o offer) (domain.Derivation[offerUser, offerDerived], error) {
		d, err := inner(o)
		d.Derived.Tags = []string{}
		return d, err
	}
	complete := offerEntries{"A": {Key: "A", Derived: offerDerived{Base: 10}, Eligibility: domain.Eligibility{Eligible: true}}}
	r := Reconcile(complete, []offer{eligible("A", 10)}, def, nil)
	assert.False(t, r.Changed, cmp.Diff(offerDerived{Base: 10}, r.Complete["A"].Derived))
}
