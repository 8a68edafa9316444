package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"tradepost/pkg/domain"
)

// Report summarizes one reconciliation pass. Slices are sorted by key.
type Report struct {
	Created   []string `json:"created,omitempty"`
	Refreshed []string `json:"refreshed,omitempty"`
	Retired   []string `json:"retired,omitempty"`
	// Ineligible maps keys the source offered but the catalog may not expose to the reason.
	Ineligible map[string]string `json:"ineligible,omitempty"`
	// Failed maps keys (or "#<index>" for descriptors without a key) to the derive error.
	Failed map[string]string `json:"failed,omitempty"`
	// Disabled lists keys whose user fields the catalog's ineligibility policy changed.
	Disabled []string `json:"disabled,omitempty"`
}

// Reconciliation is the outcome of Reconcile.
type Reconciliation[U any, D any] struct {
	Complete map[string]*domain.Entry[U, D]
	Active   map[string]*domain.Entry[U, D]
	Changed  bool
	Report   Report
}

var derivedEqual = cmpopts.EquateEmpty()

// Reconcile merges the current source descriptors into complete, which is
// modified in place and returned. Only derived fields and eligibility are
// written on existing entries; user fields are written once at creation and
// afterwards only by def.OnIneligible. Entries are never removed. Running it
// twice against the same descriptors reports no change the second time.
func Reconcile[S any, U any, D any](complete map[string]*domain.Entry[U, D], descriptors []S, def domain.Definition[S, U, D], logger Logger) Reconciliation[U, D] {
	if complete == nil {
		complete = make(map[string]*domain.Entry[U, D])
	}
	if logger == nil {
		logger = noopLogger{}
	}
	out := Reconciliation[U, D]{
		Complete: complete,
		Active:   make(map[string]*domain.Entry[U, D], len(descriptors)),
		Report:   Report{Ineligible: map[string]string{}, Failed: map[string]string{}},
	}
	seen := make(map[string]struct{}, len(descriptors))

	for i, descriptor := range descriptors {
		key := def.Key(descriptor)
		if strings.TrimSpace(key) == "" {
			out.Report.Failed[fmt.Sprintf("#%d", i)] = "descriptor has no key"
			logger.Warn("skipping descriptor without key", "catalog", def.ID, "index", i)
			continue
		}
		if _, dup := seen[key]; dup {
			// first occurrence wins
			out.Report.Failed[key] = "duplicate key in source"
			logger.Warn("skipping duplicate descriptor", "catalog", def.ID, "key", key)
			continue
		}
		seen[key] = struct{}{}

		derivation, err := def.Derive(descriptor)
		if err == nil {
			err = storable(derivation)
		}
		if err != nil {
			out.Report.Failed[key] = err.Error()
			logger.Warn("derive failed", "catalog", def.ID, "key", key, "error", err)
			continue
		}
		eligibility := domain.Eligibility{Eligible: derivation.Eligible}
		if !derivation.Eligible {
			eligibility.Reason = derivation.Reason
		}

		entry, exists := complete[key]
		if !exists {
			if !derivation.Eligible {
				out.Report.Ineligible[key] = derivation.Reason
				continue
			}
			entry = &domain.Entry[U, D]{
				Key:         key,
				User:        derivation.Defaults,
				Derived:     derivation.Derived,
				Eligibility: eligibility,
			}
			complete[key] = entry
			out.Active[key] = entry
			out.Changed = true
			out.Report.Created = append(out.Report.Created, key)
			continue
		}

		wasEligible := entry.Eligibility.Eligible
		if !cmp.Equal(entry.Derived, derivation.Derived, derivedEqual) {
			entry.Derived = derivation.Derived
			out.Changed = true
			out.Report.Refreshed = append(out.Report.Refreshed, key)
		}
		if entry.Eligibility != eligibility {
			entry.Eligibility = eligibility
			out.Changed = true
		}
		if !derivation.Eligible {
			out.Report.Ineligible[key] = derivation.Reason
			if wasEligible && def.OnIneligible != nil && def.OnIneligible(&entry.User, derivation.Reason) {
				out.Changed = true
				out.Report.Disabled = append(out.Report.Disabled, key)
				logger.Info("entry disabled after losing eligibility", "catalog", def.ID, "key", key, "reason", derivation.Reason)
			}
			continue
		}
		out.Active[key] = entry
	}

	for key, entry := range complete {
		_, active := out.Active[key]
		entry.Active = active
		if _, present := seen[key]; !present {
			out.Report.Retired = append(out.Report.Retired, key)
		}
	}
	sort.Strings(out.Report.Created)
	sort.Strings(out.Report.Refreshed)
	sort.Strings(out.Report.Retired)
	sort.Strings(out.Report.Disabled)
	return out
}

// storable rejects derivations the document encoder cannot write, such as
// non-finite floats, so one bad descriptor cannot block every later save.
func storable[U any, D any](d domain.Derivation[U, D]) error {
	if _, err := json.Marshal(d.Derived); err != nil {
		return fmt.Errorf("derived fields cannot be stored: %w", err)
	}
	if _, err := json.Marshal(d.Defaults); err != nil {
		return fmt.Errorf("default user fields cannot be stored: %w", err)
	}
	return nil
}
