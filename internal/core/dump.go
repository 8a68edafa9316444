package core

import (
	"fmt"
	"sort"
)

// Entry statuses reported by Dump.
const (
	DumpActive     = "active"
	DumpRetired    = "retired"
	DumpIneligible = "ineligible"
	DumpFailed     = "failed"
)

// DumpEntry is one entry of a diagnostic listing.
type DumpEntry struct {
	Key     string `json:"key"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	User    any    `json:"user"`
	Derived any    `json:"derived"`
}

// DumpReport lists a catalog's active entries and the entries filtered out of
// the active set together with the reason.
type DumpReport struct {
	Catalog  string      `json:"catalog"`
	State    State       `json:"state"`
	Driver   string      `json:"driver"`
	Degraded bool        `json:"degraded,omitempty"`
	Active   []DumpEntry `json:"active"`
	Filtered []DumpEntry `json:"filtered"`
	// Skipped lists source keys that were never turned into entries.
	Skipped map[string]string `json:"skipped,omitempty"`
	Report  Report            `json:"report"`
}

// Dump builds a diagnostic listing from the current sets and the last report.
func (c *Catalog[S, U, D]) Dump() DumpReport {
	report := c.LastReport()
	retired := make(map[string]struct{}, len(report.Retired))
	for _, k := range report.Retired {
		retired[k] = struct{}{}
	}
	out := DumpReport{
		Catalog:  c.def.ID,
		State:    c.State(),
		Driver:   c.gateway.Driver(),
		Degraded: c.Degraded(),
		Active:   []DumpEntry{},
		Filtered: []DumpEntry{},
		Report:   report,
	}
	for _, e := range c.store.Complete().Entries() {
		de := DumpEntry{Key: e.Key, User: e.User, Derived: e.Derived}
		_, isRetired := retired[e.Key]
		failure, failed := report.Failed[e.Key]
		switch {
		case e.Active:
			de.Status = DumpActive
			out.Active = append(out.Active, de)
			continue
		case failed:
			de.Status = DumpFailed
			de.Reason = "derive failed: " + failure
		case isRetired:
			de.Status = DumpRetired
			de.Reason = "retired: no longer offered by the source"
		case !e.Eligibility.Eligible:
			de.Status = DumpIneligible
			de.Reason = fmt.Sprintf("ineligible: %s", e.Eligibility.Reason)
		default:
			de.Status = DumpRetired
			de.Reason = "not reconciled"
		}
		out.Filtered = append(out.Filtered, de)
	}
	for key, reason := range report.Ineligible {
		if c.store.Complete().Has(key) {
			continue
		}
		if out.Skipped == nil {
			out.Skipped = make(map[string]string)
		}
		out.Skipped[key] = "ineligible: " + reason
	}
	for key, reason := range report.Failed {
		if c.store.Complete().Has(key) {
			continue
		}
		if out.Skipped == nil {
			out.Skipped = make(map[string]string)
		}
		out.Skipped[key] = "derive failed: " + reason
	}
	sort.SliceStable(out.Filtered, func(i, j int) bool { return out.Filtered[i].Key < out.Filtered[j].Key })
	return out
}
