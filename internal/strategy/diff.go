package strategy

import (
	"reflect"
	"sort"
	"strings"

	"probe/internal/store"
)

// DiffConfig returns the set of fields that differ between from and to,
// keyed by field name, for recording as an EvolutionLogEntry.changes. Slice
// fields compare by sorted content so reordering alone is not a change.
func DiffConfig(from, to store.StrategyConfig) map[string]store.ConfigChange {
	changes := map[string]store.ConfigChange{}

	if !sameStringSet(from.Tools, to.Tools) {
		changes["tools"] = store.ConfigChange{From: from.Tools, To: to.Tools}
	}
	if from.SearchDepth != to.SearchDepth {
		changes["searchDepth"] = store.ConfigChange{From: from.SearchDepth, To: to.SearchDepth}
	}
	if from.TimeWindow != to.TimeWindow {
		changes["timeWindow"] = store.ConfigChange{From: from.TimeWindow, To: to.TimeWindow}
	}
	if from.SensoFirst != to.SensoFirst {
		changes["sensoFirst"] = store.ConfigChange{From: from.SensoFirst, To: to.SensoFirst}
	}
	if !reflect.DeepEqual(from.MaxFollowups, to.MaxFollowups) {
		changes["maxFollowups"] = store.ConfigChange{From: intPtrValue(from.MaxFollowups), To: intPtrValue(to.MaxFollowups)}
	}
	if from.ParallelSearches != to.ParallelSearches {
		changes["parallelSearches"] = store.ConfigChange{From: from.ParallelSearches, To: to.ParallelSearches}
	}
	if from.Model != to.Model {
		changes["model"] = store.ConfigChange{From: from.Model, To: to.Model}
	}
	if !sameStringSet(from.SummaryTemplates, to.SummaryTemplates) {
		changes["summaryTemplates"] = store.ConfigChange{From: from.SummaryTemplates, To: to.SummaryTemplates}
	}
	return changes
}

func sameStringSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	return strings.Join(sa, ",") == strings.Join(sb, ",")
}

func intPtrValue(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
