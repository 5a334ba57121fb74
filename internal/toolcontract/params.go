// Package toolcontract wraps every external tool call (search, evaluate,
// extract) so each reads the active strategy from the ambient
// EpisodeContext and adapts its behavior accordingly (§4.4).
package toolcontract

import "probe/internal/store"

// ResultCount is the search result count per §4.4/§3: shallow:2, standard:3, deep:5.
func ResultCount(depth store.SearchDepth) int {
	switch depth {
	case store.DepthShallow:
		return 2
	case store.DepthDeep:
		return 5
	default:
		return 3
	}
}

// SummaryCharBudget is the per-result summary size in characters.
func SummaryCharBudget(depth store.SearchDepth) int {
	switch depth {
	case store.DepthShallow:
		return 4000
	case store.DepthDeep:
		return 12000
	default:
		return 8000
	}
}

// EvaluateCriteria is the evaluator selectivity preset.
func EvaluateCriteria(depth store.SearchDepth) string {
	switch depth {
	case store.DepthShallow:
		return "selective"
	case store.DepthDeep:
		return "inclusive"
	default:
		return "balanced"
	}
}

// defaultFollowups is searchDepth's default followupsPerResult (0/1/2).
func defaultFollowups(depth store.SearchDepth) int {
	switch depth {
	case store.DepthShallow:
		return 0
	case store.DepthDeep:
		return 2
	default:
		return 1
	}
}

// FollowupsPerResult is maxFollowups clamped against searchDepth's default
// when the strategy sets an explicit cap, else the depth default (§4.3,§4.4).
func FollowupsPerResult(cfg store.StrategyConfig) int {
	def := defaultFollowups(cfg.SearchDepth)
	if cfg.MaxFollowups == nil {
		return def
	}
	if *cfg.MaxFollowups < def {
		return *cfg.MaxFollowups
	}
	return def
}

// defaultMaxTotalFollowups is the running-total follow-up ceiling used to
// gate PHASE2_SEARCH, distinct from defaultFollowups (the per-extract cap):
// a depth that permits 1-2 follow-ups per source can still accumulate many
// more than that across several relevant results in phase 1.
func defaultMaxTotalFollowups(depth store.SearchDepth) int {
	switch depth {
	case store.DepthShallow:
		return 0
	case store.DepthDeep:
		return 8
	default:
		return 4
	}
}

// MaxTotalFollowups is the running follow-up total PHASE2_SEARCH compares
// against (§4.3): config.maxFollowups clamped against searchDepth's default
// when set and more restrictive, else the depth default.
func MaxTotalFollowups(cfg store.StrategyConfig) int {
	def := defaultMaxTotalFollowups(cfg.SearchDepth)
	if cfg.MaxFollowups == nil {
		return def
	}
	if *cfg.MaxFollowups < def {
		return *cfg.MaxFollowups
	}
	return def
}

// ReformulationCount is how many query reformulations PHASE1_SEARCH issues
// (§4.3: "2-3 query reformulations ... count is derived from searchDepth").
func ReformulationCount(depth store.SearchDepth) int {
	switch depth {
	case store.DepthShallow:
		return 2
	case store.DepthDeep:
		return 3
	default:
		return 2
	}
}
