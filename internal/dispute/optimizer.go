package dispute

import (
	"sort"
	"strings"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// Optimizer defaults.
const (
	DefaultMinCases      = 3
	DefaultMinWinRatePct = 30.0
)

// ReasonStats aggregates decided disputes for one reason code.
type ReasonStats struct {
	Reason     string  `json:"reason"`
	Cases      int     `json:"cases"`
	Wins       int     `json:"wins"`
	WinRatePct float64 `json:"winRatePct"`
}

// OptimizeOptions tunes what counts as a risky reason. MinCases below one
// selects the default. A nil MinWinRatePct selects the default; an explicit
// zero means no reason is ever risky on win rate alone.
type OptimizeOptions struct {
	MinCases      int      `json:"minCases"`
	MinWinRatePct *float64 `json:"minWinRatePct,omitempty"`
}

// WinRate returns opts with MinWinRatePct set to pct.
func (o OptimizeOptions) WinRate(pct float64) OptimizeOptions {
	o.MinWinRatePct = &pct
	return o
}

func (o OptimizeOptions) minWinRate() float64 {
	if o.MinWinRatePct == nil || *o.MinWinRatePct < 0 {
		return DefaultMinWinRatePct
	}
	return *o.MinWinRatePct
}

func (o OptimizeOptions) minCases() int {
	if o.MinCases <= 0 {
		return DefaultMinCases
	}
	return o.MinCases
}

// OptimizeResult is the optimizer's proposal.
type OptimizeResult struct {
	AllowList    []string      `json:"allowList"`
	RiskyReasons []string      `json:"riskyReasons"`
	Stats        []ReasonStats `json:"stats"`
	// KeptCurrent is set when dropping risky reasons would empty the list.
	KeptCurrent bool `json:"keptCurrent"`
	Changed     bool `json:"changed"`
}

// AggregateReasonStats counts won and lost disputes per reason code.
// Open disputes are not observations.
func AggregateReasonStats(records []*Record) []ReasonStats {
	byReason := make(map[string]*ReasonStats)
	for _, r := range records {
		class := r.Status.Class()
		if class == ClassOpen {
			continue
		}
		reason := strings.ToLower(r.ReasonCode)
		s, ok := byReason[reason]
		if !ok {
			s = &ReasonStats{Reason: reason}
			byReason[reason] = s
		}
		s.Cases++
		if class == ClassWon {
			s.Wins++
		}
	}

	out := make([]ReasonStats, 0, len(byReason))
	for _, s := range byReason {
		s.WinRatePct = float64(s.Wins) / float64(s.Cases) * 100
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}

// OptimizeReasons proposes a new allow-list: observed and current reasons
// minus those with enough cases and a win rate under the threshold. It
// never proposes an empty list, since empty means "allow everything".
func OptimizeReasons(stats []ReasonStats, current []string, opts OptimizeOptions) OptimizeResult {
	minCases, minWinRate := opts.minCases(), opts.minWinRate()
	current = merchant.NormalizeReasons(current)

	risky := make(map[string]bool)
	candidates := append([]string(nil), current...)
	for _, s := range stats {
		if s.Cases >= minCases && s.WinRatePct < minWinRate {
			risky[s.Reason] = true
			continue
		}
		candidates = append(candidates, s.Reason)
	}

	var next []string
	for _, r := range merchant.NormalizeReasons(candidates) {
		if !risky[r] {
			next = append(next, r)
		}
	}

	res := OptimizeResult{
		RiskyReasons: sortedKeys(risky),
		Stats:        stats,
	}
	if len(next) == 0 {
		res.AllowList = current
		res.KeptCurrent = true
		return res
	}
	res.AllowList = next
	res.Changed = !equalStrings(next, current)
	return res
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
