package dispute

import (
	"sort"
	"time"

	"github.com/mbd888/chargeguard/internal/merchant"
)

// QueueItem is one open dispute with its readiness.
type QueueItem struct {
	Dispute   *Record   `json:"dispute"`
	Readiness Readiness `json:"readiness"`
}

// Queue is a merchant's open disputes in working order.
type Queue struct {
	Items    []QueueItem             `json:"items"`
	Blockers map[ReadinessReason]int `json:"blockers"`
	Ready    int                     `json:"ready"`
	Total    int                     `json:"total"`
}

// BuildQueue evaluates every open dispute and sorts by descending priority.
// Ties go to the earlier deadline, then the dispute id.
func BuildQueue(records []*Record, policy merchant.Policy, now time.Time) *Queue {
	q := &Queue{Blockers: make(map[ReadinessReason]int)}
	for _, r := range records {
		if !r.Open() {
			continue
		}
		rd := Evaluate(r, policy, now)
		q.Items = append(q.Items, QueueItem{Dispute: r, Readiness: rd})
		if rd.Ready {
			q.Ready++
		} else {
			q.Blockers[rd.Reason]++
		}
	}
	q.Total = len(q.Items)

	sort.SliceStable(q.Items, func(i, j int) bool {
		a, b := q.Items[i], q.Items[j]
		if a.Readiness.Priority != b.Readiness.Priority {
			return a.Readiness.Priority > b.Readiness.Priority
		}
		ad, bd := a.Dispute.DueBy, b.Dispute.DueBy
		switch {
		case ad != nil && bd != nil && !ad.Equal(*bd):
			return ad.Before(*bd)
		case ad != nil && bd == nil:
			return true
		case ad == nil && bd != nil:
			return false
		}
		return a.Dispute.ID < b.Dispute.ID
	})
	return q
}
