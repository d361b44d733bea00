package retry

import (
	"fmt"
	"sort"
	"strings"
)

// Ledger counts failures per category within one episode. It is not safe for
// concurrent use; each episode owns its own.
type Ledger struct {
	counts map[Category]int
}

func NewLedger() *Ledger {
	return &Ledger{counts: map[Category]int{}}
}

func (l *Ledger) Record(c Category) {
	l.counts[c]++
}

func (l *Ledger) Count(c Category) int {
	return l.counts[c]
}

func (l *Ledger) Total() int {
	total := 0
	for _, n := range l.counts {
		total += n
	}
	return total
}

// Counts returns a copy keyed by category.
func (l *Ledger) Counts() map[Category]int {
	counts := make(map[Category]int, len(l.counts))
	for c, n := range l.counts {
		counts[c] = n
	}
	return counts
}

func (l *Ledger) String() string {
	categories := make([]Category, 0, len(l.counts))
	for c := range l.counts {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] > categories[j] })

	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, l.counts[c]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
