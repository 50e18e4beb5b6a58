// Package leaderboard ranks ledger entries.
package leaderboard

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/onnwee/sphinx-bot/ledger"
)

// DefaultSize is how many places the chat leaderboards show.
const DefaultSize = 5

// ErrNoEntries is returned when no entry has a positive value.
var ErrNoEntries = errors.New("leaderboard: no entries")

// Ranked is one leaderboard place, 1-based.
type Ranked struct {
	Rank     int
	Username string
	Value    int64
}

// TopN keeps entries with a positive value, sorts them by value descending
// and returns at most n of them. Ties keep their input order, and every
// ledger backend lists entries in insertion order, so the earliest user to
// appear in a ledger wins a tie.
func TopN(entries []ledger.Entry, n int) ([]Ranked, error) {
	if n <= 0 {
		n = DefaultSize
	}
	kept := make([]ledger.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Value > 0 {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoEntries
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Value > kept[j].Value })
	if len(kept) > n {
		kept = kept[:n]
	}
	out := make([]Ranked, len(kept))
	for i, e := range kept {
		out[i] = Ranked{Rank: i + 1, Username: e.Username, Value: e.Value}
	}
	return out, nil
}

// Format renders places as "1. user — 30 <unit>" joined by " | ".
func Format(places []Ranked, unit string) string {
	lines := make([]string, len(places))
	for i, p := range places {
		lines[i] = fmt.Sprintf("%d. %s — %d %s", p.Rank, p.Username, p.Value, unit)
	}
	return strings.Join(lines, " | ")
}
