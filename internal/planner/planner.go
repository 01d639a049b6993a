package planner

import (
	"errors"
	"sort"
)

var (
	ErrWindowBooked    = errors.New("window has an active booking")
	ErrSplitAtBoundary = errors.New("split point must be strictly inside the window")
)

// Interval is one open window of a day, in minutes from local midnight.
type Interval struct {
	ID     int64 `json:"id"`
	Start  int   `json:"start_minute"`
	End    int   `json:"end_minute"`
	Booked bool  `json:"booked"`
}

// Merged is the result of folding one or more windows together. ID is the
// surviving window; Absorbed lists the windows folded into it and Gaps the
// stretches between them that become open.
type Merged struct {
	Interval
	Absorbed []int64 `json:"absorbed,omitempty"`
	Gaps     []Gap   `json:"gaps,omitempty"`
}

type Gap struct {
	Start    int   `json:"start_minute"`
	End      int   `json:"end_minute"`
	BeforeID int64 `json:"before_window_id"`
	AfterID  int64 `json:"after_window_id"`
}

func (g Gap) Duration() int {
	return g.End - g.Start
}

type Suggestion struct {
	WindowID int64 `json:"window_id"`
	Start    int   `json:"start_minute"`
	End      int   `json:"end_minute"`
}

func sorted(windows []Interval) []Interval {
	out := make([]Interval, len(windows))
	copy(out, windows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Merge folds windows that touch or are separated by at most tolerance
// minutes, in a single left-to-right pass. Booked windows never merge.
func Merge(windows []Interval, tolerance int) []Merged {
	if tolerance < 0 {
		tolerance = 0
	}

	var out []Merged
	for _, w := range sorted(windows) {
		if n := len(out); n > 0 {
			cur := &out[n-1]
			if !cur.Booked && !w.Booked && w.Start-cur.End <= tolerance {
				if w.Start > cur.End {
					cur.Gaps = append(cur.Gaps, Gap{Start: cur.End, End: w.Start, BeforeID: lastMember(cur), AfterID: w.ID})
				}
				if w.End > cur.End {
					cur.End = w.End
				}
				cur.Absorbed = append(cur.Absorbed, w.ID)
				continue
			}
		}
		out = append(out, Merged{Interval: w})
	}
	return out
}

func lastMember(m *Merged) int64 {
	if len(m.Absorbed) > 0 {
		return m.Absorbed[len(m.Absorbed)-1]
	}
	return m.ID
}

// Split cuts w at minute at.
func Split(w Interval, at int) (Interval, Interval, error) {
	if w.Booked {
		return Interval{}, Interval{}, ErrWindowBooked
	}
	if at <= w.Start || at >= w.End {
		return Interval{}, Interval{}, ErrSplitAtBoundary
	}
	left := Interval{ID: w.ID, Start: w.Start, End: at}
	right := Interval{Start: at, End: w.End}
	return left, right, nil
}

// FindGaps reports the gaps of at least minDuration minutes between
// consecutive windows.
func FindGaps(windows []Interval, minDuration int) []Gap {
	ws := sorted(windows)
	var gaps []Gap
	for i := 1; i < len(ws); i++ {
		prev, next := ws[i-1], ws[i]
		g := Gap{Start: prev.End, End: next.Start, BeforeID: prev.ID, AfterID: next.ID}
		if g.Duration() > 0 && g.Duration() >= minDuration {
			gaps = append(gaps, g)
		}
	}
	return gaps
}

// SuggestSlots tiles every unbooked window into back-to-back lessons of
// duration minutes. A trailing remainder shorter than duration is dropped.
func SuggestSlots(windows []Interval, duration int) []Suggestion {
	if duration <= 0 {
		return nil
	}
	var out []Suggestion
	for _, w := range sorted(windows) {
		if w.Booked {
			continue
		}
		for start := w.Start; start+duration <= w.End; start += duration {
			out = append(out, Suggestion{WindowID: w.ID, Start: start, End: start + duration})
		}
	}
	return out
}
