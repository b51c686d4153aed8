// Package resource holds the card kinds players collect and the bundle arithmetic shared by the
// rules engine and trade negotiation.
package resource

import (
	"fmt"
	"sort"
)

type Kind string

const (
	Brick  Kind = "brick"
	Lumber Kind = "lumber"
	Wool   Kind = "wool"
	Grain  Kind = "grain"
	Ore    Kind = "ore"
)

var All = []Kind{Brick, Lumber, Wool, Grain, Ore}

func Valid(k Kind) bool {
	for _, known := range All {
		if known == k {
			return true
		}
	}
	return false
}

// Bundle is a count per kind. Missing kinds count as zero.
type Bundle map[Kind]int

func Of(pairs ...any) Bundle {
	b := Bundle{}
	for i := 0; i+1 < len(pairs); i += 2 {
		b[pairs[i].(Kind)] += pairs[i+1].(int)
	}
	return b
}

func (b Bundle) Total() int {
	n := 0
	for _, v := range b {
		n += v
	}
	return n
}

func (b Bundle) Empty() bool { return b.Total() == 0 }

// Covers reports whether b holds at least need of every kind.
func (b Bundle) Covers(need Bundle) bool {
	for k, v := range need {
		if b[k] < v {
			return false
		}
	}
	return true
}

func (b Bundle) Add(o Bundle) {
	for k, v := range o {
		b[k] += v
	}
}

func (b Bundle) Sub(o Bundle) {
	for k, v := range o {
		b[k] -= v
	}
}

func (b Bundle) Clone() Bundle {
	c := make(Bundle, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// Validate rejects unknown kinds and negative counts.
func (b Bundle) Validate() error {
	for k, v := range b {
		if !Valid(k) {
			return fmt.Errorf("unknown resource %q", k)
		}
		if v < 0 {
			return fmt.Errorf("negative amount of %s", k)
		}
	}
	return nil
}

// Cards flattens b into one entry per card in a stable order.
func (b Bundle) Cards() []Kind {
	kinds := make([]Kind, 0, len(b))
	for k := range b {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	var out []Kind
	for _, k := range kinds {
		for i := 0; i < b[k]; i++ {
			out = append(out, k)
		}
	}
	return out
}
