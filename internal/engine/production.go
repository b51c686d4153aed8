package engine

import "github.com/DoyleJ11/settlers-relay/internal/resource"

// Produce computes the payout for a dice total. Each resource kind is settled on its own
// against the bank before anything moves: if the bank covers the total demand everyone is paid;
// if not and only one player is owed that kind, they get what the bank has; if several players
// are owed it, nobody gets any of it this roll. Withheld lists the kinds nobody received.
func Produce(s State, number int) (grants map[string]resource.Bundle, withheld []resource.Kind) {
	owed := map[string]resource.Bundle{}
	for _, h := range s.Board.Hexes {
		if h.Number != number || h.Resource == "" || h.ID == s.Robber {
			continue
		}
		for _, v := range s.Board.HexVertices(h.ID) {
			b, ok := s.Buildings[v]
			if !ok {
				continue
			}
			if owed[b.Owner] == nil {
				owed[b.Owner] = resource.Bundle{}
			}
			if b.City {
				owed[b.Owner][h.Resource] += 2
			} else {
				owed[b.Owner][h.Resource]++
			}
		}
	}

	grants = map[string]resource.Bundle{}
	grant := func(p string, k resource.Kind, n int) {
		if n <= 0 {
			return
		}
		if grants[p] == nil {
			grants[p] = resource.Bundle{}
		}
		grants[p][k] = n
	}

	for _, k := range resource.All {
		demand, recipients := 0, 0
		var only string
		for p, b := range owed {
			if b[k] > 0 {
				demand += b[k]
				recipients++
				only = p
			}
		}
		if demand == 0 {
			continue
		}
		supply := s.Bank[k]
		switch {
		case demand <= supply:
			for p, b := range owed {
				grant(p, k, b[k])
			}
		case recipients == 1:
			grant(only, k, supply)
			if supply == 0 {
				withheld = append(withheld, k)
			}
		default:
			withheld = append(withheld, k)
		}
	}
	return grants, withheld
}
