package engine

import "github.com/DoyleJ11/settlers-relay/internal/resource"

var (
	RoadCost       = resource.Of(resource.Brick, 1, resource.Lumber, 1)
	SettlementCost = resource.Of(resource.Brick, 1, resource.Lumber, 1, resource.Wool, 1, resource.Grain, 1)
	CityCost       = resource.Of(resource.Grain, 2, resource.Ore, 3)
)

func ownsRoadAt(s State, player string, v int) bool {
	for _, e := range s.Board.EdgesAt(v) {
		if s.Roads[e] == player {
			return true
		}
	}
	return false
}

func validateRoad(s State, player string, a BuildRoad) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	edge, ok := s.Board.edge(a.EdgeID)
	if !ok {
		return ErrIllegalPlacement
	}
	if _, taken := s.Roads[a.EdgeID]; taken {
		return ErrIllegalPlacement
	}
	roads, _, _ := s.pieces(player)
	if roads >= MaxRoads {
		return ErrNoPieces
	}
	connected := false
	for _, v := range []int{edge.A, edge.B} {
		b, built := s.Buildings[v]
		if built && b.Owner == player {
			connected = true
			break
		}
		// An opponent's building cuts the road network at that vertex.
		if !built && ownsRoadAt(s, player, v) {
			connected = true
			break
		}
	}
	if !connected {
		return ErrIllegalPlacement
	}
	if s.Free[player].Roads == 0 && !s.Hands[player].Covers(RoadCost) {
		return ErrInsufficientResources
	}
	return nil
}

func applyRoad(s *State, player string, a BuildRoad) []Event {
	s.Roads[a.EdgeID] = player
	if free := s.Free[player]; free.Roads > 0 {
		free.Roads--
		s.Free[player] = free
	} else {
		pay(s, player, RoadCost)
	}
	return []Event{{Type: EvtBuilt, PlayerID: player, Detail: "road", Amount: a.EdgeID}}
}

func validateSettlement(s State, player string, a BuildSettlement) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	v, ok := s.Board.vertex(a.VertexID)
	if !ok {
		return ErrIllegalPlacement
	}
	if _, taken := s.Buildings[a.VertexID]; taken {
		return ErrIllegalPlacement
	}
	for _, n := range v.Neighbors {
		if _, near := s.Buildings[n]; near {
			return ErrIllegalPlacement
		}
	}
	_, settlements, _ := s.pieces(player)
	if settlements >= MaxSettlements {
		return ErrNoPieces
	}
	if s.Free[player].Settlements > 0 {
		return nil
	}
	if !ownsRoadAt(s, player, a.VertexID) {
		return ErrIllegalPlacement
	}
	if !s.Hands[player].Covers(SettlementCost) {
		return ErrInsufficientResources
	}
	return nil
}

func applySettlement(s *State, player string, a BuildSettlement) []Event {
	s.Buildings[a.VertexID] = Building{Owner: player}
	if free := s.Free[player]; free.Settlements > 0 {
		free.Settlements--
		s.Free[player] = free
	} else {
		pay(s, player, SettlementCost)
	}
	events := []Event{{Type: EvtBuilt, PlayerID: player, Detail: "settlement", Amount: a.VertexID}}
	return append(events, checkVictory(s, player)...)
}

func validateCity(s State, player string, a BuildCity) error {
	if err := requirePhase(s, PhaseMain); err != nil {
		return err
	}
	b, ok := s.Buildings[a.VertexID]
	if !ok || b.Owner != player || b.City {
		return ErrIllegalPlacement
	}
	_, _, cities := s.pieces(player)
	if cities >= MaxCities {
		return ErrNoPieces
	}
	if !s.Hands[player].Covers(CityCost) {
		return ErrInsufficientResources
	}
	return nil
}

func applyCity(s *State, player string, a BuildCity) []Event {
	s.Buildings[a.VertexID] = Building{Owner: player, City: true}
	pay(s, player, CityCost)
	events := []Event{{Type: EvtBuilt, PlayerID: player, Detail: "city", Amount: a.VertexID}}
	return append(events, checkVictory(s, player)...)
}

func pay(s *State, player string, cost resource.Bundle) {
	s.Hands[player].Sub(cost)
	s.Bank.Add(cost)
}
