package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/DoyleJ11/settlers-relay/internal/engine"
	"github.com/DoyleJ11/settlers-relay/internal/resource"
)

var errUsage = errors.New("unknown command, try: help")

// parseAction turns one input line into a game action.
func parseAction(fields []string) (engine.Action, error) {
	if len(fields) == 0 {
		return nil, errUsage
	}
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	num := func(i int) (int, error) {
		n, err := strconv.Atoi(arg(i))
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", arg(i))
		}
		return n, nil
	}

	switch fields[0] {
	case "roll":
		return engine.RollDice{}, nil
	case "end":
		return engine.EndTurn{}, nil
	case "discard":
		b, err := parseBundle(arg(1))
		return engine.Discard{Resources: b}, err
	case "robber":
		hex, err := num(1)
		return engine.MoveRobber{HexID: hex, VictimID: arg(2)}, err
	case "road":
		id, err := num(1)
		return engine.BuildRoad{EdgeID: id}, err
	case "settle":
		id, err := num(1)
		return engine.BuildSettlement{VertexID: id}, err
	case "city":
		id, err := num(1)
		return engine.BuildCity{VertexID: id}, err
	case "bank":
		amount, err := num(2)
		return engine.BankTrade{Give: resource.Kind(arg(1)), GiveAmount: amount, Receive: resource.Kind(arg(3))}, err
	case "propose":
		to := arg(1)
		if to == "*" {
			to = ""
		}
		offering, err := parseBundle(arg(2))
		if err != nil {
			return nil, err
		}
		requesting, err := parseBundle(arg(3))
		return engine.ProposeTrade{ToPlayerID: to, Offering: offering, Requesting: requesting}, err
	case "counter":
		offering, err := parseBundle(arg(2))
		if err != nil {
			return nil, err
		}
		requesting, err := parseBundle(arg(3))
		return engine.CounterTrade{OfferID: arg(1), Offering: offering, Requesting: requesting}, err
	case "accept":
		return engine.AcceptTrade{OfferID: arg(1)}, nil
	case "decline":
		return engine.DeclineTrade{OfferID: arg(1)}, nil
	case "cancel":
		return engine.CancelTrade{OfferID: arg(1)}, nil
	}
	return nil, errUsage
}

// parseBundle reads "brick=1,ore=2".
func parseBundle(s string) (resource.Bundle, error) {
	b := resource.Bundle{}
	if s == "" {
		return b, nil
	}
	for _, part := range strings.Split(s, ",") {
		kind, count, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("bad resource %q, want kind=count", part)
		}
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad count in %q", part)
		}
		k := resource.Kind(strings.ToLower(strings.TrimSpace(kind)))
		if !resource.Valid(k) {
			return nil, fmt.Errorf("unknown resource %q", kind)
		}
		b[k] += n
	}
	return b, nil
}

const help = `lobby: color <c> | ready | unready | start | chat <text> | leave
game:  roll | end | discard brick=1,ore=1 | robber <hex> [victim] | road <edge> | settle <vertex>
       city <vertex> | bank <give> <amount> <receive> | propose <player|*> <offer> <request>
       accept|decline|cancel <offer> | counter <offer> <offer> <request>
other: state | help | quit`
