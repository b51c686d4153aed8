// Package trade implements player-to-player trade negotiation: offers addressed to one player or
// to everyone, with accept, decline, counter, cancel and timeout transitions.
//
// A Book lives inside the authoritative game state, so every transition here runs on the host
// as part of an accepted action and reaches peers through the next snapshot.
package trade

import (
	"errors"
	"slices"

	"github.com/DoyleJ11/settlers-relay/internal/resource"
)

var (
	ErrOfferNotFound         = errors.New("trade offer not found")
	ErrOfferClosed           = errors.New("trade offer is no longer pending")
	ErrNotRecipient          = errors.New("player is not a recipient of this offer")
	ErrNotAuthor             = errors.New("only the author can cancel an offer")
	ErrSelfTrade             = errors.New("cannot trade with yourself")
	ErrEmptyOffer            = errors.New("offer must give and request something")
	ErrInsufficientResources = errors.New("insufficient resources for trade")
	ErrAlreadyDeclined       = errors.New("offer already declined by this player")
	ErrNotExpired            = errors.New("offer has not timed out yet")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCountered Status = "countered"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Offer is what FromPlayerID gives (Offering) in exchange for what it wants (Requesting).
// An empty ToPlayerID addresses every other player.
type Offer struct {
	ID              string          `json:"id"`
	FromPlayerID    string          `json:"fromPlayerId"`
	ToPlayerID      string          `json:"toPlayerId,omitempty"`
	Offering        resource.Bundle `json:"offering"`
	Requesting      resource.Bundle `json:"requesting"`
	Status          Status          `json:"status"`
	DeclinedBy      []string        `json:"declinedBy,omitempty"`
	AcceptedBy      string          `json:"acceptedBy,omitempty"`
	OriginalOfferID string          `json:"originalOfferId,omitempty"`
	CreatedAt       int64           `json:"createdAt"`
	TimeoutMs       int64           `json:"timeoutMs"`
	ResolvedAt      int64           `json:"resolvedAt,omitempty"`
}

func (o Offer) Pending() bool { return o.Status == StatusPending }

func (o Offer) Deadline() int64 { return o.CreatedAt + o.TimeoutMs }

// Addressed reports whether player may respond to the offer.
func (o Offer) Addressed(player string) bool {
	if player == o.FromPlayerID {
		return false
	}
	return o.ToPlayerID == "" || o.ToPlayerID == player
}

func (o Offer) clone() Offer {
	o.Offering = o.Offering.Clone()
	o.Requesting = o.Requesting.Clone()
	o.DeclinedBy = slices.Clone(o.DeclinedBy)
	return o
}

// Affords reports whether player currently holds need.
type Affords func(player string, need resource.Bundle) bool

// Book is the ordered set of offers that are pending or recently resolved.
type Book struct {
	Offers []Offer `json:"offers"`
}

func (b Book) Clone() Book {
	out := Book{Offers: make([]Offer, len(b.Offers))}
	for i, o := range b.Offers {
		out.Offers[i] = o.clone()
	}
	return out
}

func (b Book) Get(id string) (Offer, bool) {
	if i := b.index(id); i >= 0 {
		return b.Offers[i].clone(), true
	}
	return Offer{}, false
}

// Active returns the pending offers in creation order.
func (b Book) Active() []Offer {
	var out []Offer
	for _, o := range b.Offers {
		if o.Pending() {
			out = append(out, o.clone())
		}
	}
	return out
}

func (b Book) index(id string) int {
	for i := range b.Offers {
		if b.Offers[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Book) pending(id string) (*Offer, error) {
	i := b.index(id)
	if i < 0 {
		return nil, ErrOfferNotFound
	}
	if !b.Offers[i].Pending() {
		return nil, ErrOfferClosed
	}
	return &b.Offers[i], nil
}

// Proposal describes a new offer.
type Proposal struct {
	ID         string
	From       string
	To         string
	Offering   resource.Bundle
	Requesting resource.Bundle
	Now        int64
	TimeoutMs  int64
}

func checkProposal(p Proposal) error {
	if p.To == p.From {
		return ErrSelfTrade
	}
	if err := p.Offering.Validate(); err != nil {
		return err
	}
	if err := p.Requesting.Validate(); err != nil {
		return err
	}
	if p.Offering.Empty() || p.Requesting.Empty() {
		return ErrEmptyOffer
	}
	return nil
}

// CheckPropose validates a proposal without recording it.
func (b Book) CheckPropose(p Proposal, afford Affords) error {
	if err := checkProposal(p); err != nil {
		return err
	}
	if !afford(p.From, p.Offering) {
		return ErrInsufficientResources
	}
	return nil
}

func (b *Book) Propose(p Proposal, afford Affords) (Offer, error) {
	if err := b.CheckPropose(p, afford); err != nil {
		return Offer{}, err
	}
	o := Offer{
		ID:           p.ID,
		FromPlayerID: p.From,
		ToPlayerID:   p.To,
		Offering:     p.Offering.Clone(),
		Requesting:   p.Requesting.Clone(),
		Status:       StatusPending,
		CreatedAt:    p.Now,
		TimeoutMs:    p.TimeoutMs,
	}
	b.Offers = append(b.Offers, o)
	return o.clone(), nil
}

// CheckAccept re-validates both hands against the offer as they are right now.
func (b Book) CheckAccept(id, by string, afford Affords) error {
	i := b.index(id)
	if i < 0 {
		return ErrOfferNotFound
	}
	o := b.Offers[i]
	if !o.Pending() {
		return ErrOfferClosed
	}
	if !o.Addressed(by) {
		return ErrNotRecipient
	}
	if slices.Contains(o.DeclinedBy, by) {
		return ErrAlreadyDeclined
	}
	if !afford(o.FromPlayerID, o.Offering) || !afford(by, o.Requesting) {
		return ErrInsufficientResources
	}
	return nil
}

// Accept closes the offer. Moving the cards is the caller's job; a failed check leaves the
// offer pending.
func (b *Book) Accept(id, by string, now int64, afford Affords) (Offer, error) {
	if err := b.CheckAccept(id, by, afford); err != nil {
		return Offer{}, err
	}
	o, _ := b.pending(id)
	o.Status = StatusAccepted
	o.AcceptedBy = by
	o.ResolvedAt = now
	return o.clone(), nil
}

func (b Book) CheckDecline(id, by string) error {
	i := b.index(id)
	if i < 0 {
		return ErrOfferNotFound
	}
	o := b.Offers[i]
	if !o.Pending() {
		return ErrOfferClosed
	}
	if !o.Addressed(by) {
		return ErrNotRecipient
	}
	if slices.Contains(o.DeclinedBy, by) {
		return ErrAlreadyDeclined
	}
	return nil
}

// Decline records by's refusal. A directed offer closes at once; an offer to everyone closes
// only when every other seated player has declined.
func (b *Book) Decline(id, by string, now int64, players []string) (Offer, error) {
	if err := b.CheckDecline(id, by); err != nil {
		return Offer{}, err
	}
	o, _ := b.pending(id)
	o.DeclinedBy = append(o.DeclinedBy, by)
	if o.ToPlayerID != "" || everyoneDeclined(*o, players) {
		o.Status = StatusDeclined
		o.ResolvedAt = now
	}
	return o.clone(), nil
}

func everyoneDeclined(o Offer, players []string) bool {
	for _, p := range players {
		if p == o.FromPlayerID {
			continue
		}
		if !slices.Contains(o.DeclinedBy, p) {
			return false
		}
	}
	return true
}

// CheckCounter validates a counter-offer from a recipient of id.
func (b Book) CheckCounter(id string, p Proposal, afford Affords) error {
	i := b.index(id)
	if i < 0 {
		return ErrOfferNotFound
	}
	o := b.Offers[i]
	if !o.Pending() {
		return ErrOfferClosed
	}
	if !o.Addressed(p.From) {
		return ErrNotRecipient
	}
	p.To = o.FromPlayerID
	return b.CheckPropose(p, afford)
}

// Counter closes id as countered and opens a new offer from the counter-party back to the
// original author, linked through OriginalOfferID.
func (b *Book) Counter(id string, p Proposal, afford Affords) (Offer, Offer, error) {
	if err := b.CheckCounter(id, p, afford); err != nil {
		return Offer{}, Offer{}, err
	}
	orig, _ := b.pending(id)
	orig.Status = StatusCountered
	orig.ResolvedAt = p.Now
	countered := orig.clone()

	p.To = countered.FromPlayerID
	created, err := b.Propose(p, afford)
	if err != nil {
		return Offer{}, Offer{}, err
	}
	last := &b.Offers[len(b.Offers)-1]
	last.OriginalOfferID = id
	created.OriginalOfferID = id
	return countered, created, nil
}

func (b Book) CheckCancel(id, by string) error {
	i := b.index(id)
	if i < 0 {
		return ErrOfferNotFound
	}
	if !b.Offers[i].Pending() {
		return ErrOfferClosed
	}
	if b.Offers[i].FromPlayerID != by {
		return ErrNotAuthor
	}
	return nil
}

func (b *Book) Cancel(id, by string, now int64) (Offer, error) {
	if err := b.CheckCancel(id, by); err != nil {
		return Offer{}, err
	}
	o, _ := b.pending(id)
	o.Status = StatusCancelled
	o.ResolvedAt = now
	return o.clone(), nil
}

func (b Book) CheckExpire(id string, now int64) error {
	i := b.index(id)
	if i < 0 {
		return ErrOfferNotFound
	}
	o := b.Offers[i]
	if !o.Pending() {
		return ErrOfferClosed
	}
	if now < o.Deadline() {
		return ErrNotExpired
	}
	return nil
}

func (b *Book) Expire(id string, now int64) (Offer, error) {
	if err := b.CheckExpire(id, now); err != nil {
		return Offer{}, err
	}
	o, _ := b.pending(id)
	o.Status = StatusExpired
	o.ResolvedAt = now
	return o.clone(), nil
}

// Prunable reports how many resolved offers are older than grace at now.
func (b Book) Prunable(now, grace int64) int {
	n := 0
	for _, o := range b.Offers {
		if !o.Pending() && now-o.ResolvedAt >= grace {
			n++
		}
	}
	return n
}

// Prune drops resolved offers whose grace period has elapsed and returns their ids.
func (b *Book) Prune(now, grace int64) []string {
	var removed []string
	kept := b.Offers[:0]
	for _, o := range b.Offers {
		if !o.Pending() && now-o.ResolvedAt >= grace {
			removed = append(removed, o.ID)
			continue
		}
		kept = append(kept, o)
	}
	b.Offers = kept
	return removed
}

// NextEvent returns the earliest time at which an offer expires or a resolved offer becomes
// prunable, and false if the book has nothing scheduled.
func (b Book) NextEvent(grace int64) (int64, bool) {
	var next int64
	found := false
	for _, o := range b.Offers {
		at := o.Deadline()
		if !o.Pending() {
			at = o.ResolvedAt + grace
		}
		if !found || at < next {
			next, found = at, true
		}
	}
	return next, found
}
