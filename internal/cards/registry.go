// Package cards holds the effect of every card as a table of pure stage
// functions. A stage function sees a read-only state and returns the events it
// wants appended, plus at most one choice that must be answered before the
// next stage runs.
package cards

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"dominion/internal/domain"
	"dominion/internal/projector"
)

// Context is everything a stage function may look at.
type Context struct {
	State domain.GameState
	// Player resolves the stage: the card's owner, or the target of an attack.
	Player       string
	Attacker     string
	Card         domain.CardName
	Stage        domain.Stage
	Decision     *domain.Decision
	Continuation domain.Continuation
}

// Result is the output of one stage.
type Result struct {
	Events  []domain.Payload
	Pending *domain.PendingChoice
	// Then is resolved before anything already queued.
	Then []domain.Resolution
}

type StageFunc func(ctx Context) (Result, error)

// Reaction is the outcome of revealing a reaction card.
type Reaction struct {
	Events []domain.Payload
	// Blocks cancels the attack for the revealing player.
	Blocks bool
}

type ReactFunc func(ctx Context) (Reaction, error)

type Definition struct {
	Card   domain.CardName
	Stages map[domain.Stage]StageFunc
	Attack map[domain.Stage]StageFunc
	React  ReactFunc
}

type Registry struct {
	defs map[domain.CardName]Definition
}

// NewRegistry returns a registry covering the whole catalogue.
func NewRegistry() *Registry {
	r := &Registry{defs: map[domain.CardName]Definition{}}
	for _, def := range baseDefinitions() {
		r.Register(def)
	}
	for _, def := range kingdomDefinitions() {
		r.Register(def)
	}
	for _, def := range attackDefinitions() {
		r.Register(def)
	}
	return r
}

func (r *Registry) Register(def Definition) {
	r.defs[def.Card] = def
}

func (r *Registry) Lookup(name domain.CardName) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Validate checks that every catalogue card has the tables its types need.
func (r *Registry) Validate() error {
	var errs []error
	for _, name := range domain.AllCards() {
		card := domain.MustCard(name)
		def, ok := r.defs[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: no definition", name))
			continue
		}
		playable := card.Is(domain.TypeAction) || card.Is(domain.TypeTreasure)
		if playable && def.Stages[domain.StageInitial] == nil {
			errs = append(errs, fmt.Errorf("%s: missing initial stage", name))
		}
		if card.Is(domain.TypeAttack) && def.Attack[domain.StageInitial] == nil {
			errs = append(errs, fmt.Errorf("%s: missing attack stage", name))
		}
		if card.Is(domain.TypeReaction) && def.React == nil {
			errs = append(errs, fmt.Errorf("%s: missing reaction", name))
		}
	}
	return errors.Join(errs...)
}

// Resolve runs one stage of a card for the given resolution kind.
func (r *Registry) Resolve(kind domain.ResolutionKind, ctx Context) (Result, error) {
	def, ok := r.defs[ctx.Card]
	if !ok {
		return Result{}, fmt.Errorf("no effect registered for %s", ctx.Card)
	}
	table := def.Stages
	if kind == domain.ResolveAttack {
		table = def.Attack
	}
	stage := ctx.Stage
	if stage == "" {
		stage = domain.StageInitial
		ctx.Stage = stage
	}
	fn, ok := table[stage]
	if !ok {
		return Result{}, fmt.Errorf("%s has no %s stage %q", ctx.Card, kind, stage)
	}
	return fn(ctx)
}

// React reveals a reaction card in response to an attack.
func (r *Registry) React(ctx Context) (Reaction, error) {
	def, ok := r.defs[ctx.Card]
	if !ok || def.React == nil {
		return Reaction{}, fmt.Errorf("%s is not a reaction", ctx.Card)
	}
	return def.React(ctx)
}

// Reactions lists the reaction cards in a player's hand.
func (r *Registry) Reactions(state domain.GameState, player string) []domain.CardName {
	pl := state.Player(player)
	if pl == nil {
		return nil
	}
	var out []domain.CardName
	for _, c := range pl.Hand {
		if def, ok := r.defs[c]; ok && def.React != nil {
			out = append(out, c)
		}
	}
	return out
}

// Draw returns the events that draw n cards for player, reshuffling when the
// deck runs out. Fewer cards are drawn when both deck and discard are empty.
func Draw(state domain.GameState, player string, n int) ([]domain.Payload, error) {
	e := begin(Context{State: state, Player: player})
	e.draw(player, n)
	res, err := e.done()
	return res.Events, err
}

// effect accumulates a stage's events against a private copy of the state.
type effect struct {
	ctx   Context
	state domain.GameState
	out   []domain.Payload
	then  []domain.Resolution
	rng   *rand.Rand
	err   error
}

func begin(ctx Context) *effect {
	s := ctx.State.Clone()
	return &effect{
		ctx:   ctx,
		state: s,
		rng:   rand.New(rand.NewPCG(uint64(s.Seed), uint64(s.EventCount))),
	}
}

func (e *effect) emit(ps ...domain.Payload) {
	for _, p := range ps {
		if e.err != nil {
			return
		}
		if err := projector.Step(&e.state, p); err != nil {
			e.err = fmt.Errorf("%s %s: %w", e.ctx.Card, e.ctx.Stage, err)
			return
		}
		e.out = append(e.out, p)
	}
}

func (e *effect) player(id string) *domain.PlayerState {
	return e.state.Player(id)
}

func (e *effect) me() *domain.PlayerState {
	return e.state.Player(e.ctx.Player)
}

func (e *effect) done() (Result, error) {
	if e.err != nil {
		return Result{}, e.err
	}
	return Result{Events: e.out, Then: e.then}, nil
}

// ask ends the stage with a decision for ctx.Player about ctx.Card.
func (e *effect) ask(c domain.PendingChoice) (Result, error) {
	if e.err != nil {
		return Result{}, e.err
	}
	c.Kind = domain.ChoiceDecision
	if c.Player == "" {
		c.Player = e.ctx.Player
	}
	if c.Card == "" {
		c.Card = e.ctx.Card
	}
	c.CardOptions = append([]domain.CardName(nil), c.CardOptions...)
	return Result{Events: e.out, Pending: &c, Then: e.then}, nil
}

func (e *effect) actions(n int) {
	if n != 0 {
		e.emit(domain.ActionsModified{Delta: n})
	}
}

func (e *effect) buys(n int) {
	if n != 0 {
		e.emit(domain.BuysModified{Delta: n})
	}
}

func (e *effect) coins(n int) {
	if n != 0 {
		e.emit(domain.CoinsModified{Delta: n})
	}
}

// gain takes card from the supply if any remain.
func (e *effect) gain(player string, card domain.CardName, to domain.Zone) bool {
	if e.state.Supply[card] <= 0 {
		return false
	}
	e.emit(domain.CardGained{Player: player, Card: card, To: to})
	return e.err == nil
}

func (e *effect) shuffle(player string) bool {
	pl := e.player(player)
	if pl == nil || len(pl.Discard) == 0 {
		return false
	}
	order := append([]domain.CardName(nil), pl.Discard...)
	e.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	e.emit(domain.DeckShuffled{Player: player, Order: order})
	return e.err == nil
}

func (e *effect) draw(player string, n int) int {
	drawn := 0
	for drawn < n && e.err == nil {
		pl := e.player(player)
		if pl == nil {
			break
		}
		if len(pl.Deck) == 0 {
			if !e.shuffle(player) {
				break
			}
			continue
		}
		k := min(n-drawn, len(pl.Deck))
		e.emit(domain.CardDrawn{Player: player, Count: k})
		drawn += k
	}
	return drawn
}

// top makes sure the deck has a top card, shuffling if needed.
func (e *effect) top(player string) (domain.CardName, bool) {
	pl := e.player(player)
	if pl == nil {
		return "", false
	}
	if len(pl.Deck) == 0 && !e.shuffle(player) {
		return "", false
	}
	pl = e.player(player)
	if len(pl.Deck) == 0 {
		return "", false
	}
	return pl.Deck[0], true
}

func (e *effect) reveal(player string, n int) []domain.CardName {
	var out []domain.CardName
	for len(out) < n && e.err == nil {
		c, ok := e.top(player)
		if !ok {
			break
		}
		e.emit(domain.CardRevealed{Player: player, Card: c})
		out = append(out, c)
	}
	return out
}

// gainable lists supply piles with cards left whose cost is at most maxCost.
func (e *effect) gainable(maxCost int, treasureOnly bool) []domain.CardName {
	var out []domain.CardName
	for _, name := range domain.AllCards() {
		count, ok := e.state.Supply[name]
		if !ok || count <= 0 || domain.CostOf(name) > maxCost {
			continue
		}
		if treasureOnly && !domain.IsType(name, domain.TypeTreasure) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func selected(ctx Context) []domain.CardName {
	if ctx.Decision == nil {
		return nil
	}
	return ctx.Decision.Selected
}

func ofType(cards []domain.CardName, t domain.CardType) []domain.CardName {
	var out []domain.CardName
	for _, c := range cards {
		if domain.IsType(c, t) {
			out = append(out, c)
		}
	}
	return out
}

func count(cards []domain.CardName, card domain.CardName) int {
	n := 0
	for _, c := range cards {
		if c == card {
			n++
		}
	}
	return n
}
