package cards

import "dominion/internal/domain"

type bonus struct {
	cards   int
	actions int
	buys    int
	coins   int
}

func (b bonus) apply(e *effect) {
	e.draw(e.ctx.Player, b.cards)
	e.actions(b.actions)
	e.buys(b.buys)
	e.coins(b.coins)
}

// simple builds a card with no decisions at all.
func simple(b bonus) StageFunc {
	return func(ctx Context) (Result, error) {
		e := begin(ctx)
		b.apply(e)
		return e.done()
	}
}

func only(fn StageFunc) map[domain.Stage]StageFunc {
	return map[domain.Stage]StageFunc{domain.StageInitial: fn}
}

func baseDefinitions() []Definition {
	return []Definition{
		{Card: domain.Copper, Stages: only(simple(bonus{coins: 1}))},
		{Card: domain.Silver, Stages: only(silver)},
		{Card: domain.Gold, Stages: only(simple(bonus{coins: 3}))},
		{Card: domain.Estate},
		{Card: domain.Duchy},
		{Card: domain.Province},
		{Card: domain.Gardens},
		{Card: domain.Curse},

		{Card: domain.Village, Stages: only(simple(bonus{cards: 1, actions: 2}))},
		{Card: domain.Smithy, Stages: only(simple(bonus{cards: 3}))},
		{Card: domain.Festival, Stages: only(simple(bonus{actions: 2, buys: 1, coins: 2}))},
		{Card: domain.Laboratory, Stages: only(simple(bonus{cards: 2, actions: 1}))},
		{Card: domain.Market, Stages: only(simple(bonus{cards: 1, actions: 1, buys: 1, coins: 1}))},
		{Card: domain.Merchant, Stages: only(merchant)},
		{Card: domain.CouncilRoom, Stages: only(councilRoom)},
		{Card: domain.Moat, Stages: only(simple(bonus{cards: 2})), React: moatReact},
	}
}

// silver pays out the Merchant bonus on the first Silver of the turn.
func silver(ctx Context) (Result, error) {
	e := begin(ctx)
	e.coins(2)
	if count(e.me().InPlay, domain.Silver) == 1 && e.state.SilverBonus > 0 {
		e.coins(e.state.SilverBonus)
	}
	return e.done()
}

func merchant(ctx Context) (Result, error) {
	e := begin(ctx)
	bonus{cards: 1, actions: 1}.apply(e)
	e.emit(domain.SilverBonusAdded{Amount: 1})
	return e.done()
}

func councilRoom(ctx Context) (Result, error) {
	e := begin(ctx)
	bonus{cards: 4, buys: 1}.apply(e)
	for _, other := range e.state.Opponents(ctx.Player) {
		e.draw(other, 1)
	}
	return e.done()
}

func moatReact(Context) (Reaction, error) {
	return Reaction{Blocks: true}, nil
}

// Scores counts victory points for every player.
func Scores(state domain.GameState) map[string]int {
	out := make(map[string]int, len(state.Players))
	for i := range state.Players {
		owned := state.Players[i].AllCards()
		vp := 0
		for _, c := range owned {
			if c == domain.Gardens {
				vp += len(owned) / 10
				continue
			}
			vp += domain.MustCard(c).VP
		}
		out[state.Players[i].ID] = vp
	}
	return out
}
