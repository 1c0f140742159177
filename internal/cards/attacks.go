package cards

import "dominion/internal/domain"

// Attack tables run once per target, with ctx.Player set to the target.
// Every choice they ask for belongs to that target.
func attackDefinitions() []Definition {
	return []Definition{
		{
			Card:   domain.Militia,
			Stages: only(simple(bonus{coins: 2})),
			Attack: map[domain.Stage]StageFunc{
				domain.StageInitial: militiaAttack,
				domain.StageDiscard: discardFrom(domain.ZoneHand),
			},
		},
		{
			Card:   domain.Witch,
			Stages: only(simple(bonus{cards: 2})),
			Attack: only(witchAttack),
		},
		{
			Card:   domain.Bureaucrat,
			Stages: only(bureaucrat),
			Attack: map[domain.Stage]StageFunc{
				domain.StageInitial: bureaucratAttack,
				domain.StageTopdeck: topdeckFrom(domain.ZoneHand),
			},
		},
		{
			Card:   domain.Bandit,
			Stages: only(bandit),
			Attack: map[domain.Stage]StageFunc{
				domain.StageInitial: banditAttack,
				domain.StageTrash:   banditTrash,
			},
		},
	}
}

func militiaAttack(ctx Context) (Result, error) {
	e := begin(ctx)
	hand := e.me().Hand
	if len(hand) <= 3 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageDiscard,
		Prompt:      "Discard down to 3 cards in hand",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Min:         len(hand) - 3,
		Max:         len(hand) - 3,
	})
}

func witchAttack(ctx Context) (Result, error) {
	e := begin(ctx)
	e.gain(ctx.Player, domain.Curse, domain.ZoneDiscard)
	return e.done()
}

func bureaucrat(ctx Context) (Result, error) {
	e := begin(ctx)
	e.gain(ctx.Player, domain.Silver, domain.ZoneDeck)
	return e.done()
}

func bureaucratAttack(ctx Context) (Result, error) {
	e := begin(ctx)
	victory := ofType(e.me().Hand, domain.TypeVictory)
	switch len(domain.Distinct(victory)) {
	case 0:
		return e.done()
	case 1:
		e.emit(domain.CardPutOnDeck{Player: ctx.Player, Card: victory[0], From: domain.ZoneHand})
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTopdeck,
		Prompt:      "Put a Victory card from your hand onto your deck",
		From:        domain.ZoneHand,
		CardOptions: victory,
		Min:         1,
		Max:         1,
	})
}

func bandit(ctx Context) (Result, error) {
	e := begin(ctx)
	e.gain(ctx.Player, domain.Gold, domain.ZoneDiscard)
	return e.done()
}

func banditTargets(revealed []domain.CardName) []domain.CardName {
	var out []domain.CardName
	for _, c := range ofType(revealed, domain.TypeTreasure) {
		if c != domain.Copper {
			out = append(out, c)
		}
	}
	return out
}

func banditAttack(ctx Context) (Result, error) {
	e := begin(ctx)
	revealed := e.reveal(ctx.Player, 2)
	targets := banditTargets(revealed)
	switch len(domain.Distinct(targets)) {
	case 0:
		return banditFinish(e, "")
	case 1:
		return banditFinish(e, targets[0])
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StageTrash,
		Prompt:       "Trash one of the revealed Treasures",
		From:         domain.ZoneRevealed,
		CardOptions:  targets,
		Min:          1,
		Max:          1,
		Continuation: domain.RevealedCards{Cards: revealed},
	})
}

func banditTrash(ctx Context) (Result, error) {
	e := begin(ctx)
	var trash domain.CardName
	if picked := selected(ctx); len(picked) > 0 {
		trash = picked[0]
	}
	return banditFinish(e, trash)
}

// banditFinish trashes one card (if any) and discards the rest of the reveal.
func banditFinish(e *effect, trash domain.CardName) (Result, error) {
	if trash != "" {
		e.emit(domain.CardTrashed{Player: e.ctx.Player, Card: trash, From: domain.ZoneRevealed})
	}
	rest := append([]domain.CardName(nil), e.me().Revealed...)
	for _, c := range rest {
		e.emit(domain.CardDiscarded{Player: e.ctx.Player, Card: c, From: domain.ZoneRevealed})
	}
	return e.done()
}
