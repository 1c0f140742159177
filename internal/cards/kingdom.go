package cards

import "dominion/internal/domain"

func kingdomDefinitions() []Definition {
	return []Definition{
		{Card: domain.Cellar, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: cellar,
			domain.StageDiscard: cellarDiscard,
		}},
		{Card: domain.Chapel, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: chapel,
			domain.StageTrash:   trashFrom(domain.ZoneHand),
		}},
		{Card: domain.Harbinger, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: harbinger,
			domain.StageTopdeck: topdeckFrom(domain.ZoneDiscard),
		}},
		{Card: domain.Vassal, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: vassal,
			domain.StagePlay:    playFrom(domain.ZoneDiscard, 1),
		}},
		{Card: domain.Workshop, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: workshop,
			domain.StageGain:    gainSelected,
		}},
		{Card: domain.Moneylender, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: moneylender,
			domain.StageTrash:   moneylenderTrash,
		}},
		{Card: domain.Poacher, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: poacher,
			domain.StageDiscard: discardFrom(domain.ZoneHand),
		}},
		{Card: domain.Remodel, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: remodel,
			domain.StageTrash:   remodelTrash,
			domain.StageGain:    gainSelected,
		}},
		{Card: domain.ThroneRoom, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: throneRoom,
			domain.StagePlay:    playFrom(domain.ZoneHand, 2),
		}},
		{Card: domain.Library, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial:  library,
			domain.StageSetAside: librarySetAside,
		}},
		{Card: domain.Mine, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: mine,
			domain.StageTrash:   mineTrash,
			domain.StageGain:    gainSelected,
		}},
		{Card: domain.Sentry, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: sentry,
			domain.StageTrash:   sentryTrash,
			domain.StageDiscard: sentryDiscard,
			domain.StageOrder:   sentryOrder,
			domain.StageSort:    sentrySort,
		}},
		{Card: domain.Artisan, Stages: map[domain.Stage]StageFunc{
			domain.StageInitial: artisan,
			domain.StageGain:    artisanGain,
			domain.StageTopdeck: topdeckFrom(domain.ZoneHand),
		}},
	}
}

func trashFrom(zone domain.Zone) StageFunc {
	return func(ctx Context) (Result, error) {
		e := begin(ctx)
		for _, c := range selected(ctx) {
			e.emit(domain.CardTrashed{Player: ctx.Player, Card: c, From: zone})
		}
		return e.done()
	}
}

func discardFrom(zone domain.Zone) StageFunc {
	return func(ctx Context) (Result, error) {
		e := begin(ctx)
		for _, c := range selected(ctx) {
			e.emit(domain.CardDiscarded{Player: ctx.Player, Card: c, From: zone})
		}
		return e.done()
	}
}

func topdeckFrom(zone domain.Zone) StageFunc {
	return func(ctx Context) (Result, error) {
		e := begin(ctx)
		for _, c := range selected(ctx) {
			e.emit(domain.CardPutOnDeck{Player: ctx.Player, Card: c, From: zone})
		}
		return e.done()
	}
}

// playFrom puts the chosen action in play and queues its effect times times.
func playFrom(zone domain.Zone, times int) StageFunc {
	return func(ctx Context) (Result, error) {
		e := begin(ctx)
		for _, c := range selected(ctx) {
			e.emit(domain.CardPlayed{Player: ctx.Player, Card: c, From: zone})
			for i := 0; i < times; i++ {
				e.then = append(e.then, domain.Resolution{Kind: domain.ResolvePlay, Card: c, Player: ctx.Player})
			}
		}
		return e.done()
	}
}

// gainSelected takes the chosen card within the budget carried from the previous stage.
func gainSelected(ctx Context) (Result, error) {
	e := begin(ctx)
	to := domain.ZoneDiscard
	if budget, ok := ctx.Continuation.(domain.GainBudget); ok && budget.To != "" {
		to = budget.To
	}
	for _, c := range selected(ctx) {
		e.gain(ctx.Player, c, to)
	}
	return e.done()
}

func cellar(ctx Context) (Result, error) {
	e := begin(ctx)
	e.actions(1)
	hand := e.me().Hand
	if len(hand) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageDiscard,
		Prompt:      "Discard any number of cards, then draw that many",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Min:         0,
		Max:         len(hand),
	})
}

func cellarDiscard(ctx Context) (Result, error) {
	e := begin(ctx)
	picked := selected(ctx)
	for _, c := range picked {
		e.emit(domain.CardDiscarded{Player: ctx.Player, Card: c, From: domain.ZoneHand})
	}
	e.draw(ctx.Player, len(picked))
	return e.done()
}

func chapel(ctx Context) (Result, error) {
	e := begin(ctx)
	hand := e.me().Hand
	if len(hand) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTrash,
		Prompt:      "Trash up to 4 cards from your hand",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Max:         min(4, len(hand)),
	})
}

func harbinger(ctx Context) (Result, error) {
	e := begin(ctx)
	bonus{cards: 1, actions: 1}.apply(e)
	discard := e.me().Discard
	if len(discard) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTopdeck,
		Prompt:      "You may put a card from your discard pile onto your deck",
		From:        domain.ZoneDiscard,
		CardOptions: discard,
		Max:         1,
	})
}

func vassal(ctx Context) (Result, error) {
	e := begin(ctx)
	e.coins(2)
	c, ok := e.top(ctx.Player)
	if !ok {
		return e.done()
	}
	e.emit(domain.CardDiscarded{Player: ctx.Player, Card: c, From: domain.ZoneDeck})
	if !domain.IsType(c, domain.TypeAction) {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StagePlay,
		Prompt:       "You may play the discarded " + string(c),
		From:         domain.ZoneDiscard,
		CardOptions:  []domain.CardName{c},
		Max:          1,
		Continuation: domain.CardRef{Card: c},
	})
}

func workshop(ctx Context) (Result, error) {
	return askGain(begin(ctx), domain.GainBudget{MaxCost: 4, To: domain.ZoneDiscard}, "Gain a card costing up to 4")
}

func askGain(e *effect, budget domain.GainBudget, prompt string) (Result, error) {
	options := e.gainable(budget.MaxCost, budget.TreasureOnly)
	if len(options) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StageGain,
		Prompt:       prompt,
		From:         domain.ZoneSupply,
		CardOptions:  options,
		Min:          1,
		Max:          1,
		Continuation: budget,
	})
}

func moneylender(ctx Context) (Result, error) {
	e := begin(ctx)
	if count(e.me().Hand, domain.Copper) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTrash,
		Prompt:      "You may trash a Copper for +3",
		From:        domain.ZoneHand,
		CardOptions: []domain.CardName{domain.Copper},
		Max:         1,
	})
}

func moneylenderTrash(ctx Context) (Result, error) {
	e := begin(ctx)
	for _, c := range selected(ctx) {
		e.emit(domain.CardTrashed{Player: ctx.Player, Card: c, From: domain.ZoneHand})
		e.coins(3)
	}
	return e.done()
}

func poacher(ctx Context) (Result, error) {
	e := begin(ctx)
	bonus{cards: 1, actions: 1, coins: 1}.apply(e)
	hand := e.me().Hand
	n := min(e.state.EmptyPiles(), len(hand))
	if n == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageDiscard,
		Prompt:      "Discard a card per empty supply pile",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Min:         n,
		Max:         n,
	})
}

func remodel(ctx Context) (Result, error) {
	e := begin(ctx)
	hand := e.me().Hand
	if len(hand) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTrash,
		Prompt:      "Trash a card from your hand",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Min:         1,
		Max:         1,
	})
}

func remodelTrash(ctx Context) (Result, error) {
	e := begin(ctx)
	picked := selected(ctx)
	if len(picked) == 0 {
		return e.done()
	}
	e.emit(domain.CardTrashed{Player: ctx.Player, Card: picked[0], From: domain.ZoneHand})
	budget := domain.GainBudget{MaxCost: domain.CostOf(picked[0]) + 2, To: domain.ZoneDiscard}
	return askGain(e, budget, "Gain a card costing up to 2 more than the trashed card")
}

func throneRoom(ctx Context) (Result, error) {
	e := begin(ctx)
	actions := ofType(e.me().Hand, domain.TypeAction)
	if len(actions) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StagePlay,
		Prompt:      "You may play an Action card from your hand twice",
		From:        domain.ZoneHand,
		CardOptions: actions,
		Max:         1,
	})
}

func library(ctx Context) (Result, error) {
	return libraryDraw(begin(ctx))
}

func librarySetAside(ctx Context) (Result, error) {
	e := begin(ctx)
	for _, c := range selected(ctx) {
		e.emit(domain.CardSetAside{Player: ctx.Player, Card: c, From: domain.ZoneHand})
	}
	return libraryDraw(e)
}

// libraryDraw draws to seven, stopping at each Action to offer setting it aside.
func libraryDraw(e *effect) (Result, error) {
	for e.err == nil && len(e.me().Hand) < 7 {
		if e.draw(e.ctx.Player, 1) == 0 {
			break
		}
		hand := e.me().Hand
		c := hand[len(hand)-1]
		if domain.IsType(c, domain.TypeAction) {
			return e.ask(domain.PendingChoice{
				Stage:        domain.StageSetAside,
				Prompt:       "You may set aside " + string(c),
				From:         domain.ZoneHand,
				CardOptions:  []domain.CardName{c},
				Max:          1,
				Continuation: domain.CardRef{Card: c},
			})
		}
	}
	aside := append([]domain.CardName(nil), e.me().Aside...)
	for _, c := range aside {
		e.emit(domain.CardDiscarded{Player: e.ctx.Player, Card: c, From: domain.ZoneAside})
	}
	return e.done()
}

func mine(ctx Context) (Result, error) {
	e := begin(ctx)
	treasures := ofType(e.me().Hand, domain.TypeTreasure)
	if len(treasures) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTrash,
		Prompt:      "You may trash a Treasure from your hand",
		From:        domain.ZoneHand,
		CardOptions: treasures,
		Max:         1,
	})
}

func mineTrash(ctx Context) (Result, error) {
	e := begin(ctx)
	picked := selected(ctx)
	if len(picked) == 0 {
		return e.done()
	}
	e.emit(domain.CardTrashed{Player: ctx.Player, Card: picked[0], From: domain.ZoneHand})
	budget := domain.GainBudget{MaxCost: domain.CostOf(picked[0]) + 3, TreasureOnly: true, To: domain.ZoneHand}
	return askGain(e, budget, "Gain a Treasure to your hand costing up to 3 more")
}

func sentry(ctx Context) (Result, error) {
	e := begin(ctx)
	bonus{cards: 1, actions: 1}.apply(e)
	revealed := e.reveal(ctx.Player, 2)
	if len(revealed) == 0 {
		return e.done()
	}
	if e.state.Rules.SentryPerCard {
		return e.ask(domain.PendingChoice{
			Stage:         domain.StageSort,
			Prompt:        "Trash, discard or put back each revealed card",
			From:          domain.ZoneRevealed,
			CardOptions:   revealed,
			Min:           len(revealed),
			Max:           len(revealed),
			ActionOptions: []domain.CardAction{domain.CardActionTrash, domain.CardActionDiscard, domain.CardActionTopdeck},
			Continuation:  domain.RevealedCards{Cards: revealed},
		})
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StageTrash,
		Prompt:       "Trash any of the revealed cards",
		From:         domain.ZoneRevealed,
		CardOptions:  revealed,
		Max:          len(revealed),
		Continuation: domain.RevealedCards{Cards: revealed},
	})
}

func sentryTrash(ctx Context) (Result, error) {
	e := begin(ctx)
	for _, c := range selected(ctx) {
		e.emit(domain.CardTrashed{Player: ctx.Player, Card: c, From: domain.ZoneRevealed})
	}
	rest := e.me().Revealed
	if e.err != nil || len(rest) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StageDiscard,
		Prompt:       "Discard any of the remaining cards",
		From:         domain.ZoneRevealed,
		CardOptions:  rest,
		Max:          len(rest),
		Continuation: domain.RevealedCards{Cards: rest},
	})
}

func sentryDiscard(ctx Context) (Result, error) {
	e := begin(ctx)
	for _, c := range selected(ctx) {
		e.emit(domain.CardDiscarded{Player: ctx.Player, Card: c, From: domain.ZoneRevealed})
	}
	rest := append([]domain.CardName(nil), e.me().Revealed...)
	switch {
	case e.err != nil || len(rest) == 0:
		return e.done()
	case len(rest) == 1:
		e.emit(domain.CardPutOnDeck{Player: ctx.Player, Card: rest[0], From: domain.ZoneRevealed})
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:        domain.StageOrder,
		Prompt:       "Choose the order to put the cards back, top card first",
		From:         domain.ZoneRevealed,
		CardOptions:  rest,
		Min:          len(rest),
		Max:          len(rest),
		RequireOrder: true,
		Continuation: domain.RevealedCards{Cards: rest},
	})
}

func sentryOrder(ctx Context) (Result, error) {
	e := begin(ctx)
	if ctx.Decision != nil {
		putBack(e, ctx.Decision.Ordered())
	}
	return e.done()
}

// sentrySort applies one sub-action per card. Cards put back keep their
// selection order, first selected on top.
func sentrySort(ctx Context) (Result, error) {
	e := begin(ctx)
	if ctx.Decision == nil {
		return e.done()
	}
	var back []domain.CardName
	for i, c := range ctx.Decision.Selected {
		switch ctx.Decision.CardActions[i] {
		case domain.CardActionTrash:
			e.emit(domain.CardTrashed{Player: ctx.Player, Card: c, From: domain.ZoneRevealed})
		case domain.CardActionDiscard:
			e.emit(domain.CardDiscarded{Player: ctx.Player, Card: c, From: domain.ZoneRevealed})
		case domain.CardActionTopdeck:
			back = append(back, c)
		}
	}
	putBack(e, back)
	return e.done()
}

// putBack places cards on the deck so that order[0] ends on top.
func putBack(e *effect, order []domain.CardName) {
	for i := len(order) - 1; i >= 0; i-- {
		e.emit(domain.CardPutOnDeck{Player: e.ctx.Player, Card: order[i], From: domain.ZoneRevealed})
	}
}

func artisan(ctx Context) (Result, error) {
	e := begin(ctx)
	res, err := askGain(e, domain.GainBudget{MaxCost: 5, To: domain.ZoneHand}, "Gain a card to your hand costing up to 5")
	if err != nil || res.Pending != nil {
		return res, err
	}
	return artisanTopdeck(e)
}

func artisanGain(ctx Context) (Result, error) {
	e := begin(ctx)
	for _, c := range selected(ctx) {
		e.gain(ctx.Player, c, domain.ZoneHand)
	}
	return artisanTopdeck(e)
}

func artisanTopdeck(e *effect) (Result, error) {
	hand := e.me().Hand
	if e.err != nil || len(hand) == 0 {
		return e.done()
	}
	return e.ask(domain.PendingChoice{
		Stage:       domain.StageTopdeck,
		Prompt:      "Put a card from your hand onto your deck",
		From:        domain.ZoneHand,
		CardOptions: hand,
		Min:         1,
		Max:         1,
	})
}
