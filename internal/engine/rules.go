package engine

import (
	"dominion/internal/cards"
	"dominion/internal/domain"
)

// decide turns cmd into events on t, or rejects it.
func (e *Engine) decide(t *txn, cmd domain.Command) error {
	s := &t.state
	if !s.Started() {
		return reject(CodeNotStarted, "game has not started")
	}
	if s.Over() {
		return reject(CodeGameOver, "game is over")
	}
	if s.Player(cmd.Player) == nil {
		return reject(CodeWrongPlayer, "unknown player %q", cmd.Player)
	}

	switch cmd.Type {
	case domain.CmdSubmitDecision:
		return e.submitDecision(t, cmd)
	case domain.CmdRevealReaction:
		return e.revealReaction(t, cmd)
	case domain.CmdDeclineReaction:
		return e.declineReaction(t, cmd)
	}

	if s.Pending != nil {
		return reject(CodePendingChoice, "waiting for %s to answer %s (%s)", s.Pending.Player, s.Pending.Card, s.Pending.ID)
	}
	if cmd.Player != s.ActivePlayer {
		return reject(CodeWrongPlayer, "it is %s's turn", s.ActivePlayer)
	}

	switch cmd.Type {
	case domain.CmdPlayAction:
		return e.playAction(t, cmd.Player, cmd.Card)
	case domain.CmdPlayTreasure:
		if err := checkTreasurePhase(s); err != nil {
			return err
		}
		return e.playTreasure(t, cmd.Player, cmd.Card)
	case domain.CmdPlayAllTreasures:
		return e.playAllTreasures(t, cmd.Player)
	case domain.CmdBuyCard:
		return buyCard(t, cmd.Player, cmd.Card)
	case domain.CmdEndPhase:
		return e.endPhase(t, cmd.Player)
	}
	return reject(CodeUnknownCommand, "unknown command %q", cmd.Type)
}

func (e *Engine) playAction(t *txn, player string, card domain.CardName) error {
	s := &t.state
	if s.Phase != domain.PhaseAction {
		return reject(CodeWrongPhase, "actions are played in the action phase, not %s", s.Phase)
	}
	c, ok := domain.Lookup(card)
	if !ok {
		return reject(CodeUnknownCard, "unknown card %q", card)
	}
	if !c.Is(domain.TypeAction) {
		return reject(CodeNotPlayable, "%s is not an action", card)
	}
	if !inHand(s, player, card) {
		return reject(CodeCardNotAvailable, "%s is not in %s's hand", card, player)
	}
	if s.Actions < 1 {
		return reject(CodeNoActions, "no actions left")
	}
	if err := t.append(domain.ActionsModified{Delta: -1}); err != nil {
		return err
	}
	if err := t.append(domain.CardPlayed{Player: player, Card: card, From: domain.ZoneHand}); err != nil {
		return err
	}
	return e.run(t, []domain.Resolution{{Kind: domain.ResolvePlay, Card: card, Player: player}})
}

// checkTreasurePhase allows treasures from the action phase (moving to buy)
// and the buy phase, but never after a card was bought this turn.
func checkTreasurePhase(s *domain.GameState) error {
	if s.Phase != domain.PhaseAction && s.Phase != domain.PhaseBuy {
		return reject(CodeWrongPhase, "treasures cannot be played in the %s phase", s.Phase)
	}
	if s.Bought > 0 {
		return reject(CodeWrongPhase, "treasures cannot be played after buying")
	}
	return nil
}

func (e *Engine) playTreasure(t *txn, player string, card domain.CardName) error {
	s := &t.state
	c, ok := domain.Lookup(card)
	if !ok {
		return reject(CodeUnknownCard, "unknown card %q", card)
	}
	if !c.Is(domain.TypeTreasure) {
		return reject(CodeNotPlayable, "%s is not a treasure", card)
	}
	if !inHand(s, player, card) {
		return reject(CodeCardNotAvailable, "%s is not in %s's hand", card, player)
	}
	if s.Phase == domain.PhaseAction {
		if err := t.append(domain.PhaseChanged{Phase: domain.PhaseBuy}); err != nil {
			return err
		}
	}
	if err := t.append(domain.CardPlayed{Player: player, Card: card, From: domain.ZoneHand}); err != nil {
		return err
	}
	return e.run(t, []domain.Resolution{{Kind: domain.ResolvePlay, Card: card, Player: player}})
}

func (e *Engine) playAllTreasures(t *txn, player string) error {
	if err := checkTreasurePhase(&t.state); err != nil {
		return err
	}
	var treasures []domain.CardName
	for _, c := range t.state.Player(player).Hand {
		if domain.IsType(c, domain.TypeTreasure) {
			treasures = append(treasures, c)
		}
	}
	for _, c := range treasures {
		if err := e.playTreasure(t, player, c); err != nil {
			return err
		}
		if t.state.Pending != nil {
			break
		}
	}
	return nil
}

func buyCard(t *txn, player string, card domain.CardName) error {
	s := &t.state
	if s.Phase != domain.PhaseBuy {
		return reject(CodeWrongPhase, "cards are bought in the buy phase, not %s", s.Phase)
	}
	c, ok := domain.Lookup(card)
	if !ok {
		return reject(CodeUnknownCard, "unknown card %q", card)
	}
	left, inSupply := s.Supply[card]
	if !inSupply {
		return reject(CodeUnknownCard, "%s is not in the supply", card)
	}
	if s.Buys < 1 {
		return reject(CodeNoBuys, "no buys left")
	}
	if left <= 0 {
		return reject(CodePileEmpty, "%s pile is empty", card)
	}
	if s.Coins < c.Cost {
		return reject(CodeInsufficientCoin, "%s costs %d, have %d", card, c.Cost, s.Coins)
	}
	if c.Cost > 0 {
		if err := t.append(domain.CoinsModified{Delta: -c.Cost}); err != nil {
			return err
		}
	}
	if err := t.append(domain.BuysModified{Delta: -1}); err != nil {
		return err
	}
	return t.append(domain.CardBought{Player: player, Card: card})
}

func (e *Engine) endPhase(t *txn, player string) error {
	switch t.state.Phase {
	case domain.PhaseAction:
		return t.append(domain.PhaseChanged{Phase: domain.PhaseBuy})
	case domain.PhaseBuy:
		return e.cleanup(t, player)
	}
	return reject(CodeWrongPhase, "cannot end the %s phase", t.state.Phase)
}

// cleanup discards everything, draws the next hand and hands the turn over,
// or ends the game.
func (e *Engine) cleanup(t *txn, player string) error {
	if err := t.append(domain.PhaseChanged{Phase: domain.PhaseCleanup}); err != nil {
		return err
	}
	pl := t.state.Player(player)
	inPlay := append([]domain.CardName(nil), pl.InPlay...)
	hand := append([]domain.CardName(nil), pl.Hand...)
	for _, c := range inPlay {
		if err := t.append(domain.CardDiscarded{Player: player, Card: c, From: domain.ZoneInPlay}); err != nil {
			return err
		}
	}
	for _, c := range hand {
		if err := t.append(domain.CardDiscarded{Player: player, Card: c, From: domain.ZoneHand}); err != nil {
			return err
		}
	}
	if err := e.draw(t, player, 5); err != nil {
		return err
	}
	if err := t.append(domain.TurnEnded{Player: player}); err != nil {
		return err
	}
	if gameOver(&t.state) {
		scores := cards.Scores(t.state)
		return t.append(domain.GameEnded{Scores: scores, Winners: winners(&t.state, scores)})
	}
	return t.append(domain.TurnStarted{Player: t.state.NextPlayer(player), Turn: t.state.Turn + 1})
}

func gameOver(s *domain.GameState) bool {
	if left, ok := s.Supply[domain.Province]; ok && left == 0 {
		return true
	}
	return s.EmptyPiles() >= 3
}

// winners has the highest score; ties go to whoever took fewer turns.
func winners(s *domain.GameState, scores map[string]int) []string {
	var out []string
	best, bestTurns := 0, 0
	for i, p := range s.Players {
		score := scores[p.ID]
		switch {
		case i == 0 || score > best || (score == best && p.Turns < bestTurns):
			out = []string{p.ID}
			best, bestTurns = score, p.Turns
		case score == best && p.Turns == bestTurns:
			out = append(out, p.ID)
		}
	}
	return out
}

func inHand(s *domain.GameState, player string, card domain.CardName) bool {
	pl := s.Player(player)
	if pl == nil {
		return false
	}
	for _, c := range pl.Hand {
		if c == card {
			return true
		}
	}
	return false
}
