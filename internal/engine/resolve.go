package engine

import (
	"fmt"

	"dominion/internal/cards"
	"dominion/internal/domain"
)

// run resolves queued items until the queue is empty or a choice opens.
// An open choice carries the rest of the queue, so resolution can resume
// from the log alone.
func (e *Engine) run(t *txn, queue []domain.Resolution) error {
	for len(queue) > 0 && t.state.Pending == nil {
		item := queue[0]
		queue = queue[1:]

		if item.Kind == domain.ResolveReaction {
			options := e.registry.Reactions(t.state, item.Player)
			if len(options) == 0 {
				continue
			}
			return t.append(domain.DecisionRequired{Choice: domain.PendingChoice{
				Kind:        domain.ChoiceReaction,
				ID:          t.nextID(),
				Player:      item.Player,
				Source:      item,
				Card:        item.Card,
				Prompt:      fmt.Sprintf("%s played %s. Reveal a reaction?", item.Attacker, item.Card),
				From:        domain.ZoneHand,
				CardOptions: options,
				Max:         1,
				Queue:       queue,
			}})
		}

		res, err := e.registry.Resolve(item.Kind, cards.Context{
			State:    t.state,
			Player:   item.Player,
			Attacker: item.Attacker,
			Card:     item.Card,
			Stage:    domain.StageInitial,
		})
		if err != nil {
			return fmt.Errorf("resolve %s %s: %w", item.Kind, item.Card, err)
		}
		queue, err = e.absorb(t, item, res, queue, true)
		if err != nil {
			return err
		}
	}
	return nil
}

// absorb appends a stage result and returns the queue to continue with.
// When first is set and item plays an attack, every opponent in turn order
// gets a reaction window followed by the attack itself.
func (e *Engine) absorb(t *txn, item domain.Resolution, res cards.Result, rest []domain.Resolution, first bool) ([]domain.Resolution, error) {
	if err := t.appendAll(res.Events); err != nil {
		return nil, err
	}
	next := append([]domain.Resolution(nil), res.Then...)
	if first && item.Kind == domain.ResolvePlay && domain.IsType(item.Card, domain.TypeAttack) {
		for _, target := range t.state.Opponents(item.Player) {
			next = append(next,
				domain.Resolution{Kind: domain.ResolveReaction, Card: item.Card, Player: target, Attacker: item.Player},
				domain.Resolution{Kind: domain.ResolveAttack, Card: item.Card, Player: target, Attacker: item.Player},
			)
		}
	}
	next = append(next, rest...)
	if res.Pending == nil {
		return next, nil
	}
	choice := res.Pending.Clone()
	choice.ID = t.nextID()
	choice.Source = item
	choice.Queue = next
	return nil, t.append(domain.DecisionRequired{Choice: choice})
}

func (e *Engine) submitDecision(t *txn, cmd domain.Command) error {
	d := cmd.Decision
	if d == nil {
		return reject(CodeInvalidDecision, "decision is required")
	}
	open := t.state.Pending
	if open == nil {
		if d.ChoiceID != "" {
			return reject(CodeStaleDecision, "choice %s is no longer open", d.ChoiceID)
		}
		return reject(CodeNoPendingChoice, "nothing to decide")
	}
	if d.ChoiceID != "" && d.ChoiceID != open.ID {
		return reject(CodeStaleDecision, "choice %s is no longer open, %s is", d.ChoiceID, open.ID)
	}
	if d.Stage != "" && d.Stage != open.Stage {
		return reject(CodeStaleDecision, "stage %s does not match open stage %s", d.Stage, open.Stage)
	}
	if open.Kind != domain.ChoiceDecision {
		return reject(CodeInvalidDecision, "open choice is a reaction")
	}
	if cmd.Player != open.Player {
		return reject(CodeWrongPlayer, "choice %s belongs to %s", open.ID, open.Player)
	}
	if err := validateDecision(open, d); err != nil {
		return err
	}

	choice := open.Clone()
	err := t.append(domain.DecisionResolved{
		Player:      cmd.Player,
		ChoiceID:    choice.ID,
		Stage:       choice.Stage,
		Selected:    append([]domain.CardName(nil), d.Selected...),
		CardActions: append([]domain.CardAction(nil), d.CardActions...),
		Order:       append([]int(nil), d.Order...),
	})
	if err != nil {
		return err
	}
	res, err := e.registry.Resolve(choice.Source.Kind, cards.Context{
		State:        t.state,
		Player:       choice.Player,
		Attacker:     choice.Source.Attacker,
		Card:         choice.Source.Card,
		Stage:        choice.Stage,
		Decision:     d,
		Continuation: choice.Continuation,
	})
	if err != nil {
		return fmt.Errorf("resolve %s %s: %w", choice.Source.Card, choice.Stage, err)
	}
	queue, err := e.absorb(t, choice.Source, res, choice.Queue, false)
	if err != nil {
		return err
	}
	return e.run(t, queue)
}

// validateDecision checks the shape of d against the open choice.
func validateDecision(c *domain.PendingChoice, d *domain.Decision) error {
	n := len(d.Selected)
	if n < c.Min || n > c.Max {
		if c.Min == c.Max {
			return reject(CodeInvalidDecision, "select exactly %d card(s), got %d", c.Min, n)
		}
		return reject(CodeInvalidDecision, "select between %d and %d card(s), got %d", c.Min, c.Max, n)
	}
	if !domain.ContainsAll(c.CardOptions, d.Selected) {
		return reject(CodeCardNotAvailable, "selection %v is not within the offered cards %v", d.Selected, c.CardOptions)
	}
	if len(c.ActionOptions) > 0 {
		if len(d.CardActions) != n {
			return reject(CodeInvalidDecision, "an action is required for each selected card")
		}
		for _, a := range d.CardActions {
			if !offersAction(c, a) {
				return reject(CodeInvalidDecision, "action %q is not offered", a)
			}
		}
	} else if len(d.CardActions) > 0 {
		return reject(CodeInvalidDecision, "this choice takes no per-card actions")
	}
	if len(d.Order) > 0 {
		if !c.RequireOrder {
			return reject(CodeInvalidDecision, "this choice takes no card order")
		}
		if !isPermutation(d.Order, n) {
			return reject(CodeInvalidDecision, "card order must list each selected index once")
		}
	}
	return nil
}

func offersAction(c *domain.PendingChoice, a domain.CardAction) bool {
	for _, o := range c.ActionOptions {
		if o == a {
			return true
		}
	}
	return false
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}

func (e *Engine) openReaction(t *txn, cmd domain.Command) (domain.PendingChoice, error) {
	open := t.state.Pending
	if open == nil {
		return domain.PendingChoice{}, reject(CodeNoPendingChoice, "no reaction is open")
	}
	if open.Kind != domain.ChoiceReaction {
		return domain.PendingChoice{}, reject(CodeInvalidDecision, "open choice is a decision")
	}
	if cmd.Player != open.Player {
		return domain.PendingChoice{}, reject(CodeWrongPlayer, "reaction %s belongs to %s", open.ID, open.Player)
	}
	return open.Clone(), nil
}

func (e *Engine) revealReaction(t *txn, cmd domain.Command) error {
	choice, err := e.openReaction(t, cmd)
	if err != nil {
		return err
	}
	if !domain.ContainsAll(choice.CardOptions, []domain.CardName{cmd.Card}) || !inHand(&t.state, cmd.Player, cmd.Card) {
		return reject(CodeCardNotAvailable, "%s cannot be revealed", cmd.Card)
	}
	err = t.append(domain.ReactionRevealed{Player: cmd.Player, ChoiceID: choice.ID, Card: cmd.Card, Attack: choice.Card})
	if err != nil {
		return err
	}
	reaction, err := e.registry.React(cards.Context{
		State:    t.state,
		Player:   cmd.Player,
		Attacker: choice.Source.Attacker,
		Card:     cmd.Card,
	})
	if err != nil {
		return fmt.Errorf("react %s: %w", cmd.Card, err)
	}
	if err := t.appendAll(reaction.Events); err != nil {
		return err
	}
	queue := choice.Queue
	if reaction.Blocks {
		queue = dropAttack(queue, cmd.Player, choice.Source)
	}
	return e.run(t, queue)
}

func (e *Engine) declineReaction(t *txn, cmd domain.Command) error {
	choice, err := e.openReaction(t, cmd)
	if err != nil {
		return err
	}
	if err := t.append(domain.ReactionDeclined{Player: cmd.Player, ChoiceID: choice.ID, Attack: choice.Card}); err != nil {
		return err
	}
	return e.run(t, choice.Queue)
}

// dropAttack removes the attack the reaction window was opened for.
func dropAttack(queue []domain.Resolution, target string, window domain.Resolution) []domain.Resolution {
	for i, item := range queue {
		if item.Kind == domain.ResolveAttack && item.Player == target && item.Card == window.Card && item.Attacker == window.Attacker {
			out := append([]domain.Resolution(nil), queue[:i]...)
			return append(out, queue[i+1:]...)
		}
	}
	return queue
}
