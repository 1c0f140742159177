package consensus

import "dominion/internal/domain"

// Ballot walks one choice through rounds of voting. Each round settles a
// single atomic action; the choice is answered once the ballot is complete.
type Ballot struct {
	Choice  domain.PendingChoice `json:"choice"`
	Decided []Action             `json:"decided,omitempty"`
	closed  bool
}

func NewBallot(choice domain.PendingChoice) *Ballot {
	return &Ballot{Choice: choice.Clone()}
}

// Options lists the actions open in the current round.
func (b *Ballot) Options() []Action {
	if b.closed {
		return nil
	}
	return Decompose(b.Choice, b.Decided)
}

// Record settles the current round with a. It reports whether the ballot is
// complete.
func (b *Ballot) Record(a Action) (bool, error) {
	if !isOption(b.Options(), a) {
		return b.closed, invalid("%s is not open on choice %s", a, b.Choice.ID)
	}
	if a.Type == ActionSkip {
		b.closed = true
		return true, nil
	}
	b.Decided = append(b.Decided, a)
	switch a.Type {
	case ActionReveal, ActionDecline:
		b.closed = true
	default:
		b.closed = len(Decompose(b.Choice, b.Decided)) == 0
	}
	return b.closed, nil
}

// Vote tallies one round of votes and records the winner.
func (b *Ballot) Vote(votes []Action) (Action, bool, error) {
	open := b.Options()
	var valid []Action
	for _, v := range votes {
		if isOption(open, v) {
			valid = append(valid, v)
		}
	}
	winner, ok := Tally(valid)
	if !ok {
		return Action{}, false, invalid("no valid votes for choice %s", b.Choice.ID)
	}
	done, err := b.Record(winner)
	return winner, done, err
}

func (b *Ballot) Done() bool { return b.closed }

// Command assembles the decided actions into the answering command.
func (b *Ballot) Command() (domain.Command, error) {
	return Assemble(b.Choice, b.Decided...)
}

func isOption(options []Action, a Action) bool {
	for _, o := range options {
		if o == a {
			return true
		}
	}
	return false
}
