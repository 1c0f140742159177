package domain

type CommandType string

const (
	CmdPlayAction       CommandType = "PLAY_ACTION"
	CmdPlayTreasure     CommandType = "PLAY_TREASURE"
	CmdPlayAllTreasures CommandType = "PLAY_ALL_TREASURES"
	CmdBuyCard          CommandType = "BUY_CARD"
	CmdEndPhase         CommandType = "END_PHASE"
	CmdSubmitDecision   CommandType = "SUBMIT_DECISION"
	CmdRevealReaction   CommandType = "REVEAL_REACTION"
	CmdDeclineReaction  CommandType = "DECLINE_REACTION"
)

// Command is a player's request to change the game.
type Command struct {
	Type     CommandType `json:"type"`
	Player   string      `json:"player"`
	Card     CardName    `json:"card,omitempty"`
	Decision *Decision   `json:"decision,omitempty"`
}

func PlayAction(player string, card CardName) Command {
	return Command{Type: CmdPlayAction, Player: player, Card: card}
}

func PlayTreasure(player string, card CardName) Command {
	return Command{Type: CmdPlayTreasure, Player: player, Card: card}
}

func BuyCard(player string, card CardName) Command {
	return Command{Type: CmdBuyCard, Player: player, Card: card}
}

func EndPhase(player string) Command {
	return Command{Type: CmdEndPhase, Player: player}
}

func SubmitDecision(player string, d Decision) Command {
	return Command{Type: CmdSubmitDecision, Player: player, Decision: &d}
}

func RevealReaction(player string, card CardName) Command {
	return Command{Type: CmdRevealReaction, Player: player, Card: card}
}

func DeclineReaction(player string) Command {
	return Command{Type: CmdDeclineReaction, Player: player}
}
