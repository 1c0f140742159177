package engine

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeNotStarted       Code = "not_started"
	CodeAlreadyStarted   Code = "already_started"
	CodeInvalidSetup     Code = "invalid_setup"
	CodeGameOver         Code = "game_over"
	CodeNotHost          Code = "not_host"
	CodeUnknownCommand   Code = "unknown_command"
	CodeWrongPlayer      Code = "wrong_player"
	CodeWrongPhase       Code = "wrong_phase"
	CodePendingChoice    Code = "pending_choice"
	CodeNoPendingChoice  Code = "no_pending_choice"
	CodeInvalidDecision  Code = "invalid_decision"
	CodeStaleDecision    Code = "stale_decision"
	CodeCardNotAvailable Code = "card_not_available"
	CodeNotPlayable      Code = "not_playable"
	CodeUnknownCard      Code = "unknown_card"
	CodeNoActions        Code = "no_actions"
	CodeNoBuys           Code = "no_buys"
	CodeInsufficientCoin Code = "insufficient_coins"
	CodePileEmpty        Code = "pile_empty"
	CodeUnknownEvent     Code = "unknown_event"
	CodeDesync           Code = "desync"
)

// Error is a rejected command or request. Nothing was appended.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func reject(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the rejection code of err, or "" for other errors.
func CodeOf(err error) Code {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

func IsRejection(err error) bool {
	return CodeOf(err) != ""
}
