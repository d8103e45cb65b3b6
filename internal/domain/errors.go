package domain

import "errors"

var (
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrNotInRoom      = errors.New("not in a room")
	ErrMemberNotFound = errors.New("member not found")
	ErrNotController  = errors.New("local role is not controller")
	ErrNoPermission   = errors.New("no control permission for target")
	ErrRoleLocked     = errors.New("permission role is locked")
	ErrNotOwner       = errors.New("only the room owner can do this")
	ErrNoSuchRequest  = errors.New("no such pending request")
	ErrInvalidCommand = errors.New("invalid command")
)

// JoinRefusedError — отказ хаба на этапе join-рукопожатия; Reason приходит
// из JoinResponse и показывается оператору как есть.
type JoinRefusedError struct {
	Reason string
}

func (e *JoinRefusedError) Error() string {
	if e.Reason == "" {
		return "join refused"
	}
	return "join refused: " + e.Reason
}
