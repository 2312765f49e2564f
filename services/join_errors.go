package services

import "errors"

type JoinErrorCode string

const (
	CodeInvalidPair        JoinErrorCode = "INVALID_PAIR"
	CodeNotFound           JoinErrorCode = "NOT_FOUND"
	CodeForbidden          JoinErrorCode = "FORBIDDEN"
	CodeAlreadyResolved    JoinErrorCode = "ALREADY_RESOLVED"
	CodeTableOccupied      JoinErrorCode = "TABLE_OCCUPIED"
	CodeExpired            JoinErrorCode = "EXPIRED"
	CodeWrongState         JoinErrorCode = "WRONG_STATE"
	CodeCodeSpaceExhausted JoinErrorCode = "CODE_SPACE_EXHAUSTED"
)

// JoinError is an expected outcome of concurrent use of the coordinator.
// Message is safe to show to guests and staff.
type JoinError struct {
	Code    JoinErrorCode
	Message string
}

func (e *JoinError) Error() string {
	return e.Message
}

var (
	ErrInvalidPair        = &JoinError{CodeInvalidPair, "Tables cannot be joined with each other"}
	ErrNotFound           = &JoinError{CodeNotFound, "Join request or session not found"}
	ErrForbidden          = &JoinError{CodeForbidden, "This table is not part of the join"}
	ErrAlreadyResolved    = &JoinError{CodeAlreadyResolved, "Someone else already acted on this request"}
	ErrTableOccupied      = &JoinError{CodeTableOccupied, "Table is already busy with another join"}
	ErrExpired            = &JoinError{CodeExpired, "The join has expired"}
	ErrWrongState         = &JoinError{CodeWrongState, "The join session was already confirmed or ended"}
	ErrCodeSpaceExhausted = &JoinError{CodeCodeSpaceExhausted, "No join code available right now, please retry"}
)

// JoinErrorCodeOf returns the JoinErrorCode carried by err, or "" when err is
// not a coordinator outcome.
func JoinErrorCodeOf(err error) JoinErrorCode {
	var je *JoinError
	if errors.As(err, &je) {
		return je.Code
	}
	return ""
}
