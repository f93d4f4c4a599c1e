package room

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomClosed join raced with the room's teardown; retry creates a
	// fresh room.
	ErrRoomClosed = errors.New("room closed")
)

// AlreadyLockedError element is held by another identity.
type AlreadyLockedError struct {
	Owner int64
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("element locked by user %d", e.Owner)
}

// NotOwnerError release attempted by a non-holder.
type NotOwnerError struct {
	Owner int64
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("lock held by user %d", e.Owner)
}
