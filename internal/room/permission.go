package room

import (
	"whiteboard-backend/internal/model"
)

// Permissions is the effective capability of a (board, user) pair. It is
// pushed to clients as the room-permissions payload.
type Permissions struct {
	Role    model.BoardRole `json:"role"`
	CanEdit bool            `json:"canEdit"`
	Locked  bool            `json:"locked"`
}

// Resolve computes the effective role and edit capability.
//
// Rule order: the board creator is OWNER unconditionally, even against a
// stale roles entry; otherwise the assigned role applies; otherwise VIEWER.
// A locked board suspends EDITOR capability but never the owner's.
func Resolve(ownerID int64, roles map[int64]model.BoardRole, locked bool, userID int64) Permissions {
	role := model.RoleViewer
	if userID == ownerID {
		role = model.RoleOwner
	} else if r, ok := roles[userID]; ok && r.Valid() {
		role = r
	}

	return Permissions{
		Role:    role,
		CanEdit: role == model.RoleOwner || (role == model.RoleEditor && !locked),
		Locked:  locked,
	}
}
