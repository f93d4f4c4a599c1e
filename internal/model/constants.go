package model

// BoardRole 보드 역할
type BoardRole string

const (
	RoleOwner  BoardRole = "OWNER"
	RoleEditor BoardRole = "EDITOR"
	RoleViewer BoardRole = "VIEWER"
)

func (r BoardRole) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r BoardRole) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Assignable reports whether r may be assigned via moderation.
// OWNER is derived from the board creator and never assigned.
func (r BoardRole) Assignable() bool {
	return r == RoleEditor || r == RoleViewer
}

// ElementType 요소 타입
type ElementType string

const (
	ElementPencil    ElementType = "pencil"
	ElementRectangle ElementType = "rectangle"
	ElementCircle    ElementType = "circle"
	ElementTriangle  ElementType = "triangle"
	ElementLine      ElementType = "line"
	ElementText      ElementType = "text"
)

func (t ElementType) String() string {
	return string(t)
}

// Valid reports whether t is one of the closed set of element types.
func (t ElementType) Valid() bool {
	switch t {
	case ElementPencil, ElementRectangle, ElementCircle, ElementTriangle, ElementLine, ElementText:
		return true
	}
	return false
}
