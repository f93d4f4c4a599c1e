package model

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidElement = errors.New("invalid element payload")

// Point 자유곡선 좌표
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element 클라이언트와 주고받는 보드 요소 (wire format)
//
// ID is generated by the drawing client and stays stable for the element's
// lifetime; updates replace by id, never duplicate. Geometry is either the
// (X1,Y1)-(X2,Y2) bounding pair or Points for freehand strokes.
type Element struct {
	ID          string      `json:"id"`
	Type        ElementType `json:"type"`
	X1          float64     `json:"x1"`
	Y1          float64     `json:"y1"`
	X2          float64     `json:"x2"`
	Y2          float64     `json:"y2"`
	Points      []Point     `json:"points,omitempty"`
	Stroke      string      `json:"stroke,omitempty"`
	StrokeWidth float64     `json:"strokeWidth,omitempty"`
	Fill        *string     `json:"fill,omitempty"`
	Text        *string     `json:"text,omitempty"`
	IsDeleted   bool        `json:"isDeleted,omitempty"`
	DeletedAt   *time.Time  `json:"deletedAt,omitempty"`
	DeletedBy   *int64      `json:"deletedBy,omitempty"`
}

// Validate checks the closed type set and the id token.
func (e *Element) Validate() error {
	if e.ID == "" || len(e.ID) > 100 {
		return ErrInvalidElement
	}
	if !e.Type.Valid() {
		return ErrInvalidElement
	}
	return nil
}

// ToRow serializes the element into its persistent record.
func (e *Element) ToRow(boardID, userID int64) (*BoardElement, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &BoardElement{
		BoardID:   boardID,
		ElementID: e.ID,
		Kind:      e.Type.String(),
		Data:      string(data),
		CreatedBy: userID,
		IsDeleted: e.IsDeleted,
		DeletedAt: e.DeletedAt,
		DeletedBy: e.DeletedBy,
	}, nil
}

// FromRow deserializes a persistent record back into the wire format.
func FromRow(row *BoardElement) (*Element, error) {
	var e Element
	if err := json.Unmarshal([]byte(row.Data), &e); err != nil {
		return nil, err
	}
	e.IsDeleted = row.IsDeleted
	e.DeletedAt = row.DeletedAt
	e.DeletedBy = row.DeletedBy
	return &e, nil
}
