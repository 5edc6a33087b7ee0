package models

import "time"

// ChangeOp is the kind of change carried by a notification.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "insert"
	ChangeUpdate ChangeOp = "update"
	ChangeDelete ChangeOp = "delete"
)

// ChangeEvent notifies subscribers about a catalyst change. Delivery is
// at-most-once with no replay; subscribers reconcile by refetching.
type ChangeEvent struct {
	Op       ChangeOp  `json:"op"`
	Catalyst Catalyst  `json:"catalyst"`
	At       time.Time `json:"at"`
}
