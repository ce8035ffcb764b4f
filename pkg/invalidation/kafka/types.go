package kafka

import "time"

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// WireEvent tells peer instances that key changed in the backing store.
// Version orders events per key; Origin lets an instance skip its own events.
type WireEvent struct {
	Key     string    `json:"key"`
	Op      string    `json:"op"`
	Version uint64    `json:"version"`
	TS      time.Time `json:"ts"`
	Origin  string    `json:"origin,omitempty"`
}

func (w WireEvent) Validate() error {
	if w.Key == "" {
		return errEmptyKey
	}
	switch w.Op {
	case OpSet, OpDelete:
		return nil
	default:
		return errBadOp
	}
}
