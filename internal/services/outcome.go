package services

import "fmt"

// Outcome is the result of a mutation as far as the remote service is
// concerned. It is exactly one of Applied, Queued or Rejected.
type Outcome interface {
	outcome()
	fmt.Stringer
}

// Applied means the remote service accepted the mutation.
type Applied struct {
	ServerID string `json:"server_id,omitempty"`
}

// Queued means the mutation is stored locally and waits in the outbox.
type Queued struct {
	OperationID int64 `json:"operation_id"`
}

// Rejected means the remote service refused the mutation for good. The
// record is left in the error state with Reason as its message.
type Rejected struct {
	Reason string `json:"reason"`
}

func (Applied) outcome()  {}
func (Queued) outcome()   {}
func (Rejected) outcome() {}

func (a Applied) String() string  { return "applied" }
func (q Queued) String() string   { return "queued" }
func (r Rejected) String() string { return "rejected" }

// OutcomeView is the flattened, serializable form of an Outcome.
type OutcomeView struct {
	Kind        string `json:"kind"`
	ServerID    string `json:"server_id,omitempty"`
	OperationID int64  `json:"operation_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// View flattens o.
func View(o Outcome) OutcomeView {
	v := OutcomeView{}
	if o == nil {
		return v
	}
	v.Kind = o.String()
	switch o := o.(type) {
	case Applied:
		v.ServerID = o.ServerID
	case Queued:
		v.OperationID = o.OperationID
	case Rejected:
		v.Reason = o.Reason
	}
	return v
}
