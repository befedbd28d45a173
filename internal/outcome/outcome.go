// Package outcome names the result of handling an event that may be
// legitimately ignored, so callers can assert on "ignored" instead of
// inferring it from unchanged state.
package outcome

// Reason explains why an event was ignored.
type Reason string

// Reasons an event can be ignored.
const (
	MissingID          Reason = "missing-id"
	Self               Reason = "self"
	UnknownParticipant Reason = "unknown-participant"
	MissingPosition    Reason = "missing-position"
	DuplicateContent   Reason = "duplicate-content"
	EmptySnapshot      Reason = "empty-snapshot"
	WrongDocument      Reason = "wrong-document"
	NotOpen            Reason = "not-open"
	UnknownType        Reason = "unknown-type"
	NoOperations       Reason = "no-operations"
	Unanswered         Reason = "unanswered"
)

// Outcome is the result of handling one event. The zero value means applied.
type Outcome struct {
	Reason Reason
}

// Applied is the outcome of an event that changed state.
var Applied = Outcome{}

// Ignored returns an outcome for an event that was deliberately a no-op.
func Ignored(reason Reason) Outcome {
	return Outcome{Reason: reason}
}

// Applied reports whether the event changed state.
func (o Outcome) Applied() bool {
	return o.Reason == ""
}

// String returns "applied" or "ignored(<reason>)".
func (o Outcome) String() string {
	if o.Applied() {
		return "applied"
	}

	return "ignored(" + string(o.Reason) + ")"
}
