package types

// ParticipantKey is the attribute naming the account an event concerns.
const ParticipantKey = "participant"

// Event is the generic payload appended to the recycler event log.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil {
		return ""
	}
	return e.Attributes[key]
}
