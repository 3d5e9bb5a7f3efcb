package domain

// Message is the published notification carried by a fan-out job.
// The body is opaque to the delivery engine; ProtocolPayloads holds the
// per-protocol renderings produced by preprocessing after decode.
type Message struct {
	ID               string              `json:"id"`
	UserID           string              `json:"user_id"`
	Subject          string              `json:"subject,omitempty"`
	Body             string              `json:"body"`
	ProtocolPayloads map[Protocol]string `json:"protocol_payloads,omitempty"`
}

// PayloadFor returns the rendering for the given protocol, falling back to
// the raw body when no protocol-specific payload exists.
func (m *Message) PayloadFor(p Protocol) string {
	if s, ok := m.ProtocolPayloads[p]; ok {
		return s
	}
	return m.Body
}

// User is the publishing account looked up when a job is consumed.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
