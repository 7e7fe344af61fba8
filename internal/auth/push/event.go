// Package push fans dashboard change events out to authenticated WebSocket
// sessions. Events are scoped to a tenant, coalesced per entity, and every
// session's credential is re-checked while it lives.
package push

import "encoding/json"

// Event is a single change notification for a dashboard entity.
type Event struct {
	Type      string         `json:"type"`
	EntityID  string         `json:"entityId"`
	CompanyID string         `json:"companyId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e Event) encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	return b
}

// merge overlays the fields of the older payload onto the newer one: the
// newer value wins for every field both carry, fields only the older event
// has are kept.
func merge(older, newer Event) Event {
	if len(older.Payload) == 0 {
		return newer
	}
	merged := make(map[string]any, len(older.Payload)+len(newer.Payload))
	for k, v := range older.Payload {
		merged[k] = v
	}
	for k, v := range newer.Payload {
		merged[k] = v
	}
	newer.Payload = merged
	return newer
}
