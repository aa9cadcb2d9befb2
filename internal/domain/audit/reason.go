package audit

import (
	"encoding/json"
	"strings"
)

// ReasonSentinel is the canonical placeholder stored when a PHI access
// carries no stated reason. Reports count missing reasons against this
// value, never against the empty string.
const ReasonSentinel = "No reason provided"

// ReasonState distinguishes a real reason from the two missing shapes the
// legacy system produced (empty string and literal placeholder text).
type ReasonState string

const (
	ReasonAbsent      ReasonState = "absent"
	ReasonPlaceholder ReasonState = "placeholder"
	ReasonProvided    ReasonState = "provided"
)

// AccessReason is the tri-state reason value object attached to AccessEvents.
type AccessReason struct {
	state ReasonState
	text  string
}

// NewAccessReason normalizes a raw reason string. Empty or whitespace-only
// input yields the absent state; input equal to the sentinel yields the
// placeholder state; anything else is a provided reason.
func NewAccessReason(raw string) AccessReason {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return AccessReason{state: ReasonAbsent}
	case strings.EqualFold(trimmed, ReasonSentinel):
		return AccessReason{state: ReasonPlaceholder, text: ReasonSentinel}
	default:
		return AccessReason{state: ReasonProvided, text: trimmed}
	}
}

// ReasonFromStored reconstructs an AccessReason from its persisted form.
func ReasonFromStored(text string) AccessReason {
	return NewAccessReason(text)
}

// IsMissing reports whether no real reason was supplied, regardless of
// which missing shape it arrived in.
func (r AccessReason) IsMissing() bool {
	return r.state != ReasonProvided
}

func (r AccessReason) State() ReasonState {
	if r.state == "" {
		return ReasonAbsent
	}
	return r.state
}

// String returns the persisted form: the sentinel for both missing states,
// so storage never carries a silently empty reason.
func (r AccessReason) String() string {
	if r.IsMissing() {
		return ReasonSentinel
	}
	return r.text
}

// MarshalJSON emits the persisted form, so the query surface shows the same
// reason text (sentinel included) as the CSV exporter.
func (r AccessReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *AccessReason) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = NewAccessReason(raw)
	return nil
}
