// Package fsm declares the certificate lifecycle state machine as a static
// whitelisted table. Any (state, event) pair without an entry is rejected;
// there is no default transition.
package fsm

import (
	"certfsm/internal/certificate/models"
)

// Effect names the certificate authority call attached to a transition.
type Effect string

const (
	EffectNone   Effect = ""
	EffectIssue  Effect = "issue"
	EffectRenew  Effect = "renew"
	EffectRevoke Effect = "revoke"
)

// Transition is one allowed edge of the lifecycle machine.
type Transition struct {
	Next models.State
	// Effect is the CA call invoked before the commit; EffectNone for pure
	// state moves.
	Effect Effect
	// FailState is where a definitive side-effect failure lands. Zero for
	// transitions without a side effect.
	FailState models.State
}

// HasEffect reports whether the transition carries a CA side effect.
func (t Transition) HasEffect() bool { return t.Effect != EffectNone }

// table maps (state, event) to the single allowed transition.
//
// Revocation converges on the one revoked terminal state regardless of
// certificate generation. request_revocation runs the Revoke side effect and
// commits straight to revoked; revocation_succeeded acknowledges an
// out-of-band revocation without touching the CA.
var table = map[models.State]map[models.Event]Transition{
	models.StateUnissued: {
		models.EventRequestIssuance: {Next: models.StateRequesting, Effect: EffectIssue, FailState: models.StateFailed},
		models.EventMarkInvalid:     {Next: models.StateInvalid},
	},
	models.StateRequesting: {
		models.EventValidationPassed: {Next: models.StateValidating},
		models.EventValidationFailed: {Next: models.StateFailed},
		models.EventIssuanceFailed:   {Next: models.StateFailed},
		models.EventMarkInvalid:      {Next: models.StateInvalid},
	},
	models.StateValidating: {
		models.EventIssuanceSucceeded: {Next: models.StateIssued},
		models.EventIssuanceFailed:    {Next: models.StateFailed},
		models.EventValidationFailed:  {Next: models.StateFailed},
		models.EventMarkInvalid:       {Next: models.StateInvalid},
	},
	models.StateIssued: {
		models.EventRequestRenewal:      {Next: models.StateRenewing, Effect: EffectRenew, FailState: models.StateFailed},
		models.EventRequestRevocation:   {Next: models.StateRevoked, Effect: EffectRevoke, FailState: models.StateFailed},
		models.EventRevocationSucceeded: {Next: models.StateRevoked},
		models.EventExpire:              {Next: models.StateExpired},
		models.EventMarkInvalid:         {Next: models.StateInvalid},
	},
	models.StateRenewing: {
		models.EventRenewalSucceeded: {Next: models.StateRenewed},
		models.EventRenewalFailed:    {Next: models.StateFailed},
		models.EventMarkInvalid:      {Next: models.StateInvalid},
	},
	models.StateRenewed: {
		models.EventRequestRenewal:      {Next: models.StateRenewing, Effect: EffectRenew, FailState: models.StateFailed},
		models.EventRequestRevocation:   {Next: models.StateRevoked, Effect: EffectRevoke, FailState: models.StateFailed},
		models.EventRevocationSucceeded: {Next: models.StateRevoked},
		models.EventExpire:              {Next: models.StateExpired},
		models.EventMarkInvalid:         {Next: models.StateInvalid},
	},
	models.StateFailed: {
		models.EventReset:       {Next: models.StateUnissued},
		models.EventMarkInvalid: {Next: models.StateInvalid},
	},
	models.StateExpired: {
		models.EventReset:       {Next: models.StateUnissued},
		models.EventMarkInvalid: {Next: models.StateInvalid},
	},
	models.StateRevoked: {
		models.EventMarkInvalid: {Next: models.StateInvalid},
	},
	models.StateInvalid: {
		models.EventReset: {Next: models.StateUnissued},
	},
}

// Lookup returns the transition for (state, event), if any.
func Lookup(state models.State, event models.Event) (Transition, bool) {
	events, ok := table[state]
	if !ok {
		return Transition{}, false
	}
	t, ok := events[event]
	return t, ok
}

// Entry is one table row, used by the introspection endpoints.
type Entry struct {
	From        models.State `json:"from"`
	Event       models.Event `json:"event"`
	To          models.State `json:"to"`
	Effect      Effect       `json:"effect,omitempty"`
	Description string       `json:"description"`
}

// Entries lists the whole table in stable state/event order.
func Entries() []Entry {
	var out []Entry
	for _, state := range models.States() {
		out = append(out, EntriesFrom(state)...)
	}
	return out
}

// EntriesFrom lists the transitions available from one state.
func EntriesFrom(state models.State) []Entry {
	events, ok := table[state]
	if !ok {
		return nil
	}
	var out []Entry
	for _, event := range eventOrder {
		t, ok := events[event]
		if !ok {
			continue
		}
		out = append(out, Entry{
			From:        state,
			Event:       event,
			To:          t.Next,
			Effect:      t.Effect,
			Description: Describe(event),
		})
	}
	return out
}

// eventOrder keeps introspection output deterministic.
var eventOrder = []models.Event{
	models.EventRequestIssuance,
	models.EventValidationPassed,
	models.EventValidationFailed,
	models.EventIssuanceSucceeded,
	models.EventIssuanceFailed,
	models.EventRequestRenewal,
	models.EventRenewalSucceeded,
	models.EventRenewalFailed,
	models.EventRequestRevocation,
	models.EventRevocationSucceeded,
	models.EventExpire,
	models.EventMarkInvalid,
	models.EventReset,
}

var descriptions = map[models.Event]string{
	models.EventRequestIssuance:     "Request a new certificate",
	models.EventValidationPassed:    "Domain control validation completed",
	models.EventValidationFailed:    "Domain control validation failed",
	models.EventIssuanceSucceeded:   "Certificate issued successfully",
	models.EventIssuanceFailed:      "Certificate issuance failed",
	models.EventRequestRenewal:      "Request certificate renewal",
	models.EventRenewalSucceeded:    "Certificate renewed successfully",
	models.EventRenewalFailed:       "Certificate renewal failed",
	models.EventRequestRevocation:   "Revoke the certificate",
	models.EventRevocationSucceeded: "Certificate revoked out of band",
	models.EventExpire:              "Certificate has expired",
	models.EventMarkInvalid:         "Mark certificate as invalid",
	models.EventReset:               "Reset to the start of the lifecycle",
}

// Describe returns a human-readable description for an event.
func Describe(event models.Event) string {
	if d, ok := descriptions[event]; ok {
		return d
	}
	return string(event)
}
