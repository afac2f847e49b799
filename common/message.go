package common

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// StatusEvent the subscriber status update published onto a status topic
type StatusEvent struct {
	// SubscriptionName identifies the subscriber whose status changed
	SubscriptionName string `json:"subscriptionName" validate:"required"`
	// EventTimestamp is when the status change was observed. Advisory only.
	EventTimestamp string `json:"eventTimestamp,omitempty" validate:"omitempty"`
}

// NewStatusEvent define a new StatusEvent, time-stamped at the given moment
func NewStatusEvent(subscription string, observedAt time.Time) StatusEvent {
	return StatusEvent{
		SubscriptionName: subscription,
		EventTimestamp:   observedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Validate check the event is well formed
func (e StatusEvent) Validate(validate *validator.Validate) error {
	return validate.Struct(&e)
}

// Encode validate and serialize the event into its wire format
func (e StatusEvent) Encode(validate *validator.Validate) ([]byte, error) {
	if err := e.Validate(validate); err != nil {
		return nil, err
	}
	return json.Marshal(&e)
}

// DecodeStatusEvent parse a StatusEvent from its wire format
func DecodeStatusEvent(payload []byte, validate *validator.Validate) (StatusEvent, error) {
	var event StatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return StatusEvent{}, err
	}
	return event, event.Validate(validate)
}

// String toString function
func (e StatusEvent) String() string {
	if e.EventTimestamp == "" {
		return fmt.Sprintf("STATUS[%s]", e.SubscriptionName)
	}
	return fmt.Sprintf("STATUS[%s]@%s", e.SubscriptionName, e.EventTimestamp)
}

// ValidateSubscriptionName check a subscription name reported by an event source
func ValidateSubscriptionName(name string, validate *validator.Validate) error {
	if err := validate.Var(name, "required,printascii,max=256"); err != nil {
		return err
	}
	if strings.ContainsAny(name, " \t") {
		return fmt.Errorf("subscription name '%s' contains whitespace", name)
	}
	return nil
}
