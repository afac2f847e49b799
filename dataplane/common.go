package dataplane

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// ValidateTopicName check a status topic is a usable NATS publish subject.
//
// Publish subjects may not contain wildcards, whitespace, or empty tokens.
func ValidateTopicName(topic string) error {
	if len(topic) == 0 {
		return fmt.Errorf("topic name is empty")
	}
	if strings.ContainsAny(topic, " \t\r\n") {
		return fmt.Errorf("topic name '%s' contains whitespace", topic)
	}
	for _, token := range strings.Split(topic, ".") {
		if len(token) == 0 {
			return fmt.Errorf("topic name '%s' contains an empty token", topic)
		}
		if token == "*" || token == ">" {
			return fmt.Errorf("topic name '%s' contains wildcards", topic)
		}
	}
	return nil
}

// ackToMessageID standardize how a JetStream publish ACK is reported as a message ID
func ackToMessageID(ack *nats.PubAck) string {
	if ack == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)
}
