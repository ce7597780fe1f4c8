package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateID generates a prefixed unique id.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// GenerateTransportID generates a unique transport ID
func GenerateTransportID() string {
	return GenerateID("transport")
}

// GenerateProducerID generates a unique producer ID
func GenerateProducerID() string {
	return GenerateID("producer")
}

// GenerateConsumerID generates a unique consumer ID
func GenerateConsumerID() string {
	return GenerateID("consumer")
}

// GenerateRequestID generates a unique meeting request ID
func GenerateRequestID() string {
	return uuid.NewString()
}
