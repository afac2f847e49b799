package common

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
)

// Component base structure for a Component
type Component struct {
	LogTags log.Fields
}

// RequestParam is a helper object for logging a request's parameters into its context
type RequestParam struct {
	// ID is the request ID
	ID string `json:"id"`
	// Method is the request method: DELETE, POST, PUT, GET, etc.
	Method string `json:"method" `
	// URI is the request URI
	URI string `json:"uri"`
}

// updateLogTags updates Apex log.Fields map with values the requests's parameters
func (i *RequestParam) updateLogTags(tags log.Fields) {
	tags["request_id"] = i.ID
	tags["request_method"] = i.Method
	tags["request_uri"] = fmt.Sprintf("'%s'", i.URI)
}

// UpdateLogTags make a copy of the log tags, and extend it with request
// parameters stored in the context if any.
func UpdateLogTags(ctxt context.Context, original log.Fields) (log.Fields, error) {
	newLogTags := log.Fields{}
	for k, v := range original {
		newLogTags[k] = v
	}
	if ctxt == nil {
		return newLogTags, nil
	}
	if v, ok := ctxt.Value(RequestParam{}).(RequestParam); ok {
		v.updateLogTags(newLogTags)
	}
	return newLogTags, nil
}

// RecoverPanic recover from a panic in the calling goroutine, and log it.
//
// Must be invoked directly through defer.
func RecoverPanic(logTags log.Fields, operation string) {
	if r := recover(); r != nil {
		err := fmt.Errorf("panic: %v", r)
		log.WithError(err).WithFields(logTags).Errorf("Recovered during %s", operation)
	}
}

// GetUnitTestNatsURI helper function to fetch NATS server URI for unit testing
func GetUnitTestNatsURI() string {
	natsHost := os.Getenv("NATS_HOST")
	if natsHost == "" {
		natsHost = "localhost"
	}
	return fmt.Sprintf("nats://%s:4222", natsHost)
}
