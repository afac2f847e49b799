package presence

import "errors"

var (
	// ErrConnect a status channel could not be created
	ErrConnect = errors.New("status channel connect failure")
	// ErrTransport a live status channel failed to send
	ErrTransport = errors.New("status channel transport failure")
	// ErrUnknownTopic the topic is not one managed by the registry
	ErrUnknownTopic = errors.New("unknown status topic")
	// ErrRegistryClosed the registry was shutdown
	ErrRegistryClosed = errors.New("channel registry is shutdown")
)
