package core

import (
	"context"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI connect to NATS JetStream cluster with URI
	ServerURI string `validate:"required,uri"`
	// ClientName is the connection name reported to the NATS server
	ClientName string
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// FailFastOnConnect whether the initial connect attempt fails immediately
	// when the server is unreachable, instead of retrying in the background
	FailFastOnConnect bool
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// MaxPendingAsyncPublish max number of un-ACKed async publish. Zero uses library default.
	MaxPendingAsyncPublish int
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// NatsClient NATS NatsClient as message broker core
type NatsClient struct {
	common.Component
	nc *nats.Conn
	js nats.JetStreamContext
}

// Close close a JetStream client
func (js NatsClient) Close(ctxt context.Context) {
	if js.nc.IsConnected() {
		if err := js.nc.FlushWithContext(ctxt); err != nil {
			log.WithError(err).WithFields(js.LogTags).Errorf("NATS flush failed")
		}
	}
	js.nc.Close()
	log.WithFields(js.LogTags).Infof("Close NATS client")
}

// NATs fetch the NATS client
func (js NatsClient) NATs() *nats.Conn {
	return js.nc
}

// JetStream fetch the JetStream client
func (js NatsClient) JetStream() nats.JetStreamContext {
	return js.js
}

// IsConnected whether the client currently holds a live connection to the server
func (js NatsClient) IsConnected() bool {
	return js.nc != nil && js.nc.Status() == nats.CONNECTED
}

// GetJetStream define a new NATS JetStream core
func GetJetStream(param NATSConnectParams) (NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "jetstream-backend",
		"instance":  param.ServerURI,
	}
	if param.ClientName != "" {
		logTags["client"] = param.ClientName
	}
	// Create the NATS transport
	options := []nats.Option{
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(!param.FailFastOnConnect),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
	}
	if param.ClientName != "" {
		options = append(options, nats.Name(param.ClientName))
	}
	if param.OnDisconnectCallback != nil {
		options = append(options, nats.DisconnectErrHandler(param.OnDisconnectCallback))
	}
	if param.OnReconnectCallback != nil {
		options = append(options, nats.ReconnectHandler(param.OnReconnectCallback))
	}
	if param.OnCloseCallback != nil {
		options = append(options, nats.ClosedHandler(param.OnCloseCallback))
	}
	nc, err := nats.Connect(param.ServerURI, options...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return NatsClient{}, err
	}

	// Define the JetStream client
	jsOptions := []nats.JSOpt{}
	if param.MaxPendingAsyncPublish > 0 {
		jsOptions = append(jsOptions, nats.PublishAsyncMaxPending(param.MaxPendingAsyncPublish))
	}
	js, err := nc.JetStream(jsOptions...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error(
			"Failed to define JetStream client",
		)
		nc.Close()
		return NatsClient{}, err
	}
	log.WithFields(logTags).Info("Created JetStream client")

	return NatsClient{
		Component: common.Component{LogTags: logTags},
		nc:        nc,
		js:        js,
	}, nil
}
