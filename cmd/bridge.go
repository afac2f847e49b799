// Copyright 2022 The statusmq Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/statusmq/apis"
	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/alwitt/statusmq/management"
	"github.com/alwitt/statusmq/presence"
	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// advisoryTaskBuffer number of consumer advisories which can be queued for processing
const advisoryTaskBuffer = 64

// DefineChannelNATSParams define the NATS connection parameters used by each status channel
func DefineChannelNATSParams(
	natsConfig common.NATSConfig, bridgeConfig common.StatusBridgeConfig, logTags log.Fields,
) core.NATSConnectParams {
	return core.NATSConnectParams{
		ServerURI:              natsConfig.ServerURI,
		ConnectTimeout:         time.Second * time.Duration(natsConfig.ConnectTimeout),
		MaxReconnectAttempt:    natsConfig.Reconnect.MaxAttempts,
		ReconnectWait:          time.Second * time.Duration(natsConfig.Reconnect.WaitInterval),
		MaxPendingAsyncPublish: bridgeConfig.MaxPendingPublish,
		OnDisconnectCallback: func(nc *nats.Conn, e error) {
			log.WithError(e).WithFields(logTags).Warnf(
				"Status channel %s disconnected from server %s", nc.Opts.Name, natsConfig.ServerURI,
			)
		},
		OnReconnectCallback: func(nc *nats.Conn) {
			log.WithFields(logTags).Infof(
				"Status channel %s reconnected with server %s", nc.Opts.Name, natsConfig.ServerURI,
			)
		},
	}
}

// DefinePublisherParam define the JetStream status publisher parameters
func DefinePublisherParam(
	natsConfig common.NATSConfig, bridgeConfig common.StatusBridgeConfig, logTags log.Fields,
) dataplane.JetStreamStatusPublisherParam {
	stream := management.JSStreamParam{
		Name: bridgeConfig.Topics.StreamName,
		Subjects: []string{
			bridgeConfig.Topics.OnlineTopic, bridgeConfig.Topics.OfflineTopic,
		},
	}
	if bridgeConfig.Topics.MaxAge > 0 {
		maxAge := time.Second * time.Duration(bridgeConfig.Topics.MaxAge)
		stream.MaxAge = &maxAge
	}
	return dataplane.JetStreamStatusPublisherParam{
		NATS:       DefineChannelNATSParams(natsConfig, bridgeConfig, logTags),
		Stream:     stream,
		AckTimeout: time.Second * time.Duration(bridgeConfig.PublishAckTimeout),
	}
}

// DefineManagerParam define the status manager parameters
func DefineManagerParam(
	natsConfig common.NATSConfig, bridgeConfig common.StatusBridgeConfig,
) (presence.ManagerParam, error) {
	eligible, err := presence.GetEligibilityFilter(
		bridgeConfig.EligibleMatch, bridgeConfig.EligiblePrefix,
	)
	if err != nil {
		return presence.ManagerParam{}, err
	}
	channelTimeout := time.Second * time.Duration(natsConfig.ConnectTimeout)
	return presence.ManagerParam{
		OnlineTopic:  bridgeConfig.Topics.OnlineTopic,
		OfflineTopic: bridgeConfig.Topics.OfflineTopic,
		Eligible:     eligible,
		HealthCheck: presence.HealthMonitorParam{
			InitialDelay:    time.Second * time.Duration(bridgeConfig.HealthCheck.InitialDelay),
			Interval:        time.Second * time.Duration(bridgeConfig.HealthCheck.Interval),
			RecreateTimeout: channelTimeout,
		},
		ChannelTimeout:      channelTimeout,
		ShutdownGracePeriod: time.Second * time.Duration(bridgeConfig.ShutdownGracePeriod),
	}, nil
}

// defineAPIServer helper function to define the status bridge HTTP server
func defineAPIServer(
	config *common.APIServerConfig,
	sink apis.SubscriberStatusSink,
	streamCtrl management.JetStreamController,
	streamName string,
	metricsRegistry *prometheus.Registry,
) (*http.Server, error) {
	httpHandler, err := apis.GetAPIRestStatusBridgeHandler(sink, &config.HTTPSetting)
	if err != nil {
		return nil, err
	}
	streamHandler, err := apis.GetAPIRestStatusStreamHandler(
		streamCtrl, streamName, &config.HTTPSetting,
	)
	if err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Subscriber status reporting
	subscriptionRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/subscription/{subscriptionName}", nil,
	)
	_ = apis.RegisterPathPrefix(subscriptionRouter, "/online", map[string]http.HandlerFunc{
		"post": httpHandler.SubscriberOnlineHandler(),
	})
	_ = apis.RegisterPathPrefix(subscriptionRouter, "/offline", map[string]http.HandlerFunc{
		"post": httpHandler.SubscriberOfflineHandler(),
	})

	// Status stream
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/admin/stream", map[string]http.HandlerFunc{
		"get": streamHandler.GetStatusStreamHandler(),
	})

	// Metrics
	_ = apis.RegisterPathPrefix(mainRouter, "/metrics", map[string]http.HandlerFunc{
		"get": promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}).ServeHTTP,
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/admin/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/admin/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverCfg := config.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverCfg.ListenOn, serverCfg.Port)
	return &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(serverCfg.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(serverCfg.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(serverCfg.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}, nil
}

// RunStatusBridge run the subscriber status bridge until the runtime context ends
func RunStatusBridge(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "status-bridge",
		"instance":  instance,
	}

	publisher, err := dataplane.GetJetStreamStatusPublisher(
		DefinePublisherParam(config.NATS, config.Bridge, logTags), instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define status publisher")
		return err
	}

	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	managerParam, err := DefineManagerParam(config.NATS, config.Bridge)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define status manager parameters")
		return err
	}
	if managerParam.Metrics, err = presence.NewStatusMetrics(metricsRegistry); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define status metrics")
		return err
	}

	manager, err := presence.NewManager(runtimeContext, publisher, managerParam, instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define status manager")
		return err
	}
	if err := manager.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start status manager")
		return err
	}
	defer func() {
		ctxt, cancel := context.WithTimeout(
			context.Background(), time.Second*time.Duration(config.Bridge.ShutdownGracePeriod+1),
		)
		defer cancel()
		if err := manager.Stop(ctxt); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during status manager stop")
		}
	}()

	// -------------------------------------------------------------------
	// Consumer advisories

	if config.Advisory.Enabled {
		listener, err := dataplane.GetConsumerAdvisoryListener(
			runtimeContext, natsClient, config.Advisory.StreamFilter, manager, advisoryTaskBuffer,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to define advisory listener")
			return err
		}
		if err := listener.StartListening(wg); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to start advisory listener")
			return err
		}
		defer func() {
			if err := listener.StopListening(); err != nil {
				log.WithError(err).WithFields(logTags).Error("Failure during advisory listener stop")
			}
		}()
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	if config.API != nil {
		streamCtrl, err := management.GetJetStreamController(*natsClient, instance)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to define JetStream controller")
			return err
		}
		httpSrv, err := defineAPIServer(
			config.API, manager, streamCtrl, config.Bridge.Topics.StreamName, metricsRegistry,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP server")
			return err
		}

		// Start the server
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("HTTP Server Failure")
			}
		}()

		log.WithFields(logTags).Infof("Started HTTP server on http://%s", httpSrv.Addr)

		// Stop the HTTP server before the manager
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.WithError(err).Error("Failure during HTTP shutdown")
			}
		}()
	}

	// ============================================================================

	<-runtimeContext.Done()
	log.WithFields(logTags).Info("Stopping status bridge")

	return nil
}
