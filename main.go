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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alwitt/statusmq/cmd"
	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v2"
)

type cliArgs struct {
	JSONLog    bool
	LogLevel   string `validate:"required,oneof=debug info warn error"`
	ConfigFile string `validate:"omitempty,file"`
	Hostname   string
}

var cmdArgs cliArgs

var logTags log.Fields

// runner is a subcommand body executed against a connected NATS client
type runner func(
	ctxt context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error

// @title statusmq
// @version v0.1.0
// @description Publishes subscriber online / offline status events through NATS JetStream

// @host localhost:3000
// @BasePath /
// @query.collection.format multi
func main() {
	hostname, err := os.Hostname()
	if err != nil {
		log.WithError(err).Fatal("Unable to read hostname")
	}
	cmdArgs.Hostname = hostname
	logTags = log.Fields{
		"module":    "main",
		"component": "main",
		"instance":  hostname,
	}

	common.InstallDefaultConfigValues()

	app := &cli.App{
		Version:     "v0.1.0",
		Usage:       "subscriber status bridge",
		Description: "Publishes subscriber online / offline status events through NATS JetStream",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Destination: &cmdArgs.JSONLog,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "warn",
				Destination: &cmdArgs.LogLevel,
			},
			&cli.StringFlag{
				Name:        "config-file",
				Usage:       "Application config file. Built-in defaults apply to anything not set.",
				Aliases:     []string{"c"},
				EnvVars:     []string{"CONFIG_FILE"},
				Destination: &cmdArgs.ConfigFile,
			},
		},
		Commands: []*cli.Command{
			{
				Name:        "bridge",
				Usage:       "Run the subscriber status bridge",
				Description: "Converts subscriber connect / disconnect events into status events",
				Action:      withNATS(cmd.RunStatusBridge),
			},
			{
				Name:        "watch",
				Usage:       "Watch the status topics",
				Description: "Logs every status event published on the online and offline topics",
				Action:      withNATS(cmd.RunStatusWatcher),
			},
			{
				Name:        "config",
				Usage:       "Print the effective config",
				Description: "Prints the merged and validated config as YAML, usable as a config file",
				Action:      printConfig,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).WithFields(logTags).Fatal("Program shutdown")
	}
}

// loadConfig validate the CLI args, setup logging, then load the system config
func loadConfig() (*common.SystemConfig, error) {
	validate := validator.New()
	if err := validate.Struct(&cmdArgs); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return nil, err
	}

	if cmdArgs.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	level, err := log.ParseLevel(cmdArgs.LogLevel)
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)
	log.WithFields(logTags).Debugf("Starting with %+v", cmdArgs)

	config, err := common.LoadSystemConfig(cmdArgs.ConfigFile, validate)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unusable config")
		return nil, err
	}
	return config, nil
}

// connectNATS define the NATS client. Closing of the connection cancels the runtime context.
func connectNATS(config common.NATSConfig, ctxtCancel context.CancelFunc) (core.NatsClient, error) {
	return core.GetJetStream(core.NATSConnectParams{
		ServerURI:           config.ServerURI,
		ClientName:          fmt.Sprintf("statusmq/%s", cmdArgs.Hostname),
		ConnectTimeout:      time.Second * time.Duration(config.ConnectTimeout),
		MaxReconnectAttempt: config.Reconnect.MaxAttempts,
		ReconnectWait:       time.Second * time.Duration(config.Reconnect.WaitInterval),
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			log.WithError(e).WithFields(logTags).Errorf("Disconnected from %s", config.ServerURI)
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Warnf("Reconnected to %s", config.ServerURI)
		},
		OnCloseCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Error("NATS connection closed")
			ctxtCancel()
		},
	})
}

// withNATS wrap a runner into a CLI action. The action owns the runtime context,
// the NATS client, and the SIGINT / SIGTERM handler.
func withNATS(run runner) cli.ActionFunc {
	return func(_ *cli.Context) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}

		wg := sync.WaitGroup{}
		defer wg.Wait()
		runtimeCtxt, cancel := context.WithCancel(context.Background())
		defer cancel()

		natsClient, err := connectNATS(config.NATS, cancel)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Failed to connect with %s", config.NATS.ServerURI,
			)
			return err
		}
		defer natsClient.Close(context.Background())

		wg.Add(1)
		go func() {
			defer wg.Done()
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			select {
			case sig := <-sigs:
				log.WithFields(logTags).Infof("Received %s", sig)
			case <-runtimeCtxt.Done():
			}
			cancel()
		}()

		return run(runtimeCtxt, config, cmdArgs.Hostname, &natsClient, &wg)
	}
}

// printConfig print the effective config
func printConfig(_ *cli.Context) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	rendered, err := config.RenderYAML()
	if err != nil {
		return err
	}
	fmt.Print(string(rendered))
	return nil
}
