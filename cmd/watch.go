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
	"sync"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/apex/log"
)

// RunStatusWatcher log every status event published on the status topics until the
// runtime context ends
func RunStatusWatcher(
	runtimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "status-watcher",
		"instance":  instance,
	}

	report := func(_ context.Context, topic string, event common.StatusEvent) error {
		log.WithFields(logTags).WithField("topic", topic).Infof("%s", event)
		return nil
	}
	alert := func(err error) {
		log.WithError(err).WithFields(logTags).Error("Status watch failure")
	}

	for _, topic := range []string{
		config.Bridge.Topics.OnlineTopic, config.Bridge.Topics.OfflineTopic,
	} {
		watcher, err := dataplane.GetJetStreamStatusWatcher(runtimeContext, natsClient, topic)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to watch %s", topic)
			return err
		}
		if err := watcher.StartReading(report, alert, wg); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to watch %s", topic)
			return err
		}
	}

	<-runtimeContext.Done()
	return nil
}
