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

package apis

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/management"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// APIRestStatusStreamHandler REST handler for inspecting the status stream
type APIRestStatusStreamHandler struct {
	goutils.RestAPIHandler
	core   management.JetStreamController
	stream string
}

// GetAPIRestStatusStreamHandler define APIRestStatusStreamHandler
func GetAPIRestStatusStreamHandler(
	core management.JetStreamController, stream string, httpConfig *common.HTTPConfig,
) (APIRestStatusStreamHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "status-stream",
		"stream":    stream,
	}
	return APIRestStatusStreamHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		core:           core,
		stream:         stream,
	}, nil
}

// APIRestRespStreamConfig adhoc structure for persenting nats.StreamConfig
type APIRestRespStreamConfig struct {
	// Name is the stream name
	Name string `json:"name" validate:"required"`
	// Subjects is the list subjects this stream is listening on
	Subjects []string `json:"subjects"`
	// MaxMsgs is the max number of messages the stream will store.
	//
	// Oldest messages are removed once limit breached.
	MaxMsgs int64 `json:"max_msgs" validate:"required"`
	// MaxBytes is the max number of message bytes the stream will store.
	//
	// Oldest messages are removed once limit breached.
	MaxBytes int64 `json:"max_bytes" validate:"required"`
	// MaxBytes is the max duration (ns) the stream will store a message
	//
	// Messages breaching the limit will be removed.
	MaxAge time.Duration `json:"max_age" swaggertype:"primitive,integer" validate:"required"`
	// MaxMsgSize is the max size of a message allowed in this stream
	MaxMsgSize int32 `json:"max_msg_size"`
}

// APIRestRespStreamState adhoc structure for persenting nats.StreamState
type APIRestRespStreamState struct {
	// Msgs is the number of messages in the stream
	Msgs uint64 `json:"messages" validate:"required"`
	// Bytes is the number of message bytes in the stream
	Bytes uint64 `json:"bytes" validate:"required"`
	// FirstSeq is the oldest message sequence number on the stream
	FirstSeq uint64 `json:"first_seq" validate:"required"`
	// FirstTime is the oldest message timestamp on the stream
	FirstTime time.Time `json:"first_ts" validate:"required"`
	// LastSeq is the newest message sequence number on the stream
	LastSeq uint64 `json:"last_seq" validate:"required"`
	// LastTime is the newest message timestamp on the stream
	LastTime time.Time `json:"last_ts" validate:"required"`
	// Consumers number of consumers on the stream
	Consumers int `json:"consumer_count" validate:"required"`
}

// APIRestRespStreamInfo adhoc structure for persenting nats.StreamInfo
type APIRestRespStreamInfo struct {
	// Config is the stream config parameters
	Config APIRestRespStreamConfig `json:"config" validate:"required"`
	// Created is the stream creation timestamp
	Created time.Time `json:"created" validate:"required"`
	// State is the stream current state
	State APIRestRespStreamState `json:"state" validate:"required"`
}

// convertStreamInfo convert *nats.StreamInfo into APIRestRespStreamInfo
func convertStreamInfo(original *nats.StreamInfo) APIRestRespStreamInfo {
	return APIRestRespStreamInfo{
		Config: APIRestRespStreamConfig{
			Name:       original.Config.Name,
			Subjects:   original.Config.Subjects,
			MaxMsgs:    original.Config.MaxMsgs,
			MaxBytes:   original.Config.MaxBytes,
			MaxAge:     original.Config.MaxAge,
			MaxMsgSize: original.Config.MaxMsgSize,
		},
		Created: original.Created,
		State: APIRestRespStreamState{
			Msgs:      original.State.Msgs,
			Bytes:     original.State.Bytes,
			FirstSeq:  original.State.FirstSeq,
			FirstTime: original.State.FirstTime,
			LastSeq:   original.State.LastSeq,
			LastTime:  original.State.LastTime,
			Consumers: original.State.Consumers,
		},
	}
}

// -----------------------------------------------------------------------

// APIRestRespStatusStream response for the status stream info
type APIRestRespStatusStream struct {
	goutils.RestAPIBaseResponse
	// Stream the details for the status stream
	Stream APIRestRespStreamInfo `json:"stream"`
}

// GetStatusStream godoc
// @Summary Query for info on the status stream
// @Description Query for the details of the JetStream stream capturing status events
// @tags Management
// @Produce json
// @Param Statusmq-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespStatusStream "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Statusmq-Request-ID "Request ID to match against logs"
// @Router /v1/admin/stream [get]
func (h APIRestStatusStreamHandler) GetStatusStream(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	streamInfo, err := h.core.GetStream(r.Context(), h.stream)
	if err != nil {
		msg := fmt.Sprintf("Unable fetch stream %s info", h.stream)
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, err.Error())
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespStatusStream{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		},
		Stream: convertStreamInfo(streamInfo),
	}
}

// GetStatusStreamHandler Wrapper around GetStatusStream
func (h APIRestStatusStreamHandler) GetStatusStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetStatusStream(w, r)
	}
}
