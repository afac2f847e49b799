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
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/dataplane"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// SubscriberStatusSink accepts subscriber lifecycle events, and reports whether
// it is able to publish them
type SubscriberStatusSink interface {
	dataplane.SubscriberEventHandler
	// Ready whether status events can currently be published
	Ready() bool
}

// APIRestStatusBridgeHandler REST handler for reporting subscriber status changes
type APIRestStatusBridgeHandler struct {
	goutils.RestAPIHandler
	sink     SubscriberStatusSink
	validate *validator.Validate
}

// GetAPIRestStatusBridgeHandler define APIRestStatusBridgeHandler
func GetAPIRestStatusBridgeHandler(
	sink SubscriberStatusSink, httpConfig *common.HTTPConfig,
) (APIRestStatusBridgeHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "status-bridge",
	}
	return APIRestStatusBridgeHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		sink:           sink,
		validate:       validator.New(),
	}, nil
}

// Write logging support
func (h APIRestStatusBridgeHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Subscriber status

// readSubscriptionName helper function to fetch and validate the subscription name
// path variable. Returns a response to send if the name is not usable.
func (h APIRestStatusBridgeHandler) readSubscriptionName(
	r *http.Request,
) (string, int, interface{}) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	vars := mux.Vars(r)
	subscription, ok := vars["subscriptionName"]
	if !ok {
		msg := "No subscription name provided"
		log.WithFields(localLogTags).Errorf(msg)
		return "", http.StatusBadRequest, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusBadRequest, msg, msg,
		)
	}
	if err := common.ValidateSubscriptionName(subscription, h.validate); err != nil {
		msg := "Invalid subscription name"
		log.WithError(err).WithFields(localLogTags).Errorf(msg)
		return "", http.StatusBadRequest, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusBadRequest, msg, err.Error(),
		)
	}
	return subscription, http.StatusOK, nil
}

// -----------------------------------------------------------------------

// SubscriberOnline godoc
// @Summary Report subscriber online
// @Description Report a subscriber connected. The online status event is published
// asynchronously; the call does not wait for it.
// @tags Status
// @Produce json
// @Param Statusmq-Request-ID header string false "User provided request ID to match against logs"
// @Param subscriptionName path string true "Subscription name"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Statusmq-Request-ID "Request ID to match against logs"
// @Router /v1/subscription/{subscriptionName}/online [post]
func (h APIRestStatusBridgeHandler) SubscriberOnline(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	subscription, code, errResp := h.readSubscriptionName(r)
	if errResp != nil {
		respCode = code
		respBody = errResp
		return
	}

	h.sink.OnSubscriberConnected(subscription)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SubscriberOnlineHandler Wrapper around SubscriberOnline
func (h APIRestStatusBridgeHandler) SubscriberOnlineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SubscriberOnline(w, r)
	}
}

// -----------------------------------------------------------------------

// SubscriberOffline godoc
// @Summary Report subscriber offline
// @Description Report a subscriber disconnected. The offline status event is published
// asynchronously; the call does not wait for it.
// @tags Status
// @Produce json
// @Param Statusmq-Request-ID header string false "User provided request ID to match against logs"
// @Param subscriptionName path string true "Subscription name"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Statusmq-Request-ID "Request ID to match against logs"
// @Router /v1/subscription/{subscriptionName}/offline [post]
func (h APIRestStatusBridgeHandler) SubscriberOffline(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	subscription, code, errResp := h.readSubscriptionName(r)
	if errResp != nil {
		respCode = code
		respBody = errResp
		return
	}

	h.sink.OnSubscriberDisconnected(subscription)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// SubscriberOfflineHandler Wrapper around SubscriberOffline
func (h APIRestStatusBridgeHandler) SubscriberOfflineHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SubscriberOffline(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For status bridge REST API liveness check
// @Description Will return success to indicate status bridge REST API module is live
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/admin/alive [get]
func (h APIRestStatusBridgeHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestStatusBridgeHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For status bridge REST API readiness check
// @Description Will return success if both status channels are healthy
// @tags Status
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/admin/ready [get]
func (h APIRestStatusBridgeHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.sink.Ready() {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestStatusBridgeHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
