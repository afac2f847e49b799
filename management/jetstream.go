package management

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/statusmq/common"
	"github.com/alwitt/statusmq/core"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

// JSStreamLimits list stream data retention settings
type JSStreamLimits struct {
	MaxMsgs    *int64         `json:"max_msgs,omitempty"`
	MaxBytes   *int64         `json:"max_bytes,omitempty"`
	MaxAge     *time.Duration `json:"max_age,omitempty"`
	MaxMsgSize *int32         `json:"max_msg_size,omitempty"`
}

// JSStreamParam list parameters for defining a stream
type JSStreamParam struct {
	// Name is the stream name
	Name     string   `json:"name" validate:"required"`
	Subjects []string `json:"subjects" validate:"required,min=1,dive,required"`
	JSStreamLimits
}

// JetStreamController manage JetStream streams holding status events
type JetStreamController interface {
	// CreateStream create a new JetStream stream given parameters
	CreateStream(ctxt context.Context, param JSStreamParam) error
	// GetStream query for info on one JetStream stream by name
	GetStream(ctxt context.Context, name string) (*nats.StreamInfo, error)
	// ChangeStreamSubjects changes the target subjects of a JetStream stream
	ChangeStreamSubjects(ctxt context.Context, stream string, newSubjects []string) error
	// EnsureStream create the stream if it does not exist, or extend its subjects
	// to cover the requested ones if it does.
	EnsureStream(ctxt context.Context, param JSStreamParam) error
	// DeleteStream delete a JetStream stream by name
	DeleteStream(ctxt context.Context, name string) error
}

// jetStreamControllerImpl manage JetStream
type jetStreamControllerImpl struct {
	common.Component
	core     core.NatsClient
	validate *validator.Validate
}

// GetJetStreamController define JetStreamController
func GetJetStreamController(
	natsCore core.NatsClient, instance string,
) (JetStreamController, error) {
	logTags := log.Fields{
		"module":    "management",
		"component": "jetstream",
		"instance":  instance,
	}
	return jetStreamControllerImpl{
		Component: common.Component{LogTags: logTags},
		core:      natsCore,
		validate:  validator.New(),
	}, nil
}

// =======================================================================
// Stream related controls

// GetStream get info on one stream
func (js jetStreamControllerImpl) GetStream(
	ctxt context.Context, name string,
) (*nats.StreamInfo, error) {
	info, err := js.core.JetStream().StreamInfo(name, nats.Context(ctxt))
	if err != nil {
		log.WithError(err).WithFields(js.LogTags).Debugf("Unable to get stream %s info", name)
	}
	return info, err
}

func applyStreamLimits(targetLimit *JSStreamLimits, param *nats.StreamConfig) {
	if targetLimit.MaxMsgs != nil {
		param.MaxMsgs = *targetLimit.MaxMsgs
	}
	if targetLimit.MaxBytes != nil {
		param.MaxBytes = *targetLimit.MaxBytes
	}
	if targetLimit.MaxAge != nil {
		param.MaxAge = *targetLimit.MaxAge
	}
	if targetLimit.MaxMsgSize != nil {
		param.MaxMsgSize = *targetLimit.MaxMsgSize
	}
}

// CreateStream define a new stream
func (js jetStreamControllerImpl) CreateStream(ctxt context.Context, param JSStreamParam) error {
	if err := js.validate.Struct(&param); err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf(
			"Unable to define new stream %s", param.Name,
		)
		return err
	}
	// Convert to JetStream structure
	jsParams := nats.StreamConfig{
		Name:     param.Name,
		Subjects: param.Subjects,
		Storage:  nats.FileStorage,
	}
	applyStreamLimits(&param.JSStreamLimits, &jsParams)
	if _, err := js.core.JetStream().AddStream(&jsParams, nats.Context(ctxt)); err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf(
			"Unable to define new stream %s", param.Name,
		)
		return err
	}
	log.WithFields(js.LogTags).Infof("Defined new stream %s", param.Name)
	return nil
}

// DeleteStream delete an existing stream
func (js jetStreamControllerImpl) DeleteStream(ctxt context.Context, name string) error {
	if err := js.core.JetStream().DeleteStream(name, nats.Context(ctxt)); err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf("Unable to delete stream %s", name)
		return err
	}
	log.WithFields(js.LogTags).Infof("Deleted stream %s", name)
	return nil
}

// ChangeStreamSubjects change the set of subjects the stream collects for
func (js jetStreamControllerImpl) ChangeStreamSubjects(
	ctxt context.Context, stream string, newSubjects []string,
) error {
	info, err := js.core.JetStream().StreamInfo(stream, nats.Context(ctxt))
	if err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf("Unable to get stream %s info", stream)
		return err
	}
	currentConfig := info.Config
	currentConfig.Subjects = newSubjects
	if _, err := js.core.JetStream().UpdateStream(&currentConfig, nats.Context(ctxt)); err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf(
			"Unable to change stream %s subjects", stream,
		)
		return err
	}
	log.WithFields(js.LogTags).Infof("Changed stream %s subjects to %v", stream, newSubjects)
	return nil
}

// EnsureStream create the stream, or extend the subjects of an existing one
func (js jetStreamControllerImpl) EnsureStream(ctxt context.Context, param JSStreamParam) error {
	if err := js.validate.Struct(&param); err != nil {
		log.WithError(err).WithFields(js.LogTags).Errorf(
			"Invalid parameters for stream %s", param.Name,
		)
		return err
	}
	info, err := js.GetStream(ctxt, param.Name)
	if err != nil {
		return js.CreateStream(ctxt, param)
	}
	if info == nil {
		return fmt.Errorf("no info returned for stream %s", param.Name)
	}
	// Only subjects are reconciled. Limits of an existing stream are left alone.
	known := map[string]bool{}
	for _, subject := range info.Config.Subjects {
		known[subject] = true
	}
	missing := false
	combined := append([]string{}, info.Config.Subjects...)
	for _, subject := range param.Subjects {
		if !known[subject] {
			missing = true
			combined = append(combined, subject)
		}
	}
	if !missing {
		log.WithFields(js.LogTags).Debugf("Stream %s already covers %v", param.Name, param.Subjects)
		return nil
	}
	return js.ChangeStreamSubjects(ctxt, param.Name, combined)
}
