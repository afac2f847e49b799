package presence

import (
	"context"

	"github.com/alwitt/statusmq/dataplane"
	"github.com/prometheus/client_golang/prometheus"
)

// Status event outcomes
const (
	outcomeFiltered   = "filtered"
	outcomeNoChannel  = "no_channel"
	outcomeSendFailed = "send_failed"
	outcomeAcked      = "acked"
	outcomeAckFailed  = "ack_failed"
)

// StatusMetrics prometheus metrics of the status manager
type StatusMetrics struct {
	events       *prometheus.CounterVec
	channelOpens *prometheus.CounterVec
}

// NewStatusMetrics define and register the status manager metrics
func NewStatusMetrics(registerer prometheus.Registerer) (*StatusMetrics, error) {
	metrics := &StatusMetrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statusmq_status_events_total",
				Help: "Number of subscriber status events by topic and outcome.",
			},
			[]string{"topic", "outcome"},
		),
		channelOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statusmq_channel_opens_total",
				Help: "Number of status channel creation attempts by topic and result.",
			},
			[]string{"topic", "result"},
		),
	}
	for _, collector := range []prometheus.Collector{metrics.events, metrics.channelOpens} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

// recordEvent count one status event outcome
func (m *StatusMetrics) recordEvent(topic, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(topic, outcome).Inc()
}

// InstrumentPublisher wrap a StatusPublisher so channel creations are counted
func (m *StatusMetrics) InstrumentPublisher(
	client dataplane.StatusPublisher,
) dataplane.StatusPublisher {
	if m == nil {
		return client
	}
	return instrumentedPublisher{StatusPublisher: client, metrics: m}
}

// instrumentedPublisher StatusPublisher counting channel creations
type instrumentedPublisher struct {
	dataplane.StatusPublisher
	metrics *StatusMetrics
}

// OpenChannel open a new publishing channel to a topic
func (p instrumentedPublisher) OpenChannel(
	ctxt context.Context, topic string,
) (dataplane.StatusChannel, error) {
	channel, err := p.StatusPublisher.OpenChannel(ctxt, topic)
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.metrics.channelOpens.WithLabelValues(topic, result).Inc()
	return channel, err
}
