// Package metrics exposes prometheus instrumentation for chat sessions.
//
// All Collector methods are safe to call on a nil receiver, so components can
// take an optional *Collector without guarding every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-go-golems/parley/pkg/turns"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBusy    = "busy"
	OutcomeSkipped = "skipped"

	DefaultEncoding = tokenizer.Cl100kBase
)

type Collector struct {
	registry *prometheus.Registry
	codec    tokenizer.Codec

	sends             *prometheus.CounterVec
	completionLatency prometheus.Histogram
	archives          *prometheus.CounterVec
	promptTokens      prometheus.Histogram
	historyUpdates    prometheus.Counter
}

type Option func(*Collector) error

// WithEncoding selects the tokenizer used to estimate prompt sizes.
func WithEncoding(encoding tokenizer.Encoding) Option {
	return func(c *Collector) error {
		codec, err := tokenizer.Get(encoding)
		if err != nil {
			return errors.Wrapf(err, "could not load tokenizer %s", encoding)
		}
		c.codec = codec
		return nil
	}
}

// WithRegistry registers the collectors on registry instead of a fresh one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Collector) error {
		if registry == nil {
			return errors.New("nil prometheus registry")
		}
		c.registry = registry
		return nil
	}
}

func NewCollector(namespace string, options ...Option) (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages submitted to the session, by outcome.",
		}, []string{"outcome"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Latency of completion requests.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_archived_total",
			Help:      "Archive attempts on new chat, by outcome.",
		}, []string{"outcome"}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated token count of conversations sent for completion.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
		historyUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_updates_total",
			Help:      "History snapshots delivered to subscribers.",
		}),
	}
	if err := WithEncoding(DefaultEncoding)(c); err != nil {
		return nil, err
	}
	for _, o := range options {
		if err := o(c); err != nil {
			return nil, err
		}
	}

	for _, collector := range []prometheus.Collector{
		c.sends, c.completionLatency, c.archives, c.promptTokens, c.historyUpdates,
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, errors.Wrap(err, "could not register metrics")
		}
	}
	return c, nil
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's registry in the prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveSend(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.sends.WithLabelValues(outcome).Inc()
	if d > 0 {
		c.completionLatency.Observe(d.Seconds())
	}
}

func (c *Collector) ObserveArchive(outcome string) {
	if c == nil {
		return
	}
	c.archives.WithLabelValues(outcome).Inc()
}

func (c *Collector) ObserveHistoryUpdate() {
	if c == nil {
		return
	}
	c.historyUpdates.Inc()
}

// ObservePrompt records the estimated token count of conv and returns it.
func (c *Collector) ObservePrompt(conv turns.Conversation) int {
	if c == nil {
		return 0
	}
	n := c.CountTokens(conv)
	c.promptTokens.Observe(float64(n))
	return n
}

func (c *Collector) CountTokens(conv turns.Conversation) int {
	if c == nil || c.codec == nil {
		return 0
	}
	total := 0
	for _, t := range conv {
		ids, _, err := c.codec.Encode(t.Content)
		if err != nil {
			log.Debug().Err(err).Msg("could not tokenize turn")
			continue
		}
		total += len(ids)
	}
	return total
}
