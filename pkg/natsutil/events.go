package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

const (
	eventSpecVersion = "1.0"
	eventTypePrefix  = "com.carverauto.hostpulse."

	subjectGateReady       = "events.gate.ready"
	subjectGateUnreachable = "events.gate.unreachable"
	subjectPollCompleted   = "events.poll.completed"
	subjectPollFailed      = "events.poll.failed"

	// publishTimeout bounds a single publish so a slow broker can never
	// stall the poll path.
	publishTimeout = 5 * time.Second
)

// EventPublisher publishes CloudEvents to a NATS JetStream stream. Publish
// failures are logged and counted, never surfaced to the caller.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	source string
	logger logger.Logger

	published atomic.Int64
	failures  atomic.Int64
}

// NewEventPublisher creates an EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName, source string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		source: source,
		logger: log,
	}
}

// PublishGateTransition publishes a dependency readiness transition.
func (p *EventPublisher) PublishGateTransition(ctx context.Context, data models.GateEventData) {
	subject := subjectGateUnreachable
	if data.CurrentState == models.ReadinessReady.String() {
		subject = subjectGateReady
	}

	p.publish(ctx, subject, data.Timestamp, data)
}

// PublishPollResult publishes the outcome of one poll task.
func (p *EventPublisher) PublishPollResult(ctx context.Context, data models.PollEventData) {
	subject := subjectPollFailed
	if data.Succeeded {
		subject = subjectPollCompleted
	}

	p.publish(ctx, subject, data.CompletedAt, data)
}

// Published reports how many events reached the stream.
func (p *EventPublisher) Published() int64 {
	return p.published.Load()
}

// Failures reports how many publishes were dropped.
func (p *EventPublisher) Failures() int64 {
	return p.failures.Load()
}

func (p *EventPublisher) publish(ctx context.Context, subject string, eventTime time.Time, data interface{}) {
	event := models.CloudEvent{
		SpecVersion:     eventSpecVersion,
		ID:              uuid.New().String(),
		Source:          p.source,
		Type:            eventTypePrefix + strings.TrimPrefix(subject, "events."),
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &eventTime,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to marshal event")

		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack, err := p.js.Publish(publishCtx, subject, eventBytes)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish event")

		return
	}

	p.published.Add(1)
	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Uint64("seq", ack.Sequence).
		Msg("published event")
}

// Connect dials the broker, makes sure the event stream covers every subject
// the publisher emits, and returns the publisher together with its
// connection. The caller owns closing the connection.
func Connect(
	ctx context.Context,
	natsCfg *models.NATSConfig,
	eventsCfg *models.EventsConfig,
	source string,
	log logger.Logger,
) (*EventPublisher, *nats.Conn, error) {
	opts, err := connectOptions(natsCfg, log)
	if err != nil {
		return nil, nil, err
	}

	nc, err := nats.Connect(natsCfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, eventsCfg.StreamName, eventsCfg.Subjects, log); err != nil {
		nc.Close()
		return nil, nil, err
	}

	return NewEventPublisher(js, eventsCfg.StreamName, source, log), nc, nil
}

func connectOptions(cfg *models.NATSConfig, log logger.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("hostpulse"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	tlsOpts, err := TLSOptions(cfg)
	if err != nil {
		return nil, err
	}

	return append(opts, tlsOpts...), nil
}

// ensureStream guarantees the stream exists and its subject list covers
// every event the publisher emits, widening an existing stream if an
// operator configured it narrower.
func ensureStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string, log logger.Logger) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		streamConfig := jetstream.StreamConfig{
			Name:     name,
			Subjects: coverPublishedSubjects(subjects),
		}

		if _, err := js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		log.Info().Str("stream", name).Strs("subjects", streamConfig.Subjects).Msg("created JetStream event stream")

		return nil
	}

	existing := stream.CachedInfo().Config
	widened := coverPublishedSubjects(existing.Subjects)

	if len(widened) == len(existing.Subjects) {
		return nil
	}

	existing.Subjects = widened

	if _, err := js.CreateOrUpdateStream(ctx, existing); err != nil {
		return fmt.Errorf("failed to widen stream %s subjects: %w", name, err)
	}

	log.Info().Str("stream", name).Strs("subjects", widened).Msg("widened JetStream event stream subjects")

	return nil
}

// coverPublishedSubjects appends any published subject the given list does
// not already match.
func coverPublishedSubjects(subjects []string) []string {
	out := append([]string(nil), subjects...)

	for _, subject := range []string{
		subjectGateReady,
		subjectGateUnreachable,
		subjectPollCompleted,
		subjectPollFailed,
	} {
		out = ensureSubjectList(out, subject)
	}

	return out
}

func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern, possibly holding *
// or a terminal >, matches the concrete subject.
func matchesSubject(pattern, subject string) bool {
	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			return i == len(patternTokens)-1
		}

		if i >= len(subjectTokens) {
			return false
		}

		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}

	return len(patternTokens) == len(subjectTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
