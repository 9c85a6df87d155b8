package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "streamkit/backend"

// Instruments are created against the global meter, which forwards to the
// provider installed by Setup even when created earlier.
type Instruments struct {
	chatMessages       otelmetric.Int64Counter
	moderationActions  otelmetric.Int64Counter
	reactionsPublished otelmetric.Int64Counter
	reactionsDropped   otelmetric.Int64Counter
	pollVotes          otelmetric.Int64Counter
	quizAnswers        otelmetric.Int64Counter
	ledgerFailures     otelmetric.Int64Counter
	wsConnections      otelmetric.Int64UpDownCounter
}

var (
	instruments     *Instruments
	instrumentsOnce sync.Once
)

// Metrics returns the process-wide instruments
func Metrics() *Instruments {
	instrumentsOnce.Do(func() {
		m := otel.Meter(instrumentationName)
		i := &Instruments{}
		i.chatMessages, _ = m.Int64Counter("chat_messages_total",
			otelmetric.WithDescription("Chat messages by pipeline outcome"))
		i.moderationActions, _ = m.Int64Counter("moderation_actions_total",
			otelmetric.WithDescription("Privileged moderation actions"))
		i.reactionsPublished, _ = m.Int64Counter("reactions_published_total")
		i.reactionsDropped, _ = m.Int64Counter("reactions_dropped_total",
			otelmetric.WithDescription("Reaction events dropped for slow subscribers"))
		i.pollVotes, _ = m.Int64Counter("poll_votes_total")
		i.quizAnswers, _ = m.Int64Counter("quiz_answers_total")
		i.ledgerFailures, _ = m.Int64Counter("ledger_write_failures_total")
		i.wsConnections, _ = m.Int64UpDownCounter("ws_connections",
			otelmetric.WithDescription("Open websocket connections"))
		instruments = i
	})
	return instruments
}

// ChatMessage counts a pipeline outcome (persisted, rejected) with its reason
func (i *Instruments) ChatMessage(ctx context.Context, outcome, reason string) {
	i.chatMessages.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	))
}

// ModerationAction counts a privileged action
func (i *Instruments) ModerationAction(ctx context.Context, action string) {
	i.moderationActions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("action", action)))
}

// ReactionPublished counts a reaction accepted by the bus
func (i *Instruments) ReactionPublished(ctx context.Context, kind string) {
	i.reactionsPublished.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", kind)))
}

// ReactionsDropped counts events lost to full subscriber buffers
func (i *Instruments) ReactionsDropped(ctx context.Context, n int64) {
	i.reactionsDropped.Add(ctx, n)
}

// PollVote counts an accepted vote
func (i *Instruments) PollVote(ctx context.Context) {
	i.pollVotes.Add(ctx, 1)
}

// QuizAnswer counts an accepted answer
func (i *Instruments) QuizAnswer(ctx context.Context, correct bool) {
	i.quizAnswers.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("correct", correct)))
}

// LedgerFailure counts a failed analytics write
func (i *Instruments) LedgerFailure(ctx context.Context, interactionType string) {
	i.ledgerFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("type", interactionType)))
}

// ConnectionOpened increments the websocket gauge
func (i *Instruments) ConnectionOpened(ctx context.Context) { i.wsConnections.Add(ctx, 1) }

// ConnectionClosed decrements the websocket gauge
func (i *Instruments) ConnectionClosed(ctx context.Context) { i.wsConnections.Add(ctx, -1) }

// StartSpan starts a span on the global tracer
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// RecordError marks the span failed
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
