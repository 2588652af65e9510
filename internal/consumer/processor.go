// Package consumer pulls xAPI statements from Kafka and feeds them into the
// reactive dispatch path.
package consumer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/normalizer"
)

const defaultRetryBackoff = 3 * time.Second

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives normalized activity events.
type Handler interface {
	Handle(context.Context, domain.ActivityEvent) error
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetryBackoff overrides the pause between retries of a statement whose
// handling failed.
func WithRetryBackoff(backoff time.Duration) Option {
	return func(p *Processor) {
		if backoff > 0 {
			p.retryBackoff = backoff
		}
	}
}

// Processor pulls raw statements from Kafka, normalizes them, and dispatches
// to a Handler.
type Processor struct {
	reader       Reader
	handler      Handler
	logger       *log.Logger
	retryBackoff time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		logger:       log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes statements until the context is
// cancelled. Malformed statements and statements carrying verbs outside the
// activity vocabulary are committed and dropped so a single bad record cannot
// wedge the partition. A handler failure suspends intake: the same statement
// is retried with backoff until it succeeds or the context ends, so a later
// commit can never cover a statement that was not applied.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		event, normErr := normalizer.Normalize(msg.Value)
		if normErr != nil {
			p.logger.Printf("rejected statement (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, normErr)
			recordRejected(msg.Topic, rejectReason(normErr))
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after reject: %v", commitErr)
			}
			continue
		}

		for {
			handleErr := p.handler.Handle(ctx, event)
			if handleErr == nil {
				break
			}
			if errors.Is(handleErr, context.Canceled) {
				return handleErr
			}
			p.logger.Printf("handler error, retrying in %s (verb=%s, learner=%s): %v",
				p.retryBackoff, event.Verb, event.LearnerID, handleErr)
			recordHandlerError(msg.Topic, event.Verb)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryBackoff):
			}
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(msg.Topic, event)
		}
	}
}

func rejectReason(err error) string {
	if errors.Is(err, domain.ErrUnknownVerb) {
		return "unknown_verb"
	}
	return "malformed"
}
