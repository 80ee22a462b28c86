// Package runner provides a concurrent flow execution service backed by NATS
// JetStream. It pulls run requests from a stream, executes the requested flow
// over the carried context with a worker pool, and publishes per-run results,
// offloading oversized final contexts to blob storage.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/message"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/tracing"
)

// DefaultInlineResultLimit is the largest serialized context published
// inline; bigger results are offloaded to blob storage when a result store
// is configured.
const DefaultInlineResultLimit = 1_500_000

// Config holds runner configuration.
type Config struct {
	// Stream is the JetStream stream run requests are pulled from
	Stream string

	// Consumer is the durable consumer name
	Consumer string

	// ResultSubject is the subject run results are published to
	ResultSubject string

	// BatchSize is how many requests to pull at once
	BatchSize int

	// NumWorkers is the number of worker goroutines
	NumWorkers int

	// ProcessTimeout bounds a single flow run
	ProcessTimeout time.Duration

	// InlineResultLimit is the inline result size cutoff in bytes;
	// zero means DefaultInlineResultLimit
	InlineResultLimit int

	// Tracing optionally bootstraps OTLP tracing for the runner's lifetime
	Tracing *tracing.Config
}

// Runner pulls run requests from JetStream and executes registered flows.
type Runner struct {
	conn            *nats.Conn
	js              nats.JetStreamContext
	flows           map[string]*flow.Flow
	cfg             Config
	logger          *zap.Logger
	tracer          trace.Tracer
	limiter         *concurrency.Limiter
	store           *storage.ResultStore
	tracingShutdown func(context.Context) error
}

// NewRunner creates a Runner over a connected NATS connection and a registry
// of named flows. The store is optional; without one, oversized results are
// published inline regardless of size.
func NewRunner(conn *nats.Conn, flows map[string]*flow.Flow, cfg Config, logger *zap.Logger, store *storage.ResultStore) (*Runner, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if len(flows) == 0 {
		return nil, errors.New("at least one flow must be registered")
	}
	if cfg.Stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if cfg.Consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if cfg.ResultSubject == "" {
		return nil, errors.New("result subject cannot be empty")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("batchSize must be greater than 0")
	}
	if cfg.NumWorkers <= 0 {
		return nil, errors.New("numWorkers must be greater than 0")
	}
	if cfg.ProcessTimeout <= 0 {
		return nil, errors.New("processTimeout must be greater than 0")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.InlineResultLimit <= 0 {
		cfg.InlineResultLimit = DefaultInlineResultLimit
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream context is not available: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure stream %q exists: %w", cfg.Stream, err)
	}

	breaker := concurrency.NewCircuitBreaker(100, 30*time.Second)
	r := &Runner{
		conn:    conn,
		js:      js,
		flows:   flows,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("daedalus/runner"),
		limiter: concurrency.NewLimiterWithBreaker(cfg.NumWorkers, breaker),
		store:   store,
	}

	if cfg.Tracing != nil {
		shutdown, err := tracing.Setup(context.Background(), *cfg.Tracing, logger)
		if err != nil {
			logger.Warn("failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
		}
	}

	return r, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func ensureStream(js nats.JetStreamContext, streamName string, logger *zap.Logger) error {
	info, err := js.StreamInfo(streamName)
	if err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to get stream info for %q: %w", streamName, err)
		}
		logger.Info("creating JetStream stream", zap.String("stream", streamName))
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{fmt.Sprintf("%s.*", streamName)},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
			MaxMsgs:  100000,
			Replicas: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %q: %w", streamName, err)
		}
		return nil
	}

	logger.Info("JetStream stream already exists",
		zap.String("stream", streamName),
		zap.Uint64("messages", info.State.Msgs),
		zap.Int("consumers", info.State.Consumers))
	return nil
}

// Close shuts down the runner's tracing, if configured.
func (r *Runner) Close() error {
	if r.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.tracingShutdown(ctx); err != nil {
			r.logger.Error("error shutting down tracing", zap.Error(err))
			return err
		}
	}
	return nil
}

// Run starts the processing pipeline: a puller goroutine fetching request
// batches and NumWorkers workers executing flows. It blocks until ctx is
// cancelled and all workers have finished.
func (r *Runner) Run(ctx context.Context) error {
	sub, err := r.js.PullSubscribe("", r.cfg.Consumer,
		nats.BindStream(r.cfg.Stream))
	if err != nil {
		return fmt.Errorf("failed to subscribe to stream %q: %w", r.cfg.Stream, err)
	}

	msgChan := make(chan *message.Message, r.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, msgChan)
		}(i)
	}

	go r.pull(ctx, sub, msgChan)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		r.logger.Info("runner completed")
		return nil
	case <-ctx.Done():
		r.logger.Info("runner stopped due to context cancellation")
		<-done
		return ctx.Err()
	}
}

// pull fetches request batches and feeds them to the workers, backing off
// exponentially on errors.
func (r *Runner) pull(ctx context.Context, sub *nats.Subscription, msgChan chan<- *message.Message) {
	defer close(msgChan)

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if ctx.Err() != nil {
			r.logger.Info("shutting down request puller")
			return
		}

		msgs, err := sub.Fetch(r.cfg.BatchSize, nats.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, nats.ErrTimeout) {
				r.logger.Error("error pulling requests", zap.Error(err))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
				}
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, raw := range msgs {
			msg, err := message.FromNATS(raw)
			if err != nil {
				r.logger.Error("discarding malformed request", zap.Error(err))
				// Malformed requests can never succeed; terminate them.
				_ = raw.Term()
				continue
			}
			select {
			case msgChan <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// worker processes requests from the channel.
func (r *Runner) worker(ctx context.Context, workerID int, msgChan <-chan *message.Message) {
	r.logger.Info("worker started", zap.Int("workerID", workerID))
	defer r.logger.Info("worker stopped", zap.Int("workerID", workerID))

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			if err := r.limiter.Do(ctx, func() error {
				return r.processRequest(ctx, workerID, msg)
			}); err != nil && ctx.Err() == nil {
				r.logger.Error("error processing request",
					zap.Int("workerID", workerID),
					zap.String("runID", msg.RunID),
					zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// processRequest executes one flow run and publishes its result. A run
// failure is a business outcome: it is reported as a failed result and the
// request acked. Infrastructure failures (unknown flow, publish errors) nak
// the request for redelivery.
func (r *Runner) processRequest(ctx context.Context, workerID int, msg *message.Message) error {
	ctx, span := r.tracer.Start(ctx, "runner.processRequest",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("run.id", msg.RunID),
			attribute.String("run.flow", msg.Flow),
		))
	defer span.End()

	f, ok := r.flows[msg.Flow]
	if !ok {
		span.SetStatus(codes.Error, "unknown flow")
		_ = msg.Nak()
		return fmt.Errorf("no flow registered under %q", msg.Flow)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	defer cancel()

	start := time.Now()
	r.logger.Info("running flow",
		zap.Int("workerID", workerID),
		zap.String("runID", msg.RunID),
		zap.String("flow", msg.Flow))

	final, runErr := f.Run(runCtx, msg.Context)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("run.duration_ms", elapsed.Milliseconds()))

	var result *message.Result
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.logger.Error("flow run failed",
			zap.Int("workerID", workerID),
			zap.String("runID", msg.RunID),
			zap.String("flow", msg.Flow),
			zap.Duration("duration", elapsed),
			zap.Error(runErr))
		result = message.NewFailedResult(msg.RunID, msg.Flow, runErr)
	} else {
		span.SetStatus(codes.Ok, "run completed")
		r.logger.Info("flow run completed",
			zap.Int("workerID", workerID),
			zap.String("runID", msg.RunID),
			zap.String("flow", msg.Flow),
			zap.Duration("duration", elapsed))
		result = message.NewCompletedResult(msg.RunID, msg.Flow, final)
		if err := r.maybeOffload(ctx, result, final); err != nil {
			r.logger.Warn("failed to offload result, publishing inline",
				zap.String("runID", msg.RunID),
				zap.Error(err))
		}
	}

	if err := r.publishResult(result); err != nil {
		_ = msg.Nak()
		return fmt.Errorf("failed to publish result: %w", err)
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("failed to ack request: %w", err)
	}
	return runErr
}

// maybeOffload replaces an oversized inline context with a blob reference.
func (r *Runner) maybeOffload(ctx context.Context, result *message.Result, final *flow.Context) error {
	if r.store == nil || final == nil {
		return nil
	}
	data, err := final.MarshalJSON()
	if err != nil {
		return err
	}
	if len(data) <= r.cfg.InlineResultLimit {
		return nil
	}

	url, size, err := r.store.Save(ctx, result.Flow, result.RunID, final)
	if err != nil {
		return err
	}
	result.Context = nil
	result.BlobReference = &message.BlobReference{URL: url, SizeBytes: size}
	return nil
}

func (r *Runner) publishResult(result *message.Result) error {
	data, err := result.Marshal()
	if err != nil {
		return err
	}
	_, err = r.js.Publish(r.cfg.ResultSubject, data)
	return err
}
