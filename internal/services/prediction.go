package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"purrcast/internal/observability"
)

const (
	predictionTopic = "prediction.pending"

	// DeadLetterKey is the Redis list holding jobs that exhausted their retries.
	DeadLetterKey = "purrcast:predictions:dead"
)

// PredictionJob asks the external predictor to classify one stored image.
type PredictionJob struct {
	JobID      string    `json:"job_id"`
	ImageURL   string    `json:"image_url"`
	PostID     uint      `json:"post_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Predictor submits a job. Implementations must not wait for the verdict.
type Predictor interface {
	Submit(ctx context.Context, job PredictionJob) error
}

// DeadLetterSink records jobs that could not be submitted.
type DeadLetterSink interface {
	Put(ctx context.Context, job PredictionJob, cause error) error
}

type DispatcherConfig struct {
	Workers        int
	MaxAttempts    int
	QueueSize      int // jobs accepted but not yet taken by a worker
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Dispatcher decouples prediction submission from the request path. Dispatch
// publishes onto an in-process bus; a worker pool started by Start submits
// each job with bounded retries and dead-letters the ones that keep failing.
type Dispatcher struct {
	bus       *gochannel.GoChannel
	predictor Predictor
	dead      DeadLetterSink
	cfg       DispatcherConfig
	log       logrus.FieldLogger
	metrics   *observability.Metrics

	// slots is held from Dispatch until a worker takes the job.
	slots chan struct{}

	started atomic.Bool
	wg      sync.WaitGroup
}

func NewDispatcher(predictor Predictor, dead DeadLetterSink, cfg DispatcherConfig, log logrus.FieldLogger, metrics *observability.Metrics) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}

	bus := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(cfg.QueueSize),
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NopLogger{},
	)
	return &Dispatcher{
		bus:       bus,
		predictor: predictor,
		dead:      dead,
		cfg:       cfg,
		log:       log.WithField("component", "dispatcher"),
		metrics:   metrics,
		slots:     make(chan struct{}, cfg.QueueSize),
	}
}

// Dispatch enqueues a job and returns immediately. Failures are logged and
// counted, never returned: the caller's post is already committed. A full
// queue drops the job; the sweeper picks the post up later.
func (d *Dispatcher) Dispatch(ctx context.Context, imageURL string, postID uint) {
	job := PredictionJob{
		JobID:      uuid.NewString(),
		ImageURL:   imageURL,
		PostID:     postID,
		EnqueuedAt: time.Now().UTC(),
	}
	fields := logrus.Fields{"job_id": job.JobID, "post_id": postID}

	if !d.started.Load() {
		d.log.WithFields(fields).Error("dispatcher not started, dropping prediction job")
		d.metrics.PredictionJobs.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case d.slots <- struct{}{}:
	default:
		d.log.WithFields(fields).Warn("prediction queue full, dropping job")
		d.metrics.PredictionJobs.WithLabelValues("dropped").Inc()
		return
	}

	data, err := json.Marshal(job)
	if err != nil {
		d.release()
		d.log.WithError(err).WithFields(fields).Error("encode prediction job")
		d.metrics.PredictionJobs.WithLabelValues("dropped").Inc()
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(context.WithoutCancel(ctx))
	if err := d.bus.Publish(predictionTopic, msg); err != nil {
		d.release()
		d.log.WithError(err).WithFields(fields).Error("publish prediction job")
		d.metrics.PredictionJobs.WithLabelValues("dropped").Inc()
		return
	}
	d.metrics.PredictionsDispatched.Inc()
	d.log.WithFields(fields).Debug("prediction job dispatched")
}

// Start subscribes to the bus and runs the worker pool until Close.
func (d *Dispatcher) Start(ctx context.Context) error {
	messages, err := d.bus.Subscribe(ctx, predictionTopic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", predictionTopic, err)
	}

	jobs := make(chan PredictionJob, d.cfg.QueueSize)

	// A gochannel subscriber holds back the next message until the current
	// one is acked, so the reader acks on handoff and the pool does the work.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(jobs)
		for msg := range messages {
			var job PredictionJob
			if err := json.Unmarshal(msg.Payload, &job); err != nil {
				d.log.WithError(err).WithField("message_uuid", msg.UUID).Error("discarding malformed prediction job")
				d.release()
				msg.Ack()
				continue
			}
			jobs <- job
			msg.Ack()
		}
	}()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for job := range jobs {
				d.release()
				d.process(ctx, job)
			}
		}()
	}

	d.started.Store(true)
	d.log.WithField("workers", d.cfg.Workers).Info("prediction dispatcher started")
	return nil
}

// Close stops accepting jobs and waits for in-flight ones to finish.
func (d *Dispatcher) Close() error {
	d.started.Store(false)
	err := d.bus.Close()
	d.wg.Wait()
	return err
}

func (d *Dispatcher) release() {
	select {
	case <-d.slots:
	default:
	}
}

func (d *Dispatcher) process(ctx context.Context, job PredictionJob) {
	log := d.log.WithFields(logrus.Fields{"job_id": job.JobID, "post_id": job.PostID})
	backoff := d.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		lastErr = d.submit(ctx, job)
		if lastErr == nil {
			d.metrics.PredictionJobs.WithLabelValues("success").Inc()
			log.WithField("attempt", attempt).Info("prediction job submitted")
			return
		}
		if attempt == d.cfg.MaxAttempts {
			break
		}

		d.metrics.PredictionJobs.WithLabelValues("retry").Inc()
		log.WithError(lastErr).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": backoff,
		}).Warn("prediction submit failed, retrying")
		if !sleepWithContext(ctx, backoff) {
			lastErr = fmt.Errorf("shutdown before retry: %w", lastErr)
			break
		}
		backoff = nextBackoff(backoff, d.cfg.MaxBackoff)
	}

	d.metrics.PredictionJobs.WithLabelValues("dead_letter").Inc()
	log.WithError(lastErr).Error("prediction job exhausted retries")
	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.dead.Put(dlCtx, job, lastErr); err != nil {
		log.WithError(err).Error("failed to dead-letter prediction job")
	}
}

func (d *Dispatcher) submit(ctx context.Context, job PredictionJob) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	return d.predictor.Submit(ctx, job)
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// HTTPPredictor posts jobs as JSON to the predictor service.
type HTTPPredictor struct {
	url    string
	client *http.Client
}

func NewHTTPPredictor(url string, timeout time.Duration) *HTTPPredictor {
	return &HTTPPredictor{url: url, client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPredictor) Submit(ctx context.Context, job PredictionJob) error {
	body, err := json.Marshal(map[string]any{
		"imageURL": job.ImageURL,
		"postID":   job.PostID,
		"jobID":    job.JobID,
	})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("predictor request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("predictor returned status %d", resp.StatusCode)
	}
	return nil
}

// LambdaPredictor invokes a Lambda function asynchronously.
type LambdaPredictor struct {
	function string
	client   lambdaiface.LambdaAPI
}

func NewLambdaPredictor(function, region string) (*LambdaPredictor, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &LambdaPredictor{function: function, client: lambda.New(sess)}, nil
}

func (p *LambdaPredictor) Submit(ctx context.Context, job PredictionJob) error {
	payload, err := json.Marshal(map[string]any{
		"imageURL": job.ImageURL,
		"postID":   job.PostID,
		"jobID":    job.JobID,
	})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	out, err := p.client.InvokeWithContext(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(p.function),
		InvocationType: aws.String(lambda.InvocationTypeEvent),
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke %s: %w", p.function, err)
	}
	if out.FunctionError != nil {
		return fmt.Errorf("invoke %s: function error %s", p.function, aws.StringValue(out.FunctionError))
	}
	if code := aws.Int64Value(out.StatusCode); code != http.StatusAccepted {
		return fmt.Errorf("invoke %s: unexpected status %d", p.function, code)
	}
	return nil
}

type deadLetter struct {
	Job      PredictionJob `json:"job"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

type listPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisDeadLetters appends failed jobs to a Redis list for later replay.
type RedisDeadLetters struct {
	client listPusher
	key    string
}

func NewRedisDeadLetters(client *redis.Client) *RedisDeadLetters {
	return &RedisDeadLetters{client: client, key: DeadLetterKey}
}

func (r *RedisDeadLetters) Put(ctx context.Context, job PredictionJob, cause error) error {
	data, err := json.Marshal(deadLetter{Job: job, Error: errString(cause), FailedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key, data).Err()
}

// LogDeadLetters only logs failed jobs; the sweeper picks them up again.
type LogDeadLetters struct {
	log logrus.FieldLogger
}

func NewLogDeadLetters(log logrus.FieldLogger) *LogDeadLetters {
	return &LogDeadLetters{log: log.WithField("component", "dead_letters")}
}

func (l *LogDeadLetters) Put(_ context.Context, job PredictionJob, cause error) error {
	l.log.WithFields(logrus.Fields{
		"job_id":    job.JobID,
		"post_id":   job.PostID,
		"image_url": job.ImageURL,
	}).WithError(cause).Error("prediction job dead-lettered")
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var errNoPredictor = errors.New("no predictor configured")

// NopPredictor fails every job. It backs PREDICTOR_KIND=http with no URL so
// jobs land in the dead-letter path instead of vanishing.
type NopPredictor struct{}

func (NopPredictor) Submit(context.Context, PredictionJob) error { return errNoPredictor }
