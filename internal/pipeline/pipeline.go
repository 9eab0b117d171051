package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dzkmrn/urgency-detection-service/internal/audio"
	"github.com/dzkmrn/urgency-detection-service/internal/decision"
	"github.com/dzkmrn/urgency-detection-service/internal/feature"
	"github.com/dzkmrn/urgency-detection-service/internal/metrics"
	"github.com/dzkmrn/urgency-detection-service/internal/model"
	"github.com/dzkmrn/urgency-detection-service/internal/notify"
	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

// stage identifies where a submission currently is. Stages are internal:
// they appear in logs and failure metrics, never in caller responses.
type stage string

const (
	stageDecode  stage = "decode"
	stageArchive stage = "archive"
	stageExtract stage = "extract"
	stageScore   stage = "score"
	stageDecide  stage = "decide"
	stagePersist stage = "persist"
	stageNotify  stage = "notify"
)

// Result is the terminal successful response for one submission.
type Result struct {
	IsUrgent   bool
	Confidence float64
}

// Options tunes pipeline behavior.
type Options struct {
	// StrictDurability makes a persistence failure fail the whole
	// submission. When false (the default), the computed verdict is
	// still returned and the failure is only logged and metered.
	StrictDurability bool
}

// RecordStore is the write path the pipeline needs from the record
// store. *store.Gateway satisfies it.
type RecordStore interface {
	Append(ctx context.Context, rec *store.DetectionRecord) (string, error)
}

// Pipeline orchestrates the detection flow for audio submissions. It is
// safe for concurrent invocations: the classifier serializes inference
// internally, and store and hub are concurrency-safe.
type Pipeline struct {
	logger     *slog.Logger
	extractor  *feature.Extractor
	classifier *model.Classifier
	engine     *decision.Engine
	gateway    RecordStore
	hub        *notify.Hub
	archiver   *audio.Archiver
	metrics    *metrics.Metrics
	opts       Options
}

// New wires the pipeline and verifies the classifier head matches the
// decision policy. The two variants must never be mixed: a threshold
// policy over a softmax head (or argmax over sigmoid) silently produces
// wrong predictions.
func New(logger *slog.Logger, extractor *feature.Extractor, classifier *model.Classifier,
	engine *decision.Engine, gateway RecordStore, hub *notify.Hub,
	archiver *audio.Archiver, m *metrics.Metrics, opts Options) (*Pipeline, error) {

	switch engine.Policy() {
	case decision.PolicyThreshold:
		if classifier.Head() != model.HeadSigmoid {
			return nil, fmt.Errorf("threshold policy requires a sigmoid-head artifact, loaded artifact has head %q", classifier.Head())
		}
	case decision.PolicyArgmax:
		if classifier.Head() != model.HeadSoftmax {
			return nil, fmt.Errorf("argmax policy requires a softmax-head artifact, loaded artifact has head %q", classifier.Head())
		}
	}

	return &Pipeline{
		logger:     logger,
		extractor:  extractor,
		classifier: classifier,
		engine:     engine,
		gateway:    gateway,
		hub:        hub,
		archiver:   archiver,
		metrics:    m,
		opts:       opts,
	}, nil
}

// Process runs one submission through the full pipeline. Any error before
// the verdict aborts with no partial record. After the verdict,
// persistence and notification are both attempted; under the non-strict
// durability policy their failures do not affect the returned result.
func (p *Pipeline) Process(ctx context.Context, wavData []byte, userID string) (*Result, error) {
	p.metrics.RecordSubmissionReceived()

	if userID == "" {
		userID = store.DefaultUserID
	}

	logger := p.logger.With(slog.String("user_id", userID))

	samples, sampleRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		return nil, p.fail(logger, stageDecode, fmt.Errorf("failed to decode audio: %w", err))
	}

	logger.Info("Audio decoded",
		slog.Int("samples", len(samples)),
		slog.Int("sample_rate", sampleRate),
		slog.Float64("duration_seconds", float64(len(samples))/float64(sampleRate)),
	)

	audioPath, err := p.archiver.Save(userID, wavData)
	if err != nil {
		return nil, p.fail(logger, stageArchive, err)
	}

	buf, err := audio.NewBufferFromPCM(samples, sampleRate)
	if err != nil {
		return nil, p.fail(logger, stageDecode, err)
	}

	extractStart := time.Now()
	tensor, err := p.extractor.Extract(buf)
	if err != nil {
		return nil, p.fail(logger, stageExtract, err)
	}
	p.metrics.RecordExtraction(time.Since(extractStart).Seconds())

	inferStart := time.Now()
	scores, err := p.classifier.Infer(tensor)
	if err != nil {
		return nil, p.fail(logger, stageScore, err)
	}
	p.metrics.RecordInference(time.Since(inferStart).Seconds())

	verdict, err := p.engine.Decide(scores)
	if err != nil {
		return nil, p.fail(logger, stageDecide, err)
	}

	logger.Info("Classification complete",
		slog.Bool("is_urgent", verdict.IsUrgent),
		slog.Float64("confidence", verdict.Confidence),
	)

	record := &store.DetectionRecord{
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
		AudioPath:  audioPath,
		IsUrgent:   verdict.IsUrgent,
		Confidence: verdict.Confidence,
	}

	// Persistence and notification are attempted independently: a
	// failure in one is logged and metered but never aborts the other.
	persistErr := p.persist(ctx, logger, record)
	p.publish(logger, *record)

	if persistErr != nil && p.opts.StrictDurability {
		return nil, persistErr
	}

	p.metrics.RecordSubmissionCompleted(verdict.IsUrgent, verdict.Confidence)

	return &Result{
		IsUrgent:   verdict.IsUrgent,
		Confidence: verdict.Confidence,
	}, nil
}

// persist writes the detection record, applying the durability policy.
func (p *Pipeline) persist(ctx context.Context, logger *slog.Logger, record *store.DetectionRecord) error {
	id, err := p.gateway.Append(ctx, record)
	if err != nil {
		p.metrics.RecordPersistenceFailure()
		p.metrics.RecordSubmissionFailed(string(stagePersist))
		logger.Error("Failed to persist detection record",
			slog.Bool("strict_durability", p.opts.StrictDurability),
			slog.String("error", err.Error()),
		)
		return err
	}

	p.metrics.RecordPersisted()
	logger.Info("Detection record persisted", slog.String("record_id", id))
	return nil
}

// publish broadcasts the record to live subscribers. Zero subscribers is
// a successful no-op; drops are counted, never surfaced.
func (p *Pipeline) publish(logger *slog.Logger, record store.DetectionRecord) {
	delivered, dropped := p.hub.Publish(record)
	p.metrics.RecordNotification(delivered, dropped)
	p.metrics.SetSubscribers(delivered + dropped)

	if dropped > 0 {
		p.metrics.RecordSubmissionFailed(string(stageNotify))
	}

	logger.Info("Detection event published",
		slog.String("record_id", record.ID),
		slog.Int("delivered", delivered),
		slog.Int("dropped", dropped),
	)
}

// fail records a pre-verdict stage failure. No partial record exists at
// this point.
func (p *Pipeline) fail(logger *slog.Logger, s stage, err error) error {
	p.metrics.RecordSubmissionFailed(string(s))
	logger.Error("Submission failed",
		slog.String("stage", string(s)),
		slog.String("error", err.Error()),
	)
	return err
}
