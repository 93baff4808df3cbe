// Package pipeline drives a queued response through preprocessing,
// analysis, persistence, rule evaluation and event emission.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"emotrack-go/internal/alerts"
	"emotrack-go/internal/analysis"
	"emotrack-go/internal/events"
	"emotrack-go/internal/logger"
	"emotrack-go/internal/metrics"
	"emotrack-go/internal/queue"
	"emotrack-go/internal/store"
	"emotrack-go/internal/types"
)

const forcedModelVersion = "forced-intensity"

// Analyzer produces an analysis for text plus optional audio features.
type Analyzer interface {
	Analyze(ctx context.Context, text string, features types.AudioFeatures) (types.AnalysisResult, error)
}

// AudioProcessor is the subset of audio.Preprocessor the pipeline drives.
type AudioProcessor interface {
	FeaturesEnabled() bool
	TranscriptionEnabled() bool
	Normalize(ctx context.Context, path string) string
	Compress(ctx context.Context, path string) string
	ExtractFeatures(ctx context.Context, path string) (types.AudioFeatures, error)
	Transcribe(ctx context.Context, path string) (string, bool)
	SweepExpired(ctx context.Context) (int, error)
}

type Deps struct {
	Store    store.UnitOfWork
	Audio    AudioProcessor
	Analyzer Analyzer
	Engine   *alerts.Engine
	Events   events.Publisher
	Queue    queue.Queue
	Sealer   *Sealer
}

type Orchestrator struct {
	uow      store.UnitOfWork
	audio    AudioProcessor
	analyzer Analyzer
	engine   *alerts.Engine
	events   events.Publisher
	queue    queue.Queue
	sealer   *Sealer
	now      func() time.Time
	log      *logger.Logger
}

func New(d Deps, log *logger.Logger) *Orchestrator {
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Sealer == nil {
		d.Sealer = NewSealer(nil, log)
	}
	return &Orchestrator{
		uow:      d.Store,
		audio:    d.Audio,
		analyzer: d.Analyzer,
		engine:   d.Engine,
		events:   d.Events,
		queue:    d.Queue,
		sealer:   d.Sealer,
		now:      time.Now,
		log:      log.Component("pipeline"),
	}
}

// SetClock overrides the clock used for stub analyses.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// Register binds the pipeline handlers to p.
func (o *Orchestrator) Register(p *queue.Pool) {
	p.Handle(queue.KindAnalyze, o.Analyze)
	p.Handle(queue.KindTranscribe, o.Transcribe)
	p.Handle(queue.KindSweepAudio, o.Sweep)
}

// Submission is one response accepted at ingress. Audio must already be
// validated.
type Submission struct {
	ChildID        *int64
	ChildName      string
	Text           string
	Emoji          string
	Audio          *types.AudioArtifact
	ForceIntensity *float64
}

// Submit creates the QUEUED record, enqueues its analysis job and publishes
// task_queued.
func (o *Orchestrator) Submit(ctx context.Context, s Submission) (string, int64, error) {
	taskID := uuid.NewString()
	rec := &types.ResponseRecord{
		ChildID:   s.ChildID,
		ChildName: s.ChildName,
		Text:      s.Text,
		Emoji:     s.Emoji,
		Audio:     s.Audio,
		Status:    types.StatusQueued,
		TaskID:    taskID,
	}
	if err := o.uow.CreateResponse(ctx, rec); err != nil {
		return "", 0, fmt.Errorf("create response: %w", err)
	}

	job := queue.Job{
		ID:             taskID,
		Kind:           queue.KindAnalyze,
		ResponseID:     rec.ID,
		ChildID:        s.ChildID,
		Text:           s.Text,
		ForceIntensity: s.ForceIntensity,
	}
	if s.Audio != nil {
		job.AudioPath = s.Audio.Path
	}
	if _, err := o.queue.Enqueue(ctx, job); err != nil {
		o.markFailed(ctx, rec.ID, o.log.Entry)
		return "", rec.ID, fmt.Errorf("enqueue analysis: %w", err)
	}

	o.events.Publish(ctx, events.New(events.TaskQueued, map[string]any{
		"task_id":     taskID,
		"response_id": rec.ID,
		"child_id":    s.ChildID,
	}))
	return taskID, rec.ID, nil
}

// TaskStatus reports the queue status of a submitted task.
func (o *Orchestrator) TaskStatus(ctx context.Context, taskID string) (queue.Status, error) {
	return o.queue.Status(ctx, taskID)
}

// Analyze processes one analysis job. Every stage degrades on failure; an
// error is returned only when the terminal state could not be written.
func (o *Orchestrator) Analyze(ctx context.Context, job queue.Job) error {
	log := o.log.With(logrus.Fields{"job_id": job.ID, "response_id": job.ResponseID})
	o.events.Publish(ctx, events.New(events.AnalysisStarted, map[string]any{
		"task_id":     job.ID,
		"response_id": job.ResponseID,
	}))

	path := job.AudioPath
	var features types.AudioFeatures
	if path != "" && o.audio != nil && o.audio.FeaturesEnabled() {
		var fail *StageFailure
		path, features, fail = o.audioStage(ctx, path)
		o.degrade(log, fail)
	}

	if job.AudioPath != "" && o.audio != nil && o.audio.TranscriptionEnabled() {
		o.degrade(log, o.queueTranscription(ctx, job, path))
	}

	result, fail := o.analysisStage(ctx, job, features)
	o.degrade(log, fail)
	result = finalizeContract(result, job.AudioPath != "", features)

	if job.ResponseID == 0 {
		log.Warn("job has no response record, result not persisted")
	} else {
		created, err := o.persist(ctx, job, path, result, log)
		if err != nil {
			log.WithError(err).Error("persistence failed")
			o.markFailed(ctx, job.ResponseID, log.Entry)
			return err
		}
		for _, a := range created {
			o.events.Publish(ctx, events.New(events.AlertCreated, map[string]any{
				"alert": map[string]any{
					"id":           a.ID,
					"child_id":     a.ChildID,
					"response_id":  a.ResponseID,
					"alert_type":   a.Type,
					"severity":     a.Severity,
					"rule_version": a.RuleVersion,
					"message":      a.Message,
				},
			}))
		}
	}

	o.events.Publish(ctx, events.New(events.TaskCompleted, map[string]any{
		"task_id":         job.ID,
		"response_id":     job.ResponseID,
		"status":          types.StatusCompleted,
		"emotion":         result.PrimaryEmotion,
		"intensity":       result.Intensity,
		"model_version":   result.ModelVersion,
		"fallback_reason": result.FallbackReason(),
	}))
	return nil
}

// audioStage normalizes, compresses and describes the artifact. On failure
// it returns the latest good path and the features obtained so far.
func (o *Orchestrator) audioStage(ctx context.Context, path string) (finalPath string, features types.AudioFeatures, fail *StageFailure) {
	finalPath = path
	defer func() {
		if r := recover(); r != nil {
			fail = recovered("audio", r)
		}
	}()

	finalPath = o.audio.Normalize(ctx, finalPath)
	finalPath = o.audio.Compress(ctx, finalPath)
	f, err := o.audio.ExtractFeatures(ctx, finalPath)
	if len(f) > 0 {
		features = f
	}
	if err != nil {
		return finalPath, features, failure("audio", "features_failed", err)
	}
	return finalPath, features, nil
}

func (o *Orchestrator) queueTranscription(ctx context.Context, job queue.Job, path string) *StageFailure {
	id, err := o.queue.Enqueue(ctx, queue.Job{
		Kind:       queue.KindTranscribe,
		ResponseID: job.ResponseID,
		ChildID:    job.ChildID,
		AudioPath:  path,
	})
	if err != nil {
		return failure("transcription", "enqueue_failed", err)
	}
	o.events.Publish(ctx, events.New(events.TranscriptionQueued, map[string]any{
		"task_id":     id,
		"response_id": job.ResponseID,
	}))
	return nil
}

func (o *Orchestrator) analysisStage(ctx context.Context, job queue.Job, features types.AudioFeatures) (res types.AnalysisResult, fail *StageFailure) {
	if job.ForceIntensity != nil {
		return forcedAnalysis(job.Text, *job.ForceIntensity, features, o.now()), nil
	}
	defer func() {
		if r := recover(); r != nil {
			fail = recovered("analysis", r)
			res = analysis.LocalAnalysis(job.Text, features, "exception:panic", o.now())
		}
	}()

	res, err := o.analyzer.Analyze(ctx, job.Text, features)
	if err != nil {
		kind := exceptionKind(err)
		return analysis.LocalAnalysis(job.Text, features, "exception:"+kind, o.now()), failure("analysis", kind, err)
	}
	return res, nil
}

// forcedAnalysis is the deterministic stub used when the caller pins the
// intensity. Audio features are attached without adjusting the intensity.
func forcedAnalysis(text string, intensity float64, features types.AudioFeatures, now time.Time) types.AnalysisResult {
	primary := "Neutral"
	if strings.TrimSpace(text) != "" {
		primary = "Mixed"
	}
	t := text
	res := types.AnalysisResult{
		PrimaryEmotion:    primary,
		Intensity:         intensity,
		Polarity:          analysis.DefaultPolarity,
		Confidence:        0.5,
		Transcript:        &t,
		ModelVersion:      forcedModelVersion,
		AnalysisTimestamp: now.UTC(),
	}
	if len(features) > 0 {
		res.AudioFeatures = features.Clone()
		res.ToneFeatures = analysis.ToneFromAudio(features)
	}
	return res
}

// finalizeContract normalizes res and, for responses with audio, backfills
// features the analysis did not merge plus the pending transcript marker.
func finalizeContract(res types.AnalysisResult, hasAudio bool, features types.AudioFeatures) types.AnalysisResult {
	out := res.Clone()
	if hasAudio {
		if out.AudioFeatures == nil {
			out.AudioFeatures = types.AudioFeatures{}
		}
		for k, v := range features {
			if _, ok := out.AudioFeatures[k]; !ok {
				out.AudioFeatures[k] = v
			}
		}
		if out.Transcript == nil || strings.TrimSpace(*out.Transcript) == "" {
			out.Transcript = types.String(types.TranscriptPending)
		}
	}
	return analysis.EnsureContract(out)
}

var errRules = errors.New("rule evaluation failed")

// persist writes the terminal state and evaluates the rules in one
// transaction. A rule failure rolls back and the response is saved again
// without alerts.
func (o *Orchestrator) persist(ctx context.Context, job queue.Job, path string, res types.AnalysisResult, log *logger.Logger) ([]types.AlertRecord, error) {
	rec, err := o.uow.GetResponse(ctx, job.ResponseID)
	if err != nil {
		return nil, fmt.Errorf("load response %d: %w", job.ResponseID, err)
	}
	childID := rec.ChildID
	if childID == nil {
		childID = job.ChildID
	}

	created, err := o.commit(ctx, job, childID, path, res, true)
	if errors.Is(err, errRules) {
		log.WithError(err).WithField("reason", "rules_failed").Warn("alert rules skipped")
		metrics.RecordDegraded("rules", "evaluation_failed")
		created, err = o.commit(ctx, job, childID, path, res, false)
	}
	return created, err
}

func (o *Orchestrator) commit(ctx context.Context, job queue.Job, childID *int64, path string, res types.AnalysisResult, evaluate bool) ([]types.AlertRecord, error) {
	var created []types.AlertRecord
	write := func() error {
		created = nil
		return o.uow.Transaction(ctx, func(tx store.Store) error {
			rec, err := tx.GetResponse(ctx, job.ResponseID)
			if err != nil {
				return fmt.Errorf("load response %d: %w", job.ResponseID, err)
			}
			if rec.ChildID == nil && childID != nil {
				id := *childID
				rec.ChildID = &id
			}
			if rec.Audio != nil && path != "" && path != rec.Audio.Path {
				rec.Audio.Path = path
				rec.Audio.Format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
			}

			final := o.keepJoinedTranscript(rec, res)
			rec.Status = types.StatusCompleted
			rec.Emotion = final.PrimaryEmotion
			rec.Intensity = final.Intensity
			o.sealer.SealAnalysis(rec, &final)
			o.sealer.SealTranscript(rec, final.Transcript)
			if err := tx.SaveResponse(ctx, rec); err != nil {
				return fmt.Errorf("save response %d: %w", rec.ID, err)
			}

			if !evaluate || !rec.HasSubject() || o.engine == nil {
				return nil
			}
			created, err = o.engine.Evaluate(ctx, tx, *rec, final)
			if err != nil {
				return fmt.Errorf("%w: %w", errRules, err)
			}
			return nil
		})
	}

	var err error
	if childID != nil && o.engine != nil {
		err = o.engine.WithSubjectLock(ctx, *childID, write)
	} else {
		err = write()
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// keepJoinedTranscript preserves a transcript that the transcription job
// stored before this analysis finished.
func (o *Orchestrator) keepJoinedTranscript(rec *types.ResponseRecord, res types.AnalysisResult) types.AnalysisResult {
	if res.Transcript == nil || *res.Transcript != types.TranscriptPending {
		return res
	}
	existing, err := o.sealer.OpenTranscript(rec)
	if err != nil || existing == nil || *existing == types.TranscriptPending || strings.TrimSpace(*existing) == "" {
		return res
	}
	return res.WithTranscript(*existing)
}

func (o *Orchestrator) markFailed(ctx context.Context, responseID int64, log *logrus.Entry) {
	rec, err := o.uow.GetResponse(ctx, responseID)
	if err != nil {
		log.WithError(err).Warn("could not load response to mark it failed")
		return
	}
	rec.Status = types.StatusFailed
	if err := o.uow.SaveResponse(ctx, rec); err != nil {
		log.WithError(err).Warn("could not mark response failed")
	}
}

func (o *Orchestrator) degrade(log *logger.Logger, fail *StageFailure) {
	if fail == nil {
		return
	}
	log.WithError(fail.Err).
		WithField("stage", fail.Stage).
		WithField("reason", fail.Reason).
		Warn("stage degraded")
	metrics.RecordDegraded(fail.Stage, fail.Reason)
}

// Transcribe runs the deferred transcription and joins the text into the
// stored response and its analysis payload.
func (o *Orchestrator) Transcribe(ctx context.Context, job queue.Job) error {
	log := o.log.With(logrus.Fields{"job_id": job.ID, "response_id": job.ResponseID})
	text, ok := o.audio.Transcribe(ctx, job.AudioPath)
	if !ok {
		log.WithField("reason", "no_transcript").Info("transcript unavailable, leaving pending marker")
		return nil
	}

	join := func() error {
		return o.uow.Transaction(ctx, func(tx store.Store) error {
			rec, err := tx.GetResponse(ctx, job.ResponseID)
			if err != nil {
				return fmt.Errorf("load response %d: %w", job.ResponseID, err)
			}
			a, err := o.sealer.OpenAnalysis(rec)
			switch {
			case err != nil:
				log.WithError(err).Warn("analysis unreadable, joining transcript only")
			case a != nil:
				joined := a.WithTranscript(text)
				o.sealer.SealAnalysis(rec, &joined)
			}
			o.sealer.SealTranscript(rec, &text)
			return tx.SaveResponse(ctx, rec)
		})
	}

	var err error
	if job.ChildID != nil && o.engine != nil {
		err = o.engine.WithSubjectLock(ctx, *job.ChildID, join)
	} else {
		err = join()
	}
	if err != nil {
		return fmt.Errorf("join transcript: %w", err)
	}

	o.events.Publish(ctx, events.New(events.TranscriptionCompleted, map[string]any{
		"task_id":     job.ID,
		"response_id": job.ResponseID,
		"chars":       len(text),
	}))
	return nil
}

// Sweep deletes expired audio artifacts.
func (o *Orchestrator) Sweep(ctx context.Context, job queue.Job) error {
	n, err := o.audio.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep audio: %w", err)
	}
	o.log.WithField("job_id", job.ID).WithField("deleted", n).Info("audio sweep finished")
	return nil
}
