package jobprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/events"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// Submitter hands a fully built InferenceJob off for platform
// submission (spec.md §4.9). JobSubmissionService implements it.
type Submitter interface {
	Submit(ctx context.Context, job types.InferenceJob) error
}

// window is one (pipeline, group-value) accumulation in flight: Idle
// has no window entry at all, Accumulating is a live timer, and
// Emitting is the brief instant between the timer firing and the
// window being deleted.
type window struct {
	instances []types.InstanceStorageInfo
	timer     *time.Timer
}

// Processor is the default AE-title job processor: it groups
// instances accepted for one LocalApplicationEntity by groupBy-tag
// value and, per pipeline, emits an InferenceJob once a group goes
// quiet for Settings.Timeout.
type Processor struct {
	ctx      context.Context
	ae       types.LocalApplicationEntity
	settings Settings
	jobs     repository.JobRepository
	submit   Submitter
	logger   *slog.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// New builds a Processor for ae using settings already validated by
// ParseSettings. ctx is the process lifetime context: windows emitted
// by a timer firing after ctx is cancelled still run, but the
// PutJob/Submit calls they make are cancelled along with everything
// else rather than blocking against an ambient background context.
// logger is optional; when omitted, slog.Default() is used.
func New(ctx context.Context, ae types.LocalApplicationEntity, settings Settings, jobs repository.JobRepository, submit Submitter, logger ...*slog.Logger) *Processor {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Processor{
		ctx:      ctx,
		ae:       ae,
		settings: settings,
		jobs:     jobs,
		submit:   submit,
		logger:   l,
		windows:  make(map[string]*window),
	}
}

// AttachTo subscribes the processor to bus, filtering for instances
// stored under this processor's AE title. The returned token can be
// passed to bus.Unsubscribe to detach.
func (p *Processor) AttachTo(bus *events.InstanceNotificationBus) events.SubscriptionToken {
	return bus.Subscribe(func(info types.InstanceStorageInfo) {
		if info.CalledAETitle != p.ae.AETitle {
			return
		}
		p.HandleInstance(info, nil)
	})
}

// HandleInstance applies one instance to the grouping state machine.
// ds is the instance's parsed dataset, used to evaluate the groupBy
// tag. When ds is nil (or lacks the tag) and groupBy is
// StudyInstanceUID, info.StudyInstanceUID is used instead, so the
// default groupBy works without a full dataset parse; for any other
// groupBy tag the group value is then empty.
func (p *Processor) HandleInstance(info types.InstanceStorageInfo, ds *dicom.Dataset) {
	groupValue := p.groupValue(info, ds)
	key := groupKey(groupValue)

	p.mu.Lock()
	w, ok := p.windows[key]
	if !ok {
		w = &window{}
		p.windows[key] = w
	}
	w.instances = append(w.instances, info)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(p.settings.Timeout, func() { p.emit(key) })
	p.mu.Unlock()
}

func (p *Processor) groupValue(info types.InstanceStorageInfo, ds *dicom.Dataset) string {
	if ds != nil {
		if v := ds.GetString(p.settings.GroupBy); v != "" {
			return v
		}
	}
	if p.settings.GroupBy == StudyInstanceUIDTag {
		return info.StudyInstanceUID
	}
	return ""
}

func groupKey(groupValue string) string { return groupValue }

// emit transitions one window from Accumulating to Emitting: it
// removes the window, persists one job per configured pipeline (every
// pipeline receiving the same instance list), and hands each to the
// submitter. Persistence happens before submission, per spec.md §4.4's
// "instances are owned by the job only after successful persistence".
func (p *Processor) emit(key string) {
	p.mu.Lock()
	w, ok := p.windows[key]
	if ok {
		delete(p.windows, key)
	}
	p.mu.Unlock()
	if !ok || len(w.instances) == 0 {
		return
	}

	ctx := p.ctx
	for _, pipelineID := range p.settings.PipelineIDs {
		job := types.InferenceJob{
			JobID:      uuid.NewString(),
			PipelineID: pipelineID,
			JobName:    fmt.Sprintf("%s-%s", p.ae.AETitle, pipelineID),
			Priority:   priorityByte(p.settings.Priority),
			Instances:  append([]types.InstanceStorageInfo(nil), w.instances...),
			State:      types.JobStateCreated,
		}

		if err := p.jobs.PutJob(ctx, job); err != nil {
			p.logger.Error("failed to persist job, dropping window",
				"ae_title", p.ae.AETitle, "pipeline_id", pipelineID, "error", err)
			continue
		}

		if err := p.submit.Submit(ctx, job); err != nil {
			p.logger.Error("job submission failed after persistence",
				"job_id", job.JobID, "pipeline_id", pipelineID, "error", err)
		}
	}
}

func priorityByte(p types.Priority) uint8 {
	switch p {
	case types.PriorityLower:
		return 0
	case types.PriorityHigher:
		return 200
	case types.PriorityImmediate:
		return 255
	default:
		return 128
	}
}
