package jobprocessor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []types.InferenceJob
}

func (s *recordingSubmitter) Submit(ctx context.Context, job types.InferenceJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *recordingSubmitter) snapshot() []types.InferenceJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.InferenceJob(nil), s.jobs...)
}

func newTestProcessor(t *testing.T, timeout time.Duration, pipelines ...string) (*Processor, *recordingSubmitter, repository.JobRepository) {
	t.Helper()
	ae := types.LocalApplicationEntity{AETitle: "CLARA1"}
	settings := Settings{
		Priority:    types.PriorityNormal,
		Timeout:     timeout,
		GroupBy:     StudyInstanceUIDTag,
		PipelineIDs: pipelines,
	}
	repo := repository.NewMemory()
	sub := &recordingSubmitter{}
	return New(context.Background(), ae, settings, repo, sub), sub, repo
}

func TestProcessor_EmitsOneJobPerPipelineAfterTimeout(t *testing.T) {
	p, sub, repo := newTestProcessor(t, 20*time.Millisecond, "seg", "class")

	info := types.InstanceStorageInfo{SOPInstanceUID: "1", StudyInstanceUID: "study-1", CalledAETitle: "CLARA1"}
	p.HandleInstance(info, nil)

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	jobs := sub.snapshot()
	pipelineIDs := []string{jobs[0].PipelineID, jobs[1].PipelineID}
	assert.ElementsMatch(t, []string{"seg", "class"}, pipelineIDs)
	for _, j := range jobs {
		assert.Len(t, j.Instances, 1)
		persisted, err := repo.GetJob(context.Background(), j.JobID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStateCreated, persisted.State)
	}
}

func TestProcessor_ResetsTimerOnInstanceInSameGroup(t *testing.T) {
	p, sub, _ := newTestProcessor(t, 40*time.Millisecond, "seg")

	info := types.InstanceStorageInfo{SOPInstanceUID: "1", StudyInstanceUID: "study-1", CalledAETitle: "CLARA1"}
	p.HandleInstance(info, nil)
	time.Sleep(25 * time.Millisecond)

	info2 := types.InstanceStorageInfo{SOPInstanceUID: "2", StudyInstanceUID: "study-1", CalledAETitle: "CLARA1"}
	p.HandleInstance(info2, nil)

	assert.Empty(t, sub.snapshot(), "window should still be accumulating")

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sub.snapshot()[0].Instances, 2)
}

func TestProcessor_SeparatesGroupsByGroupByValue(t *testing.T) {
	p, sub, _ := newTestProcessor(t, 15*time.Millisecond, "seg")

	p.HandleInstance(types.InstanceStorageInfo{SOPInstanceUID: "1", StudyInstanceUID: "study-1", CalledAETitle: "CLARA1"}, nil)
	p.HandleInstance(types.InstanceStorageInfo{SOPInstanceUID: "2", StudyInstanceUID: "study-2", CalledAETitle: "CLARA1"}, nil)

	require.Eventually(t, func() bool { return len(sub.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	jobs := sub.snapshot()
	assert.NotEqual(t, jobs[0].Instances[0].StudyInstanceUID, jobs[1].Instances[0].StudyInstanceUID)
}
