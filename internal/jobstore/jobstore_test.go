package jobstore

import (
	"errors"
	"testing"
	"time"

	"github.com/viralcut/clipper/internal/models"
)

func TestCreateAndGet(t *testing.T) {
	s := New()
	created := s.Create("j1", "file-abc", "https://example.com/hook", models.JobModeProcess)
	if created.Status != models.JobStatusQueued {
		t.Errorf("new job status = %v", created.Status)
	}

	got, err := s.Get("j1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FileID != "file-abc" || got.Mode != models.JobModeProcess {
		t.Errorf("job = %+v", got)
	}

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New()
	s.Create("j1", "f", "", models.JobModeProcess)
	got, _ := s.Get("j1")
	got.Status = models.JobStatusError

	again, _ := s.Get("j1")
	if again.Status != models.JobStatusQueued {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestTerminalExclusivity(t *testing.T) {
	s := New()
	s.Create("j1", "f", "", models.JobModeProcess)
	if err := s.Complete("j1", &models.JobResult{TotalClips: 2}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("j1")
	if got.Result == nil || got.Error != nil {
		t.Error("completed job must carry result and no error")
	}

	s.Create("j2", "f", "", models.JobModeProcess)
	if err := s.Fail("j2", &models.JobError{Kind: "render", Message: "boom"}); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get("j2")
	if got.Error == nil || got.Result != nil {
		t.Error("failed job must carry error and no result")
	}
}

func TestFinishIsFinal(t *testing.T) {
	s := New()
	s.Create("j1", "f", "", models.JobModeProcess)
	if err := s.Cancel("j1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Complete("j1", &models.JobResult{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second terminal transition err = %v", err)
	}
	// Progress updates after the terminal state are dropped silently.
	s.SetProgress("j1", models.JobStatusProcessing, "late update")
	got, _ := s.Get("j1")
	if got.Status != models.JobStatusCancelled {
		t.Errorf("status after late update = %v", got.Status)
	}
}

func TestRequestCancel(t *testing.T) {
	s := New()
	s.Create("j1", "f", "", models.JobModeManualCut)
	if s.CancelRequested("j1") {
		t.Error("fresh job should not be cancel-flagged")
	}
	if err := s.RequestCancel("j1"); err != nil {
		t.Fatal(err)
	}
	if !s.CancelRequested("j1") {
		t.Error("cancel flag not visible")
	}

	if err := s.RequestCancel("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id err = %v", err)
	}

	s.Create("j2", "f", "", models.JobModeManualCut)
	s.Complete("j2", &models.JobResult{})
	if err := s.RequestCancel("j2"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel on terminal job err = %v", err)
	}
}

func TestCancelRequestedUnknownJob(t *testing.T) {
	s := New()
	if !s.CancelRequested("gone") {
		t.Error("unknown jobs should read as cancelled so orphaned pipelines stop")
	}
}

func TestSweepTTL(t *testing.T) {
	s := New()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Create("old", "f", "", models.JobModeProcess)

	s.now = func() time.Time { return base.Add(73 * time.Hour) }
	s.Create("fresh", "f", "", models.JobModeProcess)

	if n := s.Sweep(); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, err := s.Get("old"); !errors.Is(err, ErrNotFound) {
		t.Error("expired job should be gone")
	}
	if _, err := s.Get("fresh"); err != nil {
		t.Error("fresh job should survive the sweep")
	}
}
