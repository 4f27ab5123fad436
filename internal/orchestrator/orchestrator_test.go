package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/viralcut/clipper/internal/jobstore"
	"github.com/viralcut/clipper/internal/models"
	"github.com/viralcut/clipper/internal/services"
	"github.com/viralcut/clipper/internal/storage"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	mu          sync.Mutex
	downloadErr error
	uploadErr   error
	onDownload  func()
	uploaded    []string
}

func (f *fakeSource) Download(ctx context.Context, fileID, destPath string) error {
	if f.onDownload != nil {
		f.onDownload()
	}
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(destPath, []byte("source-bytes"), 0644)
}

func (f *fakeSource) Upload(ctx context.Context, localPath, name, folderID string) (*storage.UploadedFile, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.mu.Lock()
	f.uploaded = append(f.uploaded, name)
	f.mu.Unlock()
	return &storage.UploadedFile{ID: "drive-" + name, Name: name, WebViewLink: "https://drive.example/" + name}, nil
}

type fakeAnalysis struct {
	cuts        []models.Segment
	err         error
	gotMaxClips int
}

func (f *fakeAnalysis) AnalyzeVideo(ctx context.Context, path, instruction string, maxClips int, duration float64) ([]models.Segment, error) {
	f.gotMaxClips = maxClips
	return f.cuts, f.err
}

type fakeTranscriber struct {
	words []models.WordTimestamp
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]models.WordTimestamp, error) {
	f.calls++
	return f.words, f.err
}

type fakeEngine struct {
	duration    float64
	renderErr   error
	renderPanic string
	renders     []services.RenderInvocation
}

func (f *fakeEngine) Render(ctx context.Context, inv services.RenderInvocation) error {
	if f.renderPanic != "" {
		panic(f.renderPanic)
	}
	if f.renderErr != nil {
		return f.renderErr
	}
	f.renders = append(f.renders, inv)
	return os.WriteFile(inv.OutputPath, []byte("rendered"), 0644)
}

func (f *fakeEngine) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return f.duration, nil
}

func (f *fakeEngine) ExtractAudio(ctx context.Context, videoPath, outputPath string, start, duration float64) error {
	return os.WriteFile(outputPath, []byte("audio"), 0644)
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []models.WebhookPayload
}

func (f *fakeNotifier) Send(ctx context.Context, url string, payload models.WebhookPayload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()
	return nil
}

type env struct {
	store    *jobstore.Store
	source   *fakeSource
	analysis *fakeAnalysis
	trans    *fakeTranscriber
	engine   *fakeEngine
	notifier *fakeNotifier
	pipeline *Pipeline
	tempDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:    jobstore.New(),
		source:   &fakeSource{},
		analysis: &fakeAnalysis{},
		trans:    &fakeTranscriber{},
		engine:   &fakeEngine{duration: 1200},
		notifier: &fakeNotifier{},
		tempDir:  t.TempDir(),
	}
	e.pipeline = New(Deps{
		Store:       e.store,
		Source:      e.source,
		Analysis:    e.analysis,
		Transcriber: e.trans,
		Engine:      e.engine,
		Notifier:    e.notifier,
		TempDir:     e.tempDir,
		MaxSourceMB: 2000,
	})
	return e
}

func (e *env) manualCutJob(clips ...models.ClipRequest) *models.JobRequest {
	e.store.Create("job-1", "file-1", "https://hook.example", models.JobModeManualCut)
	return &models.JobRequest{
		JobID:     "job-1",
		Mode:      models.JobModeManualCut,
		ManualCut: &models.ManualCutRequest{FileID: "file-1", Clips: clips},
	}
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestManualCutHappyPath(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(
		models.ClipRequest{Start: 10, End: 28, Title: "Intro"},
		models.ClipRequest{Start: 100, End: 160},
	)

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %v (%s)", job.Status, job.ProgressMessage)
	}
	if job.Result == nil || job.Result.TotalClips != 2 {
		t.Fatalf("result = %+v", job.Result)
	}
	if job.Result.GeneratedClips[0].Title != "Intro" {
		t.Errorf("clip title = %q", job.Result.GeneratedClips[0].Title)
	}
	if len(e.engine.renders) != 2 || len(e.source.uploaded) != 2 {
		t.Errorf("renders = %d, uploads = %d", len(e.engine.renders), len(e.source.uploaded))
	}
	if len(e.notifier.payloads) != 1 {
		t.Fatalf("webhooks sent = %d, want exactly 1", len(e.notifier.payloads))
	}
	wp := e.notifier.payloads[0]
	if wp.Status != models.JobStatusCompleted || wp.Result == nil || wp.Error != nil {
		t.Errorf("webhook payload = %+v", wp)
	}
	if _, err := os.Stat(filepath.Join(e.tempDir, "job-job-1")); !os.IsNotExist(err) {
		t.Error("workdir should be removed after the run")
	}
}

func TestCancelDuringDownload(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 0, End: 30})
	// The cancel request lands while the download is in flight; the next
	// stage boundary must observe it.
	e.source.onDownload = func() {
		if err := e.store.RequestCancel("job-1"); err != nil {
			t.Errorf("cancel request failed: %v", err)
		}
	}

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCancelled {
		t.Fatalf("status = %v", job.Status)
	}
	if len(e.engine.renders) != 0 {
		t.Error("no rendering should happen after cancellation")
	}
	if len(e.notifier.payloads) != 1 || e.notifier.payloads[0].Status != models.JobStatusCancelled {
		t.Fatalf("webhooks = %+v", e.notifier.payloads)
	}
	wp := e.notifier.payloads[0]
	if wp.Result != nil || wp.Error != nil {
		t.Error("cancelled payload carries neither result nor error")
	}
	if _, err := os.Stat(filepath.Join(e.tempDir, "job-job-1")); !os.IsNotExist(err) {
		t.Error("workdir should be removed after cancellation")
	}
}

func TestDownloadFailureIsSourceError(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 0, End: 30})
	e.source.downloadErr = errors.New("network down")

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error == nil {
		t.Fatalf("job = %+v", job)
	}
	if job.Error.Kind != "source" {
		t.Errorf("error kind = %q", job.Error.Kind)
	}
	if len(e.notifier.payloads) != 1 || e.notifier.payloads[0].Error == nil {
		t.Errorf("webhooks = %+v", e.notifier.payloads)
	}
}

func TestRenderFailureFailsJob(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 0, End: 30})
	e.engine.renderErr = errors.New("filter parse error")

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error.Kind != "render" {
		t.Fatalf("job = %+v err = %+v", job.Status, job.Error)
	}
	if len(e.source.uploaded) != 0 {
		t.Error("nothing should upload after a render failure")
	}
}

func TestEnginePanicFailsJob(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 0, End: 30})
	e.engine.renderPanic = "assignment to entry in nil map"

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error == nil {
		t.Fatalf("job = %v err = %+v", job.Status, job.Error)
	}
	if job.Error.Kind != "internal" {
		t.Errorf("error kind = %q", job.Error.Kind)
	}
	if len(e.notifier.payloads) != 1 || e.notifier.payloads[0].Error == nil {
		t.Fatalf("webhooks = %+v", e.notifier.payloads)
	}
	if _, err := os.Stat(filepath.Join(e.tempDir, "job-job-1")); !os.IsNotExist(err) {
		t.Error("workdir should be removed after a panic")
	}
}

func TestTranscriptionFailureStillCompletes(t *testing.T) {
	e := newEnv(t)
	e.trans.err = errors.New("whisper down")
	e.store.Create("job-1", "file-1", "", models.JobModeManualCut)
	captionsOn := true
	req := &models.JobRequest{
		JobID: "job-1",
		Mode:  models.JobModeManualCut,
		ManualCut: &models.ManualCutRequest{
			FileID:  "file-1",
			Clips:   []models.ClipRequest{{Start: 0, End: 30}},
			Options: models.ProcessingOptions{Captions: &captionsOn},
		},
	}

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("transcription failure must not fail the job, status = %v", job.Status)
	}
	if e.trans.calls == 0 {
		t.Error("transcription should have been attempted")
	}
}

func TestProcessModeUsesAnalysis(t *testing.T) {
	e := newEnv(t)
	e.analysis.cuts = []models.Segment{
		{Start: 30, End: 75, Title: "Hook"},
		{Start: 200, End: 290, Title: "Payoff"},
		{Start: 400, End: 460, Title: "Ending"},
	}
	e.store.Create("job-1", "file-1", "", models.JobModeProcess)
	three := 3
	req := &models.JobRequest{
		JobID: "job-1",
		Mode:  models.JobModeProcess,
		Process: &models.ProcessRequest{
			FileID:  "file-1",
			Options: models.ProcessingOptions{MaxClips: &three},
		},
	}

	e.pipeline.Run(context.Background(), req)

	if e.analysis.gotMaxClips != 3 {
		t.Errorf("analysis maxClips = %d", e.analysis.gotMaxClips)
	}
	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCompleted || job.Result.TotalClips != 3 {
		t.Fatalf("job = %v result = %+v", job.Status, job.Result)
	}
	clips := job.Result.GeneratedClips
	if clips[0].Platform != models.PlatformYouTubeShorts {
		t.Errorf("first clip platform = %v", clips[0].Platform)
	}
	for i := 1; i < 3; i++ {
		if clips[i].Platform != models.PlatformTikTokIG {
			t.Errorf("clip %d platform = %v", i, clips[i].Platform)
		}
	}
}

func TestShortSourceForcesSingleClip(t *testing.T) {
	e := newEnv(t)
	e.engine.duration = 420
	e.analysis.cuts = []models.Segment{{Start: 10, End: 60}}
	e.store.Create("job-1", "file-1", "", models.JobModeProcess)
	five := 5
	req := &models.JobRequest{
		JobID: "job-1",
		Mode:  models.JobModeProcess,
		Process: &models.ProcessRequest{
			FileID:  "file-1",
			Options: models.ProcessingOptions{MaxClips: &five},
		},
	}

	e.pipeline.Run(context.Background(), req)

	if e.analysis.gotMaxClips != 1 {
		t.Errorf("short source should cap analysis at 1 clip, got %d", e.analysis.gotMaxClips)
	}
	job, _ := e.store.Get("job-1")
	if job.Result == nil || job.Result.GeneratedClips[0].Platform != models.PlatformUniversal {
		t.Errorf("single clip should tag universal: %+v", job.Result)
	}
}

func TestAnalysisNoCutsIsAnalysisError(t *testing.T) {
	e := newEnv(t)
	e.analysis.cuts = nil
	e.store.Create("job-1", "file-1", "", models.JobModeProcess)
	req := &models.JobRequest{
		JobID:   "job-1",
		Mode:    models.JobModeProcess,
		Process: &models.ProcessRequest{FileID: "file-1"},
	}

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error.Kind != "analysis" {
		t.Fatalf("job = %v err = %+v", job.Status, job.Error)
	}
}

func TestManualEditSingleOutput(t *testing.T) {
	e := newEnv(t)
	e.store.Create("job-1", "file-1", "", models.JobModeManualEdit)
	req := &models.JobRequest{
		JobID: "job-1",
		Mode:  models.JobModeManualEdit,
		ManualEdit: &models.ManualEditRequest{
			FileID: "file-1",
			Title:  "Best Of",
			Segments: []models.SegmentRequest{
				{Start: 0, End: 10},
				{Start: 100, End: 110},
				{Start: 200, End: 210},
			},
		},
	}

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %v (%s)", job.Status, job.ProgressMessage)
	}
	if job.Result.TotalClips != 1 {
		t.Fatalf("manual edit must yield one clip, got %d", job.Result.TotalClips)
	}
	if got := len(job.Result.GeneratedClips[0].Segments); got != 3 {
		t.Errorf("stitched segments = %d", got)
	}
	if len(e.engine.renders) != 1 {
		t.Errorf("renders = %d", len(e.engine.renders))
	}
}

func TestUploadFailureIsSourceError(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 0, End: 30})
	e.source.uploadErr = errors.New("quota exceeded")

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error.Kind != "source" {
		t.Fatalf("job = %v err = %+v", job.Status, job.Error)
	}
}

func TestValidationFailureBeforeRender(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(models.ClipRequest{Start: 50, End: 20})

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusError || job.Error.Kind != "validation" {
		t.Fatalf("job = %v err = %+v", job.Status, job.Error)
	}
	if len(e.engine.renders) != 0 {
		t.Error("invalid plans must not reach the engine")
	}
}

func TestClipFileName(t *testing.T) {
	got := clipFileName("0f8d2c41-aaaa", 0, "The BIG Moment!")
	want := "0f8d2c41_01_the-big-moment"
	if got != want+".mp4" {
		t.Errorf("name = %q, want %q.mp4", got, want)
	}
	if got := clipFileName("abc", 2, ""); got != "abc_clip_03.mp4" {
		t.Errorf("untitled name = %q", got)
	}
	if got := clipFileName("abc", 0, "日本語"); got != "abc_clip_01.mp4" {
		t.Errorf("non-ascii title should fall back, got %q", got)
	}
}

func TestCapTrimsLongClip(t *testing.T) {
	e := newEnv(t)
	req := e.manualCutJob(
		models.ClipRequest{Start: 0, End: 18},
		models.ClipRequest{Start: 100, End: 215},
	)

	e.pipeline.Run(context.Background(), req)

	job, _ := e.store.Get("job-1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("status = %v", job.Status)
	}
	clips := job.Result.GeneratedClips
	if d := clips[0].TotalSeconds; d != 18 {
		t.Errorf("short clip duration = %v", d)
	}
	if d := clips[1].TotalSeconds; d != 80 {
		t.Errorf("long clip should trim to the cap, got %v", d)
	}
}
