package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/viralcut/clipper/internal/captions"
	"github.com/viralcut/clipper/internal/db"
	"github.com/viralcut/clipper/internal/filtergraph"
	"github.com/viralcut/clipper/internal/jobstore"
	"github.com/viralcut/clipper/internal/models"
	"github.com/viralcut/clipper/internal/plan"
	"github.com/viralcut/clipper/internal/services"
	"github.com/viralcut/clipper/internal/storage"
)

const uploadConcurrency = 3

// SourceProvider fetches the source video and stores the rendered outputs.
type SourceProvider interface {
	Download(ctx context.Context, fileID, destPath string) error
	Upload(ctx context.Context, localPath, name, folderID string) (*storage.UploadedFile, error)
}

// AnalysisProvider discovers highlight cuts in a source video.
type AnalysisProvider interface {
	AnalyzeVideo(ctx context.Context, videoPath, instruction string, maxClips int, sourceDuration float64) ([]models.Segment, error)
}

// TranscriptionProvider returns word timestamps for an audio file.
type TranscriptionProvider interface {
	Transcribe(ctx context.Context, audioPath string) ([]models.WordTimestamp, error)
}

// MediaEngine runs ffmpeg work.
type MediaEngine interface {
	Render(ctx context.Context, inv services.RenderInvocation) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractAudio(ctx context.Context, videoPath, outputPath string, start, duration float64) error
}

// Notifier delivers the terminal webhook.
type Notifier interface {
	Send(ctx context.Context, url string, payload models.WebhookPayload) error
}

// CropTracker computes the face-tracking crop expression for a target.
// Empty string means center crop.
type CropTracker interface {
	CropExpr(ctx context.Context, videoPath string, target models.RenderTarget) string
}

// Deps wires the pipeline's collaborators. Archive and Tracker may be nil.
type Deps struct {
	Store       *jobstore.Store
	Source      SourceProvider
	Analysis    AnalysisProvider
	Transcriber TranscriptionProvider
	Engine      MediaEngine
	Notifier    Notifier
	Tracker     CropTracker
	Archive     *db.Archive

	TempDir       string
	DriveFolderID string
	FontFile      string
	BoldFontFile  string
	MaxSourceMB   int
}

// Pipeline drives one job through download, analysis, render, upload and
// notification. Cancellation is cooperative: the flag is checked at stage
// boundaries, never mid-render.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps}
}

// Run executes the whole pipeline for one dequeued request. It always leaves
// the job terminal and sends exactly one webhook; the per-job temp dir is
// removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, req *models.JobRequest) {
	jobID := req.JobID
	job, err := p.deps.Store.Get(jobID)
	if err != nil {
		log.Printf("[Pipeline] [%s] Dropping request for unknown job: %v", jobID, err)
		return
	}

	workdir := filepath.Join(p.deps.TempDir, "job-"+jobID)
	defer func() {
		if rmErr := os.RemoveAll(workdir); rmErr != nil {
			log.Printf("[Pipeline] [%s] Failed to remove workdir: %v", jobID, rmErr)
		}
	}()

	outputs, runErr := p.runStages(ctx, req, job, workdir)
	switch {
	case runErr == nil:
		p.finishCompleted(ctx, jobID, outputs)
	case models.KindOf(runErr) == models.ErrKindCancelled:
		p.finishCancelled(ctx, jobID)
	default:
		p.finishFailed(ctx, jobID, runErr)
	}
}

// runStages isolates panics from the stage code, so a crashing stage still
// leaves the job terminal and notified like any other failure.
func (p *Pipeline) runStages(ctx context.Context, req *models.JobRequest, job *models.Job, workdir string) (clips []models.GeneratedClip, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pipeline] [%s] PANIC in pipeline: %v", req.JobID, r)
			clips = nil
			err = models.Errorf(models.ErrKindInternal, "pipeline panic: %v", r)
		}
	}()
	return p.run(ctx, req, job, workdir)
}

// run executes the stages and returns the uploaded clips. A cancelled-kind
// error means the job was cancelled, anything else is a failure.
func (p *Pipeline) run(ctx context.Context, req *models.JobRequest, job *models.Job, workdir string) ([]models.GeneratedClip, error) {
	jobID := req.JobID

	if err := p.checkCancel(jobID); err != nil {
		return nil, err
	}

	// Stage: downloading.
	p.deps.Store.SetProgress(jobID, models.JobStatusDownloading, "downloading source video")
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return nil, models.Errorf(models.ErrKindInternal, "failed to create workdir: %w", err)
	}
	srcPath := filepath.Join(workdir, "source.mp4")
	if err := p.deps.Source.Download(ctx, job.FileID, srcPath); err != nil {
		return nil, models.Errorf(models.ErrKindSource, "source download failed: %w", err)
	}
	if err := p.checkSourceSize(srcPath); err != nil {
		return nil, err
	}
	duration, err := p.deps.Engine.ProbeDuration(ctx, srcPath)
	if err != nil {
		return nil, models.Errorf(models.ErrKindSource, "could not read source duration: %w", err)
	}
	log.Printf("[Pipeline] [%s] Source ready (%.1fs)", jobID, duration)

	if err := p.checkCancel(jobID); err != nil {
		return nil, err
	}

	renderPlan, opts, err := p.compilePlan(ctx, req, srcPath, duration)
	if err != nil {
		return nil, err
	}

	if err := p.checkCancel(jobID); err != nil {
		return nil, err
	}

	// Stage: processing.
	outputPaths := make([]string, len(renderPlan.Targets))
	for i, target := range renderPlan.Targets {
		p.deps.Store.SetProgress(jobID, models.JobStatusProcessing,
			fmt.Sprintf("rendering clip %d/%d", i+1, len(renderPlan.Targets)))

		cues := p.targetCues(ctx, jobID, workdir, srcPath, target)
		cropExpr := ""
		if opts.FaceTracking && p.deps.Tracker != nil {
			cropExpr = p.deps.Tracker.CropExpr(ctx, srcPath, target)
		}

		graph, err := filtergraph.Build(filtergraph.BuildInput{
			Target:       target,
			Cues:         cues,
			Style:        captions.StyleFor(opts.CaptionStyle),
			FontFile:     p.deps.FontFile,
			BoldFontFile: p.deps.BoldFontFile,
			CropXExpr:    cropExpr,
		})
		if err != nil {
			return nil, models.Errorf(models.ErrKindRender, "graph compilation failed for clip %d: %w", i+1, err)
		}

		outPath := filepath.Join(workdir, fmt.Sprintf("clip_%02d.mp4", i+1))
		if err := p.deps.Engine.Render(ctx, services.RenderInvocation{
			InputPath:  srcPath,
			OutputPath: outPath,
			Graph:      graph,
		}); err != nil {
			return nil, models.Errorf(models.ErrKindRender, "render failed for clip %d: %w", i+1, err)
		}
		outputPaths[i] = outPath
	}

	if err := p.checkCancel(jobID); err != nil {
		return nil, err
	}

	// Stage: uploading.
	p.deps.Store.SetProgress(jobID, models.JobStatusUploading,
		fmt.Sprintf("uploading %d clip(s)", len(outputPaths)))
	clips, err := p.uploadAll(ctx, jobID, renderPlan, outputPaths)
	if err != nil {
		return nil, models.Errorf(models.ErrKindSource, "upload failed: %w", err)
	}

	if err := p.checkCancel(jobID); err != nil {
		return nil, err
	}

	p.deps.Store.SetProgress(jobID, models.JobStatusFinishing, "finishing")
	return clips, nil
}

func (p *Pipeline) checkCancel(jobID string) error {
	if p.deps.Store.CancelRequested(jobID) {
		return models.Errorf(models.ErrKindCancelled, "cancelled by request")
	}
	return nil
}

func (p *Pipeline) checkSourceSize(srcPath string) error {
	if p.deps.MaxSourceMB <= 0 {
		return nil
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		return models.Errorf(models.ErrKindSource, "downloaded file missing: %w", err)
	}
	if sizeMB := info.Size() / (1024 * 1024); sizeMB > int64(p.deps.MaxSourceMB) {
		return models.Errorf(models.ErrKindSource,
			"source is %d MB, limit is %d MB", sizeMB, p.deps.MaxSourceMB)
	}
	return nil
}

// compilePlan resolves the mode-specific request into a render plan.
func (p *Pipeline) compilePlan(ctx context.Context, req *models.JobRequest, srcPath string, duration float64) (models.RenderPlan, models.RenderOptions, error) {
	jobID := req.JobID
	switch req.Mode {
	case models.JobModeProcess:
		opts := plan.NormalizeOptions(req.Process.Options)
		maxClips := plan.MaxClips(req.Process.Options, duration)

		// Stage: analyzing (AI requests only).
		p.deps.Store.SetProgress(jobID, models.JobStatusAnalyzing, "finding highlight moments")
		cuts, err := p.deps.Analysis.AnalyzeVideo(ctx, srcPath, req.Process.Instruction, maxClips, duration)
		if err != nil {
			return models.RenderPlan{}, opts, err
		}
		renderPlan, err := plan.CompileCuts(duration, cuts, opts)
		return renderPlan, opts, err

	case models.JobModeManualCut:
		opts := plan.NormalizeOptions(req.ManualCut.Options)
		renderPlan, err := plan.CompileManualCut(duration, req.ManualCut.Clips, opts)
		return renderPlan, opts, err

	case models.JobModeManualEdit:
		opts := plan.NormalizeOptions(req.ManualEdit.Options)
		renderPlan, err := plan.CompileManualEdit(duration, req.ManualEdit.Segments, req.ManualEdit.Title, opts)
		return renderPlan, opts, err

	default:
		return models.RenderPlan{}, models.RenderOptions{},
			models.Errorf(models.ErrKindValidation, "unknown job mode %q", req.Mode)
	}
}

// targetCues transcribes the target's audio and plans caption cues on the
// stitched output timeline (pre-speed, matching where the caption overlay
// sits in the filter chain). Transcription problems disable captions for the
// clip, they never fail the job.
func (p *Pipeline) targetCues(ctx context.Context, jobID, workdir, srcPath string, target models.RenderTarget) []models.CaptionCue {
	opts := target.Options
	if !opts.Captions || p.deps.Transcriber == nil {
		return nil
	}

	var words []models.WordTimestamp
	outBase := 0.0
	for k, seg := range target.Segments {
		audioPath := filepath.Join(workdir, fmt.Sprintf("audio_t%d_s%d.mp3", target.Index, k))
		if err := p.deps.Engine.ExtractAudio(ctx, srcPath, audioPath, seg.Start, seg.Duration()); err != nil {
			log.Printf("[Pipeline] [%s] Audio extraction failed, skipping captions: %v", jobID, err)
			return nil
		}
		segWords, err := p.deps.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			log.Printf("[Pipeline] [%s] Transcription failed, skipping captions: %v", jobID, err)
			return nil
		}
		for _, w := range segWords {
			words = append(words, models.WordTimestamp{
				Word:  w.Word,
				Start: outBase + w.Start,
				End:   outBase + w.End,
			})
		}

		segOut := seg.Duration()
		if k < len(target.Segments)-1 {
			fade := opts.FadeDuration
			if fade > 0 && fade < segOut && fade < target.Segments[k+1].Duration() {
				segOut -= fade
			}
		}
		outBase += segOut
	}
	return captions.Plan(words)
}

// uploadAll pushes every rendered clip to Drive concurrently, bounded by a
// small semaphore so a many-clip job does not saturate the uplink.
func (p *Pipeline) uploadAll(ctx context.Context, jobID string, renderPlan models.RenderPlan, outputPaths []string) ([]models.GeneratedClip, error) {
	clips := make([]models.GeneratedClip, len(outputPaths))
	sem := make(chan struct{}, uploadConcurrency)

	g, gctx := errgroup.WithContext(ctx)
	for i := range outputPaths {
		i := i
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()

			target := renderPlan.Targets[i]
			name := clipFileName(jobID, i, target.Title)
			file, err := p.deps.Source.Upload(gctx, outputPaths[i], name, p.deps.DriveFolderID)
			if err != nil {
				return fmt.Errorf("clip %d: %w", i+1, err)
			}
			sizeMB := 0.0
			if info, statErr := os.Stat(outputPaths[i]); statErr == nil {
				sizeMB = float64(info.Size()) / (1024 * 1024)
			}
			clips[i] = models.GeneratedClip{
				Index:        i,
				Title:        target.Title,
				Platform:     target.Platform,
				TotalSeconds: target.TotalDuration(),
				FileID:       file.ID,
				FileName:     file.Name,
				WebViewLink:  file.WebViewLink,
				Segments:     target.Segments,
				OutputSizeMB: sizeMB,
			}
			log.Printf("[Pipeline] [%s] Uploaded clip %d/%d as %s", jobID, i+1, len(outputPaths), file.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// Terminal transitions. Each sends the single webhook for the job and
// archives the outcome.

func (p *Pipeline) finishCompleted(ctx context.Context, jobID string, clips []models.GeneratedClip) {
	result := &models.JobResult{TotalClips: len(clips), GeneratedClips: clips}
	if err := p.deps.Store.Complete(jobID, result); err != nil {
		log.Printf("[Pipeline] [%s] Could not mark completed: %v", jobID, err)
		return
	}
	p.archiveAndNotify(ctx, jobID, models.JobStatusCompleted, result, nil)
	log.Printf("[Pipeline] [%s] Completed with %d clip(s)", jobID, len(clips))
}

func (p *Pipeline) finishFailed(ctx context.Context, jobID string, runErr error) {
	jobErr := models.ErrorOf(runErr)
	if err := p.deps.Store.Fail(jobID, jobErr); err != nil {
		log.Printf("[Pipeline] [%s] Could not mark failed: %v", jobID, err)
		return
	}
	p.archiveAndNotify(ctx, jobID, models.JobStatusError, nil, jobErr)
	log.Printf("[Pipeline] [%s] Failed: %v", jobID, runErr)
}

func (p *Pipeline) finishCancelled(ctx context.Context, jobID string) {
	if err := p.deps.Store.Cancel(jobID); err != nil {
		log.Printf("[Pipeline] [%s] Could not mark cancelled: %v", jobID, err)
		return
	}
	p.archiveAndNotify(ctx, jobID, models.JobStatusCancelled, nil, nil)
	log.Printf("[Pipeline] [%s] Cancelled", jobID)
}

func (p *Pipeline) archiveAndNotify(ctx context.Context, jobID string, status models.JobStatus, result *models.JobResult, jobErr *models.JobError) {
	job, err := p.deps.Store.Get(jobID)
	if err != nil {
		return
	}
	p.deps.Archive.Record(ctx, job)
	payload := models.WebhookPayload{
		JobID:          jobID,
		Status:         status,
		OriginalFileID: job.FileID,
		Result:         result,
		Error:          jobErr,
	}
	if err := p.deps.Notifier.Send(ctx, job.WebhookURL, payload); err != nil {
		log.Printf("[Pipeline] [%s] Webhook delivery failed: %v", jobID, err)
	}
}

// clipFileName builds a stable, filesystem-safe output name.
func clipFileName(jobID string, index int, title string) string {
	slug := strings.ToLower(title)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return fmt.Sprintf("%s_clip_%02d.mp4", short, index+1)
	}
	return fmt.Sprintf("%s_%02d_%s.mp4", short, index+1, slug)
}
