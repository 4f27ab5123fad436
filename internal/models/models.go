package models

import (
	"time"
)

// Enums

type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusAnalyzing   JobStatus = "analyzing"
	JobStatusProcessing  JobStatus = "processing"
	JobStatusUploading   JobStatus = "uploading"
	JobStatusFinishing   JobStatus = "finishing"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusError       JobStatus = "error"
	JobStatusCancelled   JobStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusCancelled
}

type Layout string

const (
	LayoutBlurZoom   Layout = "blur_zoom"
	LayoutVertical   Layout = "vertical"
	LayoutHorizontal Layout = "horizontal"
	LayoutBlur       Layout = "blur"
)

type CaptionStyle string

const (
	CaptionStyleClassic CaptionStyle = "classic"
	CaptionStyleBold    CaptionStyle = "bold"
	CaptionStyleBox     CaptionStyle = "box"
)

// Platform classifies a generated clip by target distribution duration bracket.
type Platform string

const (
	PlatformUniversal     Platform = "universal"
	PlatformYouTubeShorts Platform = "youtube_shorts"
	PlatformTikTokIG      Platform = "tiktok_instagram"
)

type JobMode string

const (
	JobModeProcess    JobMode = "process"     // AI highlight discovery
	JobModeManualCut  JobMode = "manual_cut"  // independent clips from exact timestamps
	JobModeManualEdit JobMode = "manual_edit" // segments stitched with crossfades
)

// Segment is a time slice of the source video, in seconds.
type Segment struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// RenderOptions is the normalized, bounds-checked option set that the filter
// graph builder consumes. Produced by plan.NormalizeOptions — raw request
// options are in ProcessingOptions.
type RenderOptions struct {
	Layout          Layout
	ZoomLevel       int
	FadeDuration    float64
	Width           int
	Height          int
	Mirror          bool
	Speed           float64
	ColorFilter     bool
	PitchShift      float64
	BackgroundNoise float64
	GhostEffect     bool
	DynamicZoom     bool
	FaceTracking    bool
	Captions        bool
	CaptionStyle    CaptionStyle
}

// RenderTarget is one desired output video: an ordered list of segments plus
// the options they are rendered with. Multiple segments are stitched with
// crossfade transitions.
type RenderTarget struct {
	Index    int
	Title    string
	Platform Platform
	Segments []Segment
	Options  RenderOptions
}

// TotalDuration is the sum of segment durations minus crossfade overlaps.
// Boundaries where the fade degrades to a hard cut contribute no overlap.
func (t RenderTarget) TotalDuration() float64 {
	total := 0.0
	for _, s := range t.Segments {
		total += s.Duration()
	}
	for i := 0; i < len(t.Segments)-1; i++ {
		fade := t.Options.FadeDuration
		if fade < t.Segments[i].Duration() && fade < t.Segments[i+1].Duration() {
			total -= fade
		}
	}
	return total
}

// RenderPlan is the ordered set of outputs derived from one request.
type RenderPlan struct {
	Targets []RenderTarget
}

// WordTimestamp is one transcribed word with its time bounds in seconds.
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// CaptionCue is one on-screen caption block on the output timeline.
type CaptionCue struct {
	Start float64
	End   float64
	Text  string
}

// Job is the mutable state record tracked for every accepted request.
// Mutation goes through the job store; handlers only read snapshots.
type Job struct {
	ID              string     `json:"job_id"`
	FileID          string     `json:"file_id"`
	WebhookURL      string     `json:"webhook_url"`
	Mode            JobMode    `json:"mode"`
	Status          JobStatus  `json:"status"`
	ProgressMessage string     `json:"progress_message"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Result          *JobResult `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
}

// JobError carries the classified failure written to terminal jobs.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// GeneratedClip describes one uploaded output in the success payload.
type GeneratedClip struct {
	Index        int       `json:"index"`
	Title        string    `json:"title"`
	Platform     Platform  `json:"platform,omitempty"`
	TotalSeconds float64   `json:"total_duration"`
	FileID       string    `json:"file_id"`
	FileName     string    `json:"file_name"`
	WebViewLink  string    `json:"link,omitempty"`
	Segments     []Segment `json:"segments"`
	OutputSizeMB float64   `json:"output_size_mb"`
}

type JobResult struct {
	TotalClips     int             `json:"total_clips"`
	GeneratedClips []GeneratedClip `json:"generated_clips"`
}

// WebhookPayload is the terminal notification body. Exactly one of
// Result/Error is set for completed/error; neither for cancelled.
type WebhookPayload struct {
	JobID          string     `json:"job_id"`
	Status         JobStatus  `json:"status"`
	OriginalFileID string     `json:"original_source_id"`
	Result         *JobResult `json:"result,omitempty"`
	Error          *JobError  `json:"error,omitempty"`
}

// JobStatusResponse is the GET /v1/status/{id} body.
type JobStatusResponse struct {
	JobID           string     `json:"job_id"`
	Status          JobStatus  `json:"status"`
	ProgressMessage string     `json:"progress_message"`
	ElapsedSeconds  float64    `json:"elapsed_seconds"`
	Result          *JobResult `json:"result,omitempty"`
	Error           *JobError  `json:"error,omitempty"`
}

// StatusResponse builds the client-facing snapshot for a job.
func StatusResponse(job *Job, now time.Time) JobStatusResponse {
	return JobStatusResponse{
		JobID:           job.ID,
		Status:          job.Status,
		ProgressMessage: job.ProgressMessage,
		ElapsedSeconds:  round1(now.Sub(job.CreatedAt).Seconds()),
		Result:          job.Result,
		Error:           job.Error,
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
