package models

// ProcessingOptions is the raw, optional option set accepted on every request.
// Pointers distinguish "absent" from zero; plan.NormalizeOptions applies
// defaults and clamps into RenderOptions.
type ProcessingOptions struct {
	Layout          *string  `json:"layout,omitempty"`
	ZoomLevel       *int     `json:"zoom_level,omitempty"`
	FadeDuration    *float64 `json:"fade_duration,omitempty"`
	Width           *int     `json:"width,omitempty"`
	Height          *int     `json:"height,omitempty"`
	Mirror          *bool    `json:"mirror,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	ColorFilter     *bool    `json:"color_filter,omitempty"`
	PitchShift      *float64 `json:"pitch_shift,omitempty"`
	BackgroundNoise *float64 `json:"background_noise,omitempty"`
	GhostEffect     *bool    `json:"ghost_effect,omitempty"`
	DynamicZoom     *bool    `json:"dynamic_zoom,omitempty"`
	FaceTracking    *bool    `json:"face_tracking,omitempty"`
	Captions        *bool    `json:"captions,omitempty"`
	CaptionStyle    *string  `json:"caption_style,omitempty"`
	MaxClips        *int     `json:"max_clips,omitempty"`
}

// ProcessRequest asks for AI highlight discovery on a source file.
type ProcessRequest struct {
	FileID      string            `json:"file_id"`
	WebhookURL  string            `json:"webhook_url"`
	Instruction string            `json:"instruction,omitempty"`
	Options     ProcessingOptions `json:"options"`
}

// ClipRequest is one requested output in a manual-cut request.
type ClipRequest struct {
	Start Timestamp `json:"start"`
	End   Timestamp `json:"end"`
	Title string    `json:"title,omitempty"`
}

// ManualCutRequest renders each clip as an independent output.
type ManualCutRequest struct {
	FileID     string            `json:"file_id"`
	WebhookURL string            `json:"webhook_url"`
	Clips      []ClipRequest     `json:"clips"`
	Options    ProcessingOptions `json:"options"`
}

// SegmentRequest is one slice in a manual-edit request.
type SegmentRequest struct {
	Start Timestamp `json:"start"`
	End   Timestamp `json:"end"`
}

// ManualEditRequest stitches all segments into one output with crossfades.
type ManualEditRequest struct {
	FileID     string            `json:"file_id"`
	WebhookURL string            `json:"webhook_url"`
	Segments   []SegmentRequest  `json:"segments"`
	Title      string            `json:"title,omitempty"`
	Options    ProcessingOptions `json:"options"`
}

// JobRequest is what handlers enqueue and workers dequeue. Exactly one of the
// request payloads is non-nil, matching Mode.
type JobRequest struct {
	JobID      string             `json:"job_id"`
	Mode       JobMode            `json:"mode"`
	Process    *ProcessRequest    `json:"process,omitempty"`
	ManualCut  *ManualCutRequest  `json:"manual_cut,omitempty"`
	ManualEdit *ManualEditRequest `json:"manual_edit,omitempty"`
}
