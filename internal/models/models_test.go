package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"93.5", 93.5, false},
		{"0", 0, false},
		{"1:33", 93, false},
		{"01:33", 93, false},
		{"1:33.5", 93.5, false},
		{"1:01:33", 3693, false},
		{"  2:05 ", 125, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1:2:3:4", 0, true},
		{"-5", 0, true},
		{"1:-30", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimestamp(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimestamp(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTimestampUnmarshalEquivalence(t *testing.T) {
	// "1:33" and 93 must land on the same value regardless of JSON shape.
	var a, b, c Timestamp
	if err := json.Unmarshal([]byte(`"1:33"`), &a); err != nil {
		t.Fatalf("clock string: %v", err)
	}
	if err := json.Unmarshal([]byte(`93`), &b); err != nil {
		t.Fatalf("number: %v", err)
	}
	if err := json.Unmarshal([]byte(`"93"`), &c); err != nil {
		t.Fatalf("numeric string: %v", err)
	}
	if a != b || b != c {
		t.Errorf("equivalent timestamps diverged: %v %v %v", a, b, c)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusError, JobStatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []JobStatus{JobStatusQueued, JobStatusDownloading, JobStatusAnalyzing, JobStatusProcessing, JobStatusUploading, JobStatusFinishing}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRenderTargetTotalDuration(t *testing.T) {
	opts := RenderOptions{FadeDuration: 1.0}

	single := RenderTarget{Segments: []Segment{{Start: 10, End: 28}}, Options: opts}
	if got := single.TotalDuration(); got != 18 {
		t.Errorf("single segment duration = %v, want 18", got)
	}

	// Three segments with two crossfade overlaps.
	multi := RenderTarget{
		Segments: []Segment{{Start: 0, End: 10}, {Start: 20, End: 30}, {Start: 40, End: 50}},
		Options:  opts,
	}
	if got := multi.TotalDuration(); got != 28 {
		t.Errorf("stitched duration = %v, want 28", got)
	}

	// Fade longer than a segment degrades that boundary to a hard cut.
	short := RenderTarget{
		Segments: []Segment{{Start: 0, End: 0.5}, {Start: 5, End: 15}},
		Options:  opts,
	}
	if got := short.TotalDuration(); got != 10.5 {
		t.Errorf("hard-cut duration = %v, want 10.5", got)
	}
}

func TestErrorKindClassification(t *testing.T) {
	err := Errorf(ErrKindRender, "ffmpeg exited with status %d", 1)
	if KindOf(err) != ErrKindRender {
		t.Errorf("KindOf = %v, want render", KindOf(err))
	}
	je := ErrorOf(err)
	if je.Kind != "render" {
		t.Errorf("JobError.Kind = %q, want render", je.Kind)
	}

	plain := json.Unmarshal([]byte("{"), &struct{}{})
	if KindOf(plain) != ErrKindInternal {
		t.Errorf("unclassified error should map to internal, got %v", KindOf(plain))
	}
}

func TestStatusResponseElapsed(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	job := &Job{ID: "j1", Status: JobStatusProcessing, ProgressMessage: "rendering clip 1/2", CreatedAt: created}
	resp := StatusResponse(job, created.Add(12345*time.Millisecond))
	if resp.ElapsedSeconds != 12.3 {
		t.Errorf("elapsed = %v, want 12.3", resp.ElapsedSeconds)
	}
	if resp.JobID != "j1" || resp.Status != JobStatusProcessing {
		t.Errorf("unexpected snapshot: %+v", resp)
	}
}
