package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/viralcut/clipper/internal/facetrack"
	"github.com/viralcut/clipper/internal/filtergraph"
)

// Output encoding constants — 1080x1920 portrait at 30fps unless overridden
// by request options.
const (
	videoFPS     = 30
	videoCodec   = "libx264"
	videoPreset  = "medium"
	videoCRF     = "23"
	videoBitrate = "5M"
	audioBitrate = "192k"

	renderTimeout = 600 * time.Second
	probeTimeout  = 30 * time.Second
	speechTimeout = 120 * time.Second

	silenceNoiseFloor = "-30dB"
	silenceMinLen     = "0.4"
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpegService() *FFmpegService {
	return &FFmpegService{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

// RenderInvocation carries one compiled graph plus its file endpoints.
type RenderInvocation struct {
	InputPath  string
	OutputPath string
	Graph      *filtergraph.Graph
}

// Render executes one filter graph against the source file. The graph is
// serialized here and nowhere else; everything upstream works on the
// structured form.
func (s *FFmpegService) Render(ctx context.Context, inv RenderInvocation) error {
	if err := inv.Graph.Validate(); err != nil {
		return fmt.Errorf("invalid filter graph: %w", err)
	}
	terminals := inv.Graph.Terminals()
	if len(terminals) != 2 {
		return fmt.Errorf("filter graph must produce exactly one video and one audio pad, got %v", terminals)
	}

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", inv.InputPath,
		"-filter_complex", inv.Graph.FilterComplex(),
	}
	for _, pad := range terminals {
		args = append(args, "-map", "["+pad+"]")
	}
	args = append(args,
		"-r", strconv.Itoa(videoFPS),
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-crf", videoCRF,
		"-b:v", videoBitrate,
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		inv.OutputPath,
	)

	log.Printf("[FFmpeg] Rendering %s -> %s (%d filter nodes)", inv.InputPath, inv.OutputPath, len(inv.Graph.Nodes()))

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg render failed: %w (%s)", err, tailOf(stderr.String()))
	}

	info, err := os.Stat(inv.OutputPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced no output at %s", inv.OutputPath)
	}
	return nil
}

// ProbeDuration returns the container duration in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration failed: %w", err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// probeDimensions returns the width and height of the first video stream.
func (s *FFmpegService) probeDimensions(ctx context.Context, path string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe dimensions failed: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(string(out)), "x")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ffprobe returned unparseable dimensions %q", strings.TrimSpace(string(out)))
	}
	w, err1 := strconv.Atoi(parts[0])
	h, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("ffprobe returned unparseable dimensions %q", strings.TrimSpace(string(out)))
	}
	return w, h, nil
}

// ExtractAudio writes a mono 16 kHz mp3 slice of the source, suitable for
// transcription. start/duration bound the slice; duration <= 0 extracts to
// the end of the file.
func (s *FFmpegService) ExtractAudio(ctx context.Context, videoPath, outputPath string, start, duration float64) error {
	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	args := []string{"-y", "-ss", fmt.Sprintf("%.3f", start)}
	if duration > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", duration))
	}
	args = append(args,
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %w (%s)", err, tailOf(stderr.String()))
	}
	return nil
}

// SpeechRegion is a [start,end) interval with detected speech, in seconds.
type SpeechRegion struct {
	Start float64
	End   float64
}

// DetectSpeechRegions runs silencedetect and returns the complement of the
// detected silences over the full duration.
func (s *FFmpegService) DetectSpeechRegions(ctx context.Context, audioPath string) ([]SpeechRegion, error) {
	duration, err := s.ProbeDuration(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, speechTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-i", audioPath,
		"-af", fmt.Sprintf("silencedetect=noise=%s:d=%s", silenceNoiseFloor, silenceMinLen),
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("silencedetect failed: %w (%s)", err, tailOf(stderr.String()))
	}
	return parseSpeechRegions(stderr.String(), duration), nil
}

// parseSpeechRegions inverts silencedetect's silence_start/silence_end log
// lines into speech intervals.
func parseSpeechRegions(ffmpegLog string, duration float64) []SpeechRegion {
	var silences []SpeechRegion
	var open *SpeechRegion
	for _, line := range strings.Split(ffmpegLog, "\n") {
		if idx := strings.Index(line, "silence_start: "); idx >= 0 {
			v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+len("silence_start: "):]), 64)
			if err == nil {
				open = &SpeechRegion{Start: v}
			}
		} else if idx := strings.Index(line, "silence_end: "); idx >= 0 && open != nil {
			rest := strings.TrimSpace(line[idx+len("silence_end: "):])
			if sp := strings.IndexByte(rest, ' '); sp > 0 {
				rest = rest[:sp]
			}
			v, err := strconv.ParseFloat(rest, 64)
			if err == nil {
				open.End = v
				silences = append(silences, *open)
				open = nil
			}
		}
	}
	if open != nil {
		open.End = duration
		silences = append(silences, *open)
	}

	var speech []SpeechRegion
	cursor := 0.0
	for _, sil := range silences {
		if sil.Start > cursor {
			speech = append(speech, SpeechRegion{Start: cursor, End: sil.Start})
		}
		if sil.End > cursor {
			cursor = sil.End
		}
	}
	if cursor < duration {
		speech = append(speech, SpeechRegion{Start: cursor, End: duration})
	}
	return speech
}

// SampleFrames extracts grayscale frames at the given rate and width through
// a rawvideo pipe. Implements the face tracker's FrameSampler.
func (s *FFmpegService) SampleFrames(ctx context.Context, videoPath string, fps float64, width int) ([]facetrack.Frame, error) {
	srcW, srcH, err := s.probeDimensions(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if srcW < width {
		return nil, fmt.Errorf("source too narrow for sampling (%dpx)", srcW)
	}
	height := srcH * width / srcW
	if height%2 == 1 {
		height++
	}
	frameSize := width * height

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g,scale=%d:%d,format=gray", fps, width, height),
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg frame pipe failed: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame sampling failed to start: %w", err)
	}

	var frames []facetrack.Frame
	buf := make([]byte, frameSize)
	i := 0
	for {
		_, err := io.ReadFull(stdout, buf)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			cmd.Wait()
			return nil, fmt.Errorf("reading sampled frame %d: %w", i, err)
		}
		pix := make([]byte, frameSize)
		copy(pix, buf)
		frames = append(frames, facetrack.Frame{
			T:      float64(i) / fps,
			Width:  width,
			Height: height,
			Pix:    pix,
		})
		i++
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg frame sampling failed: %w (%s)", err, tailOf(stderr.String()))
	}
	return frames, nil
}

// tailOf keeps the last chunk of an ffmpeg stderr dump, where the actual
// error lives.
func tailOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		s = s[len(s)-400:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
