package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	driveAPIBase   = "https://www.googleapis.com/drive/v3"
	driveUploadURL = "https://www.googleapis.com/upload/drive/v3/files"
	oauthTokenURL  = "https://oauth2.googleapis.com/token"

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	requestTimeout = 300 * time.Second
)

// DriveService is a Google Drive REST v3 client authenticated with an OAuth2
// refresh token. Downloads and uploads retry transient failures with
// exponential backoff.
type DriveService struct {
	clientID     string
	clientSecret string
	refreshToken string
	client       *http.Client

	// Endpoint bases, overridable in tests.
	apiBase   string
	uploadURL string
	tokenURL  string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// UploadedFile describes one file created in Drive.
type UploadedFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WebViewLink string `json:"webViewLink"`
}

func NewDriveService(clientID, clientSecret, refreshToken string) *DriveService {
	return &DriveService{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		client:       &http.Client{Timeout: requestTimeout},
		apiBase:      driveAPIBase,
		uploadURL:    driveUploadURL,
		tokenURL:     oauthTokenURL,
	}
}

// token returns a valid access token, refreshing it when within a minute of
// expiry.
func (s *DriveService) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" && time.Now().Before(s.tokenExpiry.Add(-time.Minute)) {
		return s.accessToken, nil
	}

	form := url.Values{
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"refresh_token": {s.refreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, "POST", s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token refresh returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token refresh returned no access token")
	}
	s.accessToken = tok.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return s.accessToken, nil
}

// Download streams a Drive file to destPath with retries. An empty result
// is treated as a failure; partially written files are removed.
func (s *DriveService) Download(ctx context.Context, fileID, destPath string) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Drive] Download retry %d/%d for %s (waiting %v)...", attempt, maxRetries, fileID, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.downloadOnce(ctx, fileID, destPath)
		if err == nil {
			return nil
		}
		lastErr = err
		os.Remove(destPath)
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("download failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *DriveService) downloadOnce(ctx context.Context, fileID, destPath string) error {
	tok, err := s.token(ctx)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/files/%s?alt=media&supportsAllDrives=true", s.apiBase, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := s.client.Do(req)
	if err != nil {
		return &transientError{fmt.Errorf("download request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("download returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
		if isRetryableStatus(resp.StatusCode) {
			return &transientError{err}
		}
		return err
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		return &transientError{fmt.Errorf("download stream interrupted: %w", err)}
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalize %s: %w", destPath, closeErr)
	}
	if written == 0 {
		return fmt.Errorf("downloaded file %s is empty", fileID)
	}
	log.Printf("[Drive] Downloaded %s (%d bytes)", fileID, written)
	return nil
}

// Upload pushes a local file via the multipart endpoint, grants public read
// access, and returns the created file's metadata.
func (s *DriveService) Upload(ctx context.Context, localPath, name, folderID string) (*UploadedFile, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[Drive] Upload retry %d/%d for %s (waiting %v)...", attempt, maxRetries, name, delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		file, err := s.uploadOnce(ctx, localPath, name, folderID)
		if err == nil {
			return file, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("upload failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (s *DriveService) uploadOnce(ctx context.Context, localPath, name, folderID string) (*UploadedFile, error) {
	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	meta := map[string]interface{}{"name": name}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	metaPart, err := w.CreatePart(map[string][]string{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	metaPart.Write(metaJSON)
	mediaPart, err := w.CreatePart(map[string][]string{"Content-Type": {"video/mp4"}})
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	mediaPart.Write(data)
	w.Close()

	u := s.uploadURL + "?uploadType=multipart&supportsAllDrives=true&fields=id,name,webViewLink"
	req, err := http.NewRequestWithContext(ctx, "POST", u, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "multipart/related; boundary="+w.Boundary())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("upload request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("upload returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		if isRetryableStatus(resp.StatusCode) {
			return nil, &transientError{err}
		}
		return nil, err
	}

	var file UploadedFile
	if err := json.Unmarshal(respBody, &file); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if err := s.sharePublic(ctx, file.ID); err != nil {
		// The file exists either way; a failed permission grant should not
		// discard the upload.
		log.Printf("[Drive] WARNING: could not make %s public: %v", file.ID, err)
	}
	log.Printf("[Drive] Uploaded %s as %s (%d bytes)", name, file.ID, len(data))
	return &file, nil
}

func (s *DriveService) sharePublic(ctx context.Context, fileID string) error {
	tok, err := s.token(ctx)
	if err != nil {
		return err
	}
	perm, _ := json.Marshal(map[string]string{"role": "reader", "type": "anyone"})
	u := fmt.Sprintf("%s/files/%s/permissions?supportsAllDrives=true", s.apiBase, url.PathEscape(fileID))
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(perm))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("permission grant returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryDelay calculates exponential backoff with jitter: base * 2^attempt
// plus 0-25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
