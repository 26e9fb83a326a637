package uploads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"certify-backend/internal/application/authz"
	"certify-backend/internal/pkg/apperr"
)

// DefaultProofBucket holds supporting documents attached to requests.
const DefaultProofBucket = "certificate-proofs"

// StorageClient is what the proof upload flow needs from object storage.
type StorageClient interface {
	CreateSignedUploadURL(ctx context.Context, bucket, path string) (string, error)
}

// HTTPClient is a StorageClient backed by the storage REST API
// (POST /storage/v1/object/upload/sign/<bucket>/<path>).
type HTTPClient struct {
	BaseURL   string
	SecretKey string
	Client    *http.Client
}

type signedUploadResponse struct {
	SignedURL      string `json:"signedUrl"`
	SignedURLSnake string `json:"signed_url"`
	URL            string `json:"url"` // relative path returned by upload/sign API
}

func (c *HTTPClient) CreateSignedUploadURL(ctx context.Context, bucket, objectPath string) (string, error) {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("storage: STORAGE_URL is not set")
	}
	if c.SecretKey == "" {
		return "", fmt.Errorf("storage: STORAGE_SECRET_KEY is not set")
	}
	base := strings.TrimRight(c.BaseURL, "/")
	url := fmt.Sprintf("%s/storage/v1/object/upload/sign/%s/%s", base, bucket, objectPath)

	bodyBytes, _ := json.Marshal(map[string]interface{}{
		"expiresIn": 900,
		"upsert":    false,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("apikey", c.SecretKey)
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage error: status %d body: %s", resp.StatusCode, string(respBody))
	}

	var data signedUploadResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return "", fmt.Errorf("storage response decode: %w", err)
	}
	switch {
	case data.SignedURL != "":
		return data.SignedURL, nil
	case data.SignedURLSnake != "":
		return data.SignedURLSnake, nil
	case data.URL != "":
		u := data.URL
		if u[0] != '/' {
			u = "/" + u
		}
		return base + "/storage/v1" + strings.TrimPrefix(u, "/storage/v1"), nil
	}
	return "", fmt.Errorf("storage returned no signed URL, body: %s", string(respBody))
}

// Service hands students a short-lived upload URL for a proof document and the
// opaque proof_ref to attach to their request.
type Service struct {
	Client StorageClient
	Bucket string
	Gate   authz.Gate
	Now    func() time.Time
}

type UploadResult struct {
	UploadURL string `json:"uploadUrl"`
	ProofRef  string `json:"proof_ref"`
	Path      string `json:"path"`
}

var allowedExt = map[string]bool{".pdf": true, ".png": true, ".jpg": true, ".jpeg": true}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GetProofUploadURL signs an upload slot under the caller's own prefix.
func (s *Service) GetProofUploadURL(ctx context.Context, caller authz.Caller, fileName string) (*UploadResult, error) {
	if err := s.Gate.Authorize(caller, authz.ActionUploadProof, authz.Owned(caller.UserID)); err != nil {
		return nil, err
	}
	name := sanitizeFileName(fileName)
	if name == "" {
		return nil, apperr.Validation("file_name is required", map[string]string{"file_name": "file_name is required"})
	}
	if !allowedExt[strings.ToLower(path.Ext(name))] {
		return nil, apperr.Validation("Unsupported file type", map[string]string{"file_name": "file_name must end in .pdf, .png, .jpg or .jpeg"})
	}
	bucket := s.Bucket
	if bucket == "" {
		bucket = DefaultProofBucket
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	objectPath := fmt.Sprintf("%s/%d-%s", caller.UserID, now().UnixMilli(), name)

	signedURL, err := s.Client.CreateSignedUploadURL(ctx, bucket, objectPath)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		UploadURL: signedURL,
		ProofRef:  bucket + "/" + objectPath,
		Path:      objectPath,
	}, nil
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeName.ReplaceAllString(name, "_")
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return strings.Trim(name, "._")
}
