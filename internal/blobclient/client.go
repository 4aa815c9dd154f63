// Package blobclient implements spec.md §4.8 C8: the content-addressed
// file-blob store (upload/download), treated as an interface per spec.md
// §1 Non-goals. Grounded on
// original_source/.../tools/file_server.py's FileServerClient.
package blobclient

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadResult mirrors model.FileUploadResult's shape, kept here to avoid
// an import cycle; the orchestrator node translates it.
type UploadResult struct {
	OK      bool
	FileURL string
	FileID  string
	SHA256  string
	Error   string
}

// Client persists PDF bytes under BaseDir, addressed by (message_id,
// filename), resolving name collisions with a deterministic
// _YYYYMMDD_HHMMSS suffix before the extension (spec.md §4.8).
type Client struct {
	BaseDir  string
	URLBase  string // public base URL prefixed to a saved relative path
	Now      func() time.Time
}

func New(baseDir, urlBase string) *Client {
	return &Client{BaseDir: baseDir, URLBase: urlBase, Now: func() time.Time { return time.Now().UTC() }}
}

// Upload computes sha256 (if not supplied), saves the bytes under
// {messageID}/{filename} (collision-suffixed), and returns a file_url
// built from URLBase.
func (c *Client) Upload(ctx context.Context, messageID string, fileBytes []byte, filename, contentType, sha string) UploadResult {
	if sha == "" {
		sum := sha256.Sum256(fileBytes)
		sha = hex.EncodeToString(sum[:])
	}

	relPath, err := c.Save(fileBytes, messageID, "", filename)
	if err != nil {
		return UploadResult{OK: false, Error: err.Error()}
	}

	fileURL := strings.TrimRight(c.URLBase, "/") + "/" + filepath.ToSlash(relPath)
	return UploadResult{OK: true, FileURL: fileURL, FileID: sha, SHA256: sha}
}

// Save writes fileBytes to BaseDir/baseDir_/subDir/filename, resolving a
// name collision by inserting _YYYYMMDD_HHMMSS before the extension
// (spec.md §4.8 "deterministic... before the extension"). Returns the
// path relative to c.BaseDir.
func (c *Client) Save(fileBytes []byte, baseDir, subDir, filename string) (string, error) {
	dir := filepath.Join(c.BaseDir, baseDir, subDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	target := filepath.Join(dir, filename)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(filename)
		stem := strings.TrimSuffix(filename, ext)
		suffixed := fmt.Sprintf("%s_%s%s", stem, c.Now().Format("20060102_150405"), ext)
		target = filepath.Join(dir, suffixed)
		filename = suffixed
	}

	if err := os.WriteFile(target, fileBytes, 0o644); err != nil {
		return "", err
	}
	return filepath.Join(baseDir, subDir, filename), nil
}

// Read returns the bytes at baseDir/relativePath, or an error if absent.
func (c *Client) Read(ctx context.Context, baseDir, relativePath string) ([]byte, error) {
	full := filepath.Join(c.BaseDir, baseDir, relativePath)
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("blob not found: %s: %w", relativePath, err)
	}
	return data, nil
}
