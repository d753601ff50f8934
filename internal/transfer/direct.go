// Package transfer implements the byte-level transfer for progressive
// (non-manifest) sources, with Range-based resume and throttled progress.
package transfer

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/fetch"
)

const copyBufferSize = 32 * 1024

// Progress is a snapshot of a running byte-level transfer
type Progress struct {
	DownloadedBytes int64
	TotalBytes      int64 // 0 when the server does not report a length
}

// Direct performs progressive-file transfers into a downloads directory.
type Direct struct {
	client           *fetch.Client
	dir              string
	progressInterval time.Duration
	logger           *zap.Logger
}

// NewDirect creates a new direct transfer runner
func NewDirect(client *fetch.Client, dir string, progressInterval time.Duration, logger *zap.Logger) *Direct {
	if progressInterval <= 0 {
		progressInterval = 500 * time.Millisecond
	}
	return &Direct{
		client:           client,
		dir:              dir,
		progressInterval: progressInterval,
		logger:           logger,
	}
}

// Download fetches srcURL into the downloads directory under fileStem plus
// a resolved extension, resuming from an existing partial file when the
// server honors byte ranges. onProgress is invoked at most once per
// progress interval. Returns the final file name (not path) on success; a
// cancelled run keeps its partial file as resume data.
func (d *Direct) Download(ctx context.Context, srcURL, fileStem string, headers map[string]string, onProgress func(Progress)) (string, error) {
	tempPath := filepath.Join(d.dir, fileStem+".part")

	var resumeFrom int64
	if stat, err := os.Stat(tempPath); err == nil {
		resumeFrom = stat.Size()
	}

	extra := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		extra[k] = v
	}
	if resumeFrom > 0 {
		extra["Range"] = fmt.Sprintf("bytes=%d-", resumeFrom)
		d.logger.Info("Resuming transfer",
			zap.String("url", srcURL),
			zap.Int64("resume_from", resumeFrom))
	}

	resp, err := d.client.Get(ctx, srcURL, extra)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// A server that ignores the Range header restarts the body from zero.
	if resumeFrom > 0 && resp.StatusCode != http.StatusPartialContent {
		resumeFrom = 0
	}

	totalBytes := int64(0)
	if resp.ContentLength > 0 {
		totalBytes = resp.ContentLength + resumeFrom
	}

	fileName := fileStem + ResolveExtension(resp.Header.Get("Content-Type"), srcURL, ".mp4")
	finalPath := filepath.Join(d.dir, fileName)

	var file *os.File
	if resumeFrom > 0 {
		file, err = os.OpenFile(tempPath, os.O_APPEND|os.O_WRONLY, 0o644)
	} else {
		file, err = os.Create(tempPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open output file: %w", err)
	}

	err = d.copyWithProgress(ctx, file, resp.Body, resumeFrom, totalBytes, onProgress)
	file.Close()
	if err != nil {
		return "", err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move completed file: %w", err)
	}
	return fileName, nil
}

// FetchSubtitle retrieves a subtitle file, best-effort. Returns the stored
// file name.
func (d *Direct) FetchSubtitle(ctx context.Context, srcURL, fileStem string, headers map[string]string) (string, error) {
	resp, err := d.client.Get(ctx, srcURL, headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read subtitle body: %w", err)
	}

	fileName := fileStem + "_sub" + ResolveExtension(resp.Header.Get("Content-Type"), srcURL, ".srt")
	if err := os.WriteFile(filepath.Join(d.dir, fileName), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return fileName, nil
}

// DiscardPartial removes any resume data left behind for fileStem.
func (d *Direct) DiscardPartial(fileStem string) {
	os.Remove(filepath.Join(d.dir, fileStem+".part"))
}

func (d *Direct) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, resumeFrom, totalBytes int64, onProgress func(Progress)) error {
	buffer := make([]byte, copyBufferSize)
	totalRead := resumeFrom
	lastUpdate := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := src.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file: %w", writeErr)
			}
			totalRead += int64(n)

			if now := time.Now(); onProgress != nil && now.Sub(lastUpdate) >= d.progressInterval {
				onProgress(Progress{DownloadedBytes: totalRead, TotalBytes: totalBytes})
				lastUpdate = now
			}
		}

		if err != nil {
			if err == io.EOF {
				if onProgress != nil {
					onProgress(Progress{DownloadedBytes: totalRead, TotalBytes: totalBytes})
				}
				return nil
			}
			return fmt.Errorf("failed to read from response: %w", err)
		}
	}
}

// ResolveExtension picks an output extension from the response content
// type when available, else from the source URL's path, else the default.
func ResolveExtension(contentType, srcURL, fallback string) string {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if ext := extensionForMediaType(mediaType); ext != "" {
				return ext
			}
		}
	}
	if u, err := url.Parse(srcURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	return fallback
}

// extensionForMediaType maps the media types this engine actually sees.
// mime.ExtensionsByType is platform-dependent, which would make file names
// differ across hosts.
func extensionForMediaType(mediaType string) string {
	switch mediaType {
	case "video/mp4":
		return ".mp4"
	case "video/mp2t":
		return ".ts"
	case "video/x-matroska":
		return ".mkv"
	case "video/webm":
		return ".webm"
	case "application/x-subrip":
		return ".srt"
	case "text/vtt":
		return ".vtt"
	default:
		return ""
	}
}
