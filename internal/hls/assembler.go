package hls

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"go.uber.org/zap"
)

var (
	// ErrNoVariants is returned when a master playlist lists no usable variant.
	ErrNoVariants = errors.New("no variants found in master playlist")

	// ErrNoSegments is returned when a media playlist lists no segments.
	ErrNoSegments = errors.New("no segments found in media playlist")
)

// Fetcher retrieves bytes for playlists, keys, and segments.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchWithRetry(ctx context.Context, url string) ([]byte, error)
}

// SegmentPlan is the resolved download plan for one assembler run.
type SegmentPlan struct {
	Segments []string
	InitURL  string
	Key      *EncryptionKey
	KeyData  []byte
}

// Assembler turns one streaming URL into one local file by walking the
// manifest chain and concatenating decrypted segments in order.
type Assembler struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewAssembler creates a new stream assembler
func NewAssembler(fetcher Fetcher, logger *zap.Logger) *Assembler {
	return &Assembler{
		fetcher: fetcher,
		logger:  logger,
	}
}

// Assemble resolves streamURL down to a single concatenated file at
// destPath. onProgress, when non-nil, is invoked once per completed
// segment. On cancellation the partial output is deleted and the context
// error returned; the file only survives a fully successful run.
func (a *Assembler) Assemble(ctx context.Context, streamURL, destPath string, onProgress func(completed, total int)) error {
	plan, err := a.resolvePlan(ctx, streamURL)
	if err != nil {
		return err
	}

	a.logger.Info("Starting stream assembly",
		zap.String("url", streamURL),
		zap.Int("segments", len(plan.Segments)),
		zap.Bool("encrypted", plan.Key != nil),
		zap.Bool("has_init", plan.InitURL != ""))

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if err := a.writeSegments(ctx, out, plan, onProgress); err != nil {
		out.Close()
		os.Remove(destPath)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to finalize output file: %w", err)
	}
	return nil
}

// resolvePlan walks the playlist chain: root playlist, best variant when
// the root is a master, then segments, encryption key, and init segment.
func (a *Assembler) resolvePlan(ctx context.Context, streamURL string) (*SegmentPlan, error) {
	base, err := url.Parse(streamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}

	text, err := a.fetcher.FetchWithRetry(ctx, streamURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist: %w", err)
	}
	mediaText := string(text)

	if IsMaster(mediaText) {
		variants := ParseVariants(mediaText, base)
		best := SelectBestVariant(variants)
		if best == nil {
			return nil, ErrNoVariants
		}
		a.logger.Debug("Selected variant",
			zap.Int64("bandwidth", best.Bandwidth),
			zap.String("resolution", best.Resolution),
			zap.String("url", best.URL))

		if base, err = url.Parse(best.URL); err != nil {
			return nil, fmt.Errorf("invalid variant URL: %w", err)
		}
		text, err = a.fetcher.FetchWithRetry(ctx, best.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch variant playlist: %w", err)
		}
		mediaText = string(text)
	}

	plan := &SegmentPlan{
		Segments: ParseSegments(mediaText, base),
		InitURL:  ParseInitSegment(mediaText, base),
		Key:      ParseEncryptionKey(mediaText, base),
	}
	if len(plan.Segments) == 0 {
		return nil, ErrNoSegments
	}

	if plan.Key != nil && plan.Key.Method == MethodAES128 {
		keyData, err := a.fetcher.FetchWithRetry(ctx, plan.Key.KeyURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch encryption key: %w", err)
		}
		if len(keyData) != 16 {
			return nil, fmt.Errorf("encryption key has %d bytes, want 16", len(keyData))
		}
		plan.KeyData = keyData
	}

	return plan, nil
}

// writeSegments appends the init segment and every media segment to out,
// strictly in playlist order. Cancellation is checked at every segment
// boundary.
func (a *Assembler) writeSegments(ctx context.Context, out *os.File, plan *SegmentPlan, onProgress func(completed, total int)) error {
	total := len(plan.Segments)

	if plan.InitURL != "" {
		// Init segments are never subject to per-segment IV derivation;
		// they are written through unmodified.
		data, err := a.fetcher.FetchWithRetry(ctx, plan.InitURL)
		if err != nil {
			return fmt.Errorf("failed to fetch init segment: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("failed to write init segment: %w", err)
		}
	}

	for i, segURL := range plan.Segments {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := a.fetcher.FetchWithRetry(ctx, segURL)
		if err != nil {
			return fmt.Errorf("failed to fetch segment %d: %w", i, err)
		}

		if plan.KeyData != nil {
			iv := plan.Key.IV
			if iv == nil {
				iv = DeriveIV(uint32(i))
			}
			if data, err = Decrypt(data, plan.KeyData, iv); err != nil {
				return fmt.Errorf("failed to decrypt segment %d: %w", i, err)
			}
		}

		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("failed to write segment %d: %w", i, err)
		}

		if onProgress != nil {
			onProgress(i+1, total)
		}
	}

	return nil
}
