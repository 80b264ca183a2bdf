// Package extract turns source material into an ordered list of dictation
// items for one mode.
//
// Extraction is a single best-effort call. Callers of Extract only ever see a
// list; an empty list means nothing usable was extracted and must not start a
// practice or worksheet view.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/dictation/internal/llm"
	"github.com/pavelanni/dictation/internal/llm/prompts"
	"github.com/pavelanni/dictation/internal/model"
	"github.com/pavelanni/dictation/internal/schema"
)

var (
	// ErrExtractionFailed wraps transport, timeout and parse failures.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrNoContent means the backend answered but produced no usable item.
	ErrNoContent = errors.New("no content extracted")
)

// Attachment is one binary input such as a scanned page.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is one extraction job.
type Request struct {
	RawText     string
	Attachments []Attachment
	Mode        model.Mode
}

// Backend performs the completion call. *llm.Client satisfies it.
type Backend interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Service is the content extraction service.
type Service struct {
	backend Backend
	timeout time.Duration
	group   singleflight.Group
	pending atomic.Int32
}

// New creates an extraction service. A zero timeout disables it.
func New(b Backend, timeout time.Duration) *Service {
	return &Service{backend: b, timeout: timeout}
}

// Pending reports how many distinct extractions are in flight.
func (s *Service) Pending() int {
	return int(s.pending.Load())
}

// Extract returns the items extracted from req in source order. Every failure
// collapses to an empty list.
func (s *Service) Extract(ctx context.Context, req Request) []model.DictationItem {
	items, err := s.ExtractDetailed(ctx, req)
	if err != nil {
		return []model.DictationItem{}
	}
	return items
}

// ExtractDetailed is Extract with the reason for an empty result. Duplicate
// submissions of the same request while one is in flight share its result.
func (s *Service) ExtractDetailed(ctx context.Context, req Request) ([]model.DictationItem, error) {
	sch, err := schema.For(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	if strings.TrimSpace(req.RawText) == "" && len(req.Attachments) == 0 {
		return nil, ErrNoContent
	}

	// The shared call outlives any single caller; only the service timeout
	// bounds it.
	callCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(requestKey(req), func() (any, error) {
		s.pending.Add(1)
		defer s.pending.Add(-1)
		return s.run(callCtx, sch, req)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, context.Cause(ctx))
	}
	if res.Shared {
		slog.Debug("joined in-flight extraction", "mode", req.Mode)
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// Callers sharing a result must not alias each other's slice.
	items := res.Val.([]model.DictationItem)
	out := make([]model.DictationItem, len(items))
	copy(out, items)
	return out, nil
}

func (s *Service) run(ctx context.Context, sch schema.Schema, req Request) ([]model.DictationItem, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, images := splitAttachments(req)
	prompt, err := prompts.BuildExtractPrompt(sch, text, len(images) > 0)
	if err != nil {
		return nil, fmt.Errorf("%w: build prompt: %w", ErrExtractionFailed, err)
	}
	def := sch.JSONSchema()

	start := time.Now()
	raw, err := s.backend.Complete(ctx, llm.CompletionRequest{
		System:     prompt,
		Text:       userText(text, len(images)),
		Images:     images,
		Schema:     &def,
		SchemaName: string(sch.Mode()) + "_items",
	})
	if err != nil {
		slog.Error("extraction call failed", "mode", sch.Mode(), "error", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	rawItems, err := ParseItems(raw)
	if err != nil {
		slog.Error("unparseable extraction response", "mode", sch.Mode(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	items := Normalize(sch, rawItems)
	slog.Info("extracted items",
		"mode", sch.Mode(),
		"raw", len(rawItems),
		"kept", len(items),
		"attachments", len(images),
		"elapsed", time.Since(start),
	)
	if len(items) == 0 {
		return nil, ErrNoContent
	}
	return items, nil
}

// Normalize repairs raw items and assigns ids matching array position.
func Normalize(sch schema.Schema, raw []schema.RawItem) []model.DictationItem {
	items := make([]model.DictationItem, 0, len(raw))
	for _, r := range raw {
		item, ok := sch.Normalize(r)
		if !ok {
			continue
		}
		item.ID = len(items)
		items = append(items, item)
	}
	return items
}

// splitAttachments inlines textual attachments into the source text and keeps
// images as vision parts. Other types are skipped.
func splitAttachments(req Request) (string, []llm.Image) {
	var sb strings.Builder
	sb.WriteString(req.RawText)
	var images []llm.Image
	for _, a := range req.Attachments {
		mime := strings.ToLower(strings.TrimSpace(strings.SplitN(a.MIMEType, ";", 2)[0]))
		switch {
		case strings.HasPrefix(mime, "image/"):
			images = append(images, llm.Image{MIMEType: mime, Data: a.Data})
		case strings.HasPrefix(mime, "text/"):
			if !utf8.Valid(a.Data) {
				slog.Warn("skipping non-UTF-8 text attachment", "mime", mime)
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.Write(a.Data)
		default:
			slog.Warn("skipping unsupported attachment", "mime", mime, "bytes", len(a.Data))
		}
	}
	return sb.String(), images
}

func userText(text string, numImages int) string {
	if numImages == 0 {
		return "Extract the items from the source material above."
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("Extract the items from the %d attached page(s).", numImages)
	}
	return fmt.Sprintf("Extract the items from the source material above and the %d attached page(s).", numImages)
}

// requestKey identifies duplicate submissions.
func requestKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Mode))
	h.Write([]byte{0})
	h.Write([]byte(req.RawText))
	for _, a := range req.Attachments {
		h.Write([]byte{0})
		h.Write([]byte(a.MIMEType))
		h.Write([]byte{0})
		h.Write(a.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
