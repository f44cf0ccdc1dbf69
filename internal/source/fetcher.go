package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"docRender/internal/errcode"
)

// DefaultMaxDocumentBytes 是未配置时的下载上限。
const DefaultMaxDocumentBytes = 50 * 1024 * 1024

// Fetcher 先读元数据，再做有上限的下载。
type Fetcher struct {
	source   DocumentSource
	scanner  Scanner
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher 中 scanner 可为空。
func NewFetcher(src DocumentSource, scanner Scanner, maxBytes int64, logger *slog.Logger) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		source:   src,
		scanner:  scanner,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Fetch 返回文档元数据与完整内容。
func (f *Fetcher) Fetch(ctx context.Context, canonicalID string) (ExternalDocument, []byte, error) {
	log := f.logger.With(slog.String("canonical_id", canonicalID))

	meta, err := f.source.Metadata(ctx, canonicalID)
	if err != nil {
		return ExternalDocument{}, nil, fmt.Errorf("fetch metadata for %q: %w", canonicalID, err)
	}
	if meta.CanonicalID == "" {
		meta.CanonicalID = canonicalID
	}

	if !isPDF(meta.MimeType) {
		return meta, nil, fmt.Errorf("unsupported mime type %q: %w", meta.MimeType, errcode.ErrConversion)
	}
	if meta.SizeBytes > f.maxBytes {
		return meta, nil, fmt.Errorf("document is %d bytes, limit %d: %w", meta.SizeBytes, f.maxBytes, errcode.ErrProvider)
	}

	body, err := f.source.Download(ctx, canonicalID)
	if err != nil {
		return meta, nil, fmt.Errorf("download %q: %w", canonicalID, err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return meta, nil, fmt.Errorf("read %q: %v: %w", canonicalID, err, errcode.ErrProvider)
	}
	if int64(len(data)) > f.maxBytes {
		return meta, nil, fmt.Errorf("document exceeds %d bytes: %w", f.maxBytes, errcode.ErrProvider)
	}
	if len(data) == 0 {
		return meta, nil, fmt.Errorf("document %q is empty: %w", canonicalID, errcode.ErrConversion)
	}
	meta.SizeBytes = int64(len(data))

	if f.scanner != nil {
		if err := f.scanner.Scan(ctx, data); err != nil {
			return meta, nil, fmt.Errorf("scan %q: %w", canonicalID, err)
		}
	}

	log.Info("document fetched",
		slog.String("name", meta.Name),
		slog.Int64("size_bytes", meta.SizeBytes),
	)
	return meta, data, nil
}

func isPDF(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType == MimeTypePDF
}
