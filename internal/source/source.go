package source

import (
	"context"
	"io"
)

// MimeTypePDF 是唯一接受的文档类型。
const MimeTypePDF = "application/pdf"

// ExternalDocument 描述外部文件。
type ExternalDocument struct {
	CanonicalID string
	Name        string
	MimeType    string
	SizeBytes   int64
}

// DocumentSource 是外部文件提供方能力，重试由实现负责；
// 返回的错误需包装 errcode.ErrNotFound、ErrAccessDenied 或 ErrProvider。
type DocumentSource interface {
	Metadata(ctx context.Context, canonicalID string) (ExternalDocument, error)
	Download(ctx context.Context, canonicalID string) (io.ReadCloser, error)
}

// Scanner 在渲染前检查下载内容。
type Scanner interface {
	Scan(ctx context.Context, data []byte) error
}
