package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docRender/internal/config"
	"docRender/internal/errcode"
)

// DriveSource 以服务账号读取 Google Drive 文件。
type DriveSource struct {
	svc        *drive.Service
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewDriveSource 创建只读 Drive 客户端，未配置凭据文件时使用 ADC。
func NewDriveSource(ctx context.Context, cfg config.DriveConfig, logger *slog.Logger) (*DriveSource, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveReadonlyScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init drive service: %w", err)
	}

	return newDriveSource(svc, cfg, logger), nil
}

func newDriveSource(svc *drive.Service, cfg config.DriveConfig, logger *slog.Logger) *DriveSource {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DriveSource{
		svc:        svc,
		limiter:    rate.NewLimiter(rate.Limit(rps), 10),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Metadata 读取文件名、MIME 类型与大小。
func (s *DriveSource) Metadata(ctx context.Context, canonicalID string) (ExternalDocument, error) {
	var file *drive.File
	err := s.do(ctx, "files.get", func() error {
		var callErr error
		file, callErr = s.svc.Files.Get(canonicalID).
			Fields("id", "name", "mimeType", "size").
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return ExternalDocument{}, err
	}

	id := file.Id
	if id == "" {
		id = canonicalID
	}
	return ExternalDocument{
		CanonicalID: id,
		Name:        file.Name,
		MimeType:    file.MimeType,
		SizeBytes:   file.Size,
	}, nil
}

// Download 返回文件内容流，由调用方关闭。
func (s *DriveSource) Download(ctx context.Context, canonicalID string) (io.ReadCloser, error) {
	var resp *http.Response
	err := s.do(ctx, "files.download", func() error {
		var callErr error
		resp, callErr = s.svc.Files.Get(canonicalID).
			SupportsAllDrives(true).
			Context(ctx).
			Download()
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *DriveSource) do(ctx context.Context, op string, call func() error) error {
	var lastErr error
	backoff := s.backoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying drive request",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %v: %w", op, ctx.Err(), errcode.ErrProvider)
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %v: %w", op, err, errcode.ErrProvider)
		}

		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return fmt.Errorf("%s: %w", op, classifyDriveError(lastErr))
}

func isRetryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
		return true
	}
	if gerr.Code == http.StatusForbidden {
		for _, item := range gerr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return true
			}
		}
	}
	return false
}

// classifyDriveError 把 Drive API 错误映射为 errcode 分类。
func classifyDriveError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%v: %w", err, errcode.ErrProvider)
	}
	switch {
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", gerr.Message, errcode.ErrNotFound)
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", gerr.Message, errcode.ErrAccessDenied)
	case gerr.Code == http.StatusForbidden && !isRetryable(err):
		return fmt.Errorf("%s: %w", gerr.Message, errcode.ErrAccessDenied)
	default:
		return fmt.Errorf("status %d: %s: %w", gerr.Code, gerr.Message, errcode.ErrProvider)
	}
}
