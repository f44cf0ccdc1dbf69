package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dutchcoders/go-clamd"

	"docRender/internal/errcode"
)

// ClamdScanner 在光栅化之前使用 clamd 扫描下载的文档。
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner 在 addr 为空时返回 nil，赋给 Scanner 接口前需先判空。
func NewClamdScanner(addr string) *ClamdScanner {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

// Scan 把内容交给 clamd 扫描，非 OK 结果一律视为失败。
func (s *ClamdScanner) Scan(ctx context.Context, data []byte) error {
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := s.client.ScanStream(bytes.NewReader(data), abortChan)
	if err != nil {
		return fmt.Errorf("clamd scan: %v: %w", err, errcode.ErrProvider)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("clamd scan: %v: %w", ctx.Err(), errcode.ErrProvider)
		case result, ok := <-scanChan:
			if !ok {
				return nil
			}
			switch result.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				return fmt.Errorf("document rejected by scanner (%s): %w", result.Description, errcode.ErrAccessDenied)
			default:
				return fmt.Errorf("clamd scan status %s: %w", result.Status, errcode.ErrProvider)
			}
		}
	}
}
