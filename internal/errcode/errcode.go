package errcode

import "errors"

// 错误码约定：
// - 0：无错误
// - 4xxx：用户输入或外部文档提供方导致的错误
// - 5xxx：系统错误（转换、上传等需要中断流程）
const (
	OK               = 0
	InvalidReference = 4000
	AccessDenied     = 4003
	NotFound         = 4004
	Conflict         = 4009
	ProviderError    = 5002
	ConversionError  = 5003
	PublishError     = 5004
	SystemError      = 5000
)

// 流水线错误分类，各阶段用 %w 包装，调用方通过 errors.Is 判断。
var (
	ErrInvalidReference = errors.New("invalid document reference")
	ErrNotFound         = errors.New("document not found at provider")
	ErrAccessDenied     = errors.New("access to document denied")
	ErrProvider         = errors.New("document provider error")
	ErrConversion       = errors.New("document conversion failed")
	ErrPublish          = errors.New("page publish failed")
	ErrConflict         = errors.New("render already in progress")

	// 本地文档记录不存在
	ErrDocumentNotFound = errors.New("document does not exist")
	// 尚无已完成的页面集
	ErrNeverRendered = errors.New("document has never been rendered")
	ErrPageNotFound  = errors.New("page does not exist")
)

// Code 把错误映射为状态通知中的数字错误码。
func Code(err error) int {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrInvalidReference):
		return InvalidReference
	case errors.Is(err, ErrAccessDenied):
		return AccessDenied
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrNeverRendered), errors.Is(err, ErrPageNotFound):
		return NotFound
	case errors.Is(err, ErrConflict):
		return Conflict
	case errors.Is(err, ErrProvider):
		return ProviderError
	case errors.Is(err, ErrConversion):
		return ConversionError
	case errors.Is(err, ErrPublish):
		return PublishError
	default:
		return SystemError
	}
}
