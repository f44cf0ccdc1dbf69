package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 渲染任务状态。
const (
	JobPending   = "pending"
	JobRendering = "rendering"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Publisher 表示可以发起渲染的运营账号。
type Publisher struct {
	gorm.Model
	Email              string `gorm:"uniqueIndex;size:255"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
}

// Document 是被渲染的文档及其可见性配置。
// CurrentJobID 指向当前对读者可见的页面集合；RenderingJobID 非空即表示文档被渲染锁占用。
type Document struct {
	gorm.Model
	Title            string  `gorm:"size:255"`
	IsPublic         bool    `gorm:"default:false"`
	WatermarkEnabled bool    `gorm:"default:false"`
	WatermarkText    string  `gorm:"size:255"`
	CurrentJobID     *string `gorm:"size:36"`
	RenderingJobID   *string `gorm:"size:36;index"`
	PublisherID      uint    `gorm:"index"`
}

// RenderJob 是一次完整渲染尝试；终态之后不再修改。
type RenderJob struct {
	ID           string         `gorm:"primaryKey;size:36"`
	DocumentID   uint           `gorm:"index;not null"`
	Status       string         `gorm:"size:16;index"`
	PageSelector datatypes.JSON `gorm:"type:jsonb"`
	SourceRef    string         `gorm:"size:1024"`
	CanonicalID  string         `gorm:"size:255"`
	SourceName   string         `gorm:"size:512"`
	RequestedAt  time.Time      `gorm:"index"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorCode    int
	ErrorMessage string `gorm:"type:text"`
	TotalPages   int
}

// RenderedPage 是某次成功渲染产出的单页图片。
type RenderedPage struct {
	ID         uint   `gorm:"primaryKey"`
	JobID      string `gorm:"size:36;uniqueIndex:idx_job_page"`
	DocumentID uint   `gorm:"index"`
	PageNumber int    `gorm:"uniqueIndex:idx_job_page"`
	SourcePage int
	ObjectKey  string `gorm:"size:512"`
	Public     bool
	Width      int
	Height     int
	SizeBytes  int64
	CreatedAt  time.Time
}

// AllModels 返回需要迁移的模型。
func AllModels() []any {
	return []any{&Publisher{}, &Document{}, &RenderJob{}, &RenderedPage{}}
}
