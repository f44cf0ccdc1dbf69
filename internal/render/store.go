package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docRender/internal/database"
	"docRender/internal/errcode"
	"docRender/internal/publish"
)

// ErrJobNotRendering 表示任务已不在 rendering 状态（已终结或被回收），迟到的结果必须丢弃。
var ErrJobNotRendering = errors.New("render job is no longer rendering")

// GormJobStore 持久化渲染任务，并以文档行上的条件更新实现渲染锁。
type GormJobStore struct {
	db *gorm.DB
}

func NewGormJobStore(db *gorm.DB) *GormJobStore {
	return &GormJobStore{db: db}
}

// GetDocument 读取文档。
func (s *GormJobStore) GetDocument(ctx context.Context, documentID uint) (database.Document, error) {
	var doc database.Document
	if err := s.db.WithContext(ctx).First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Document{}, fmt.Errorf("document %d: %w", documentID, errcode.ErrDocumentNotFound)
		}
		return database.Document{}, fmt.Errorf("query document %d: %w", documentID, err)
	}
	return doc, nil
}

// GetJob 读取任务。
func (s *GormJobStore) GetJob(ctx context.Context, jobID string) (database.RenderJob, error) {
	var job database.RenderJob
	if err := s.db.WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.RenderJob{}, fmt.Errorf("render job %s: %w", jobID, errcode.ErrNotFound)
		}
		return database.RenderJob{}, fmt.Errorf("query render job %s: %w", jobID, err)
	}
	return job, nil
}

// LatestJob 返回文档最近一次请求的任务。
func (s *GormJobStore) LatestJob(ctx context.Context, documentID uint) (database.RenderJob, error) {
	var job database.RenderJob
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("requested_at DESC").
		Order("id DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.RenderJob{}, fmt.Errorf("document %d has no render job: %w", documentID, errcode.ErrNeverRendered)
		}
		return database.RenderJob{}, fmt.Errorf("query latest job: %w", err)
	}
	return job, nil
}

// BeginJob 在一个事务内创建 pending 任务、抢占文档渲染锁并切换到 rendering。
// 锁已被占用时返回 ErrConflict，且不会留下任何任务记录。
func (s *GormJobStore) BeginJob(ctx context.Context, job *database.RenderJob, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc database.Document
		if err := tx.Select("id").First(&doc, job.DocumentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("document %d: %w", job.DocumentID, errcode.ErrDocumentNotFound)
			}
			return fmt.Errorf("query document: %w", err)
		}

		job.Status = database.JobPending
		job.RequestedAt = now
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("create render job: %w", err)
		}

		// 单条条件更新即为 compare-and-set
		res := tx.Model(&database.Document{}).
			Where("id = ? AND rendering_job_id IS NULL", job.DocumentID).
			Update("rendering_job_id", job.ID)
		if res.Error != nil {
			return fmt.Errorf("acquire render lock: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("document %d is already rendering: %w", job.DocumentID, errcode.ErrConflict)
		}

		if err := tx.Model(&database.RenderJob{}).
			Where("id = ? AND status = ?", job.ID, database.JobPending).
			Updates(map[string]any{"status": database.JobRendering, "started_at": now}).Error; err != nil {
			return fmt.Errorf("mark job rendering: %w", err)
		}
		job.Status = database.JobRendering
		job.StartedAt = &now
		return nil
	})
}

// RecordSource 记录抓取到的源文档信息。
func (s *GormJobStore) RecordSource(ctx context.Context, jobID, canonicalID, name string) error {
	return s.db.WithContext(ctx).Model(&database.RenderJob{}).
		Where("id = ? AND status = ?", jobID, database.JobRendering).
		Updates(map[string]any{"canonical_id": canonicalID, "source_name": name}).Error
}

// CompleteJob 原子地完成任务：写入新页面、切换文档当前页面集并释放渲染锁。
// 返回被替换掉的旧任务 ID（可能为空）。任务已不在 rendering 时返回 ErrJobNotRendering。
func (s *GormJobStore) CompleteJob(ctx context.Context, job database.RenderJob, pages []publish.Page, now time.Time) (*string, error) {
	var previous *string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.RenderJob{}).
			Where("id = ? AND status = ?", job.ID, database.JobRendering).
			Updates(map[string]any{
				"status":       database.JobCompleted,
				"completed_at": now,
				"total_pages":  len(pages),
			})
		if res.Error != nil {
			return fmt.Errorf("mark job completed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrJobNotRendering
		}

		var doc database.Document
		if err := tx.Select("id", "current_job_id").First(&doc, job.DocumentID).Error; err != nil {
			return fmt.Errorf("query document: %w", err)
		}
		previous = doc.CurrentJobID

		rows := make([]database.RenderedPage, len(pages))
		for i, p := range pages {
			rows[i] = database.RenderedPage{
				JobID:      job.ID,
				DocumentID: job.DocumentID,
				PageNumber: p.PageNumber,
				SourcePage: p.SourcePage,
				ObjectKey:  p.ObjectKey,
				Public:     p.Public,
				Width:      p.Width,
				Height:     p.Height,
				SizeBytes:  p.SizeBytes,
				CreatedAt:  now,
			}
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return fmt.Errorf("insert rendered pages: %w", err)
			}
		}

		res = tx.Model(&database.Document{}).
			Where("id = ? AND rendering_job_id = ?", job.DocumentID, job.ID).
			Updates(map[string]any{"current_job_id": job.ID, "rendering_job_id": nil})
		if res.Error != nil {
			return fmt.Errorf("swap current page set: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrJobNotRendering
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// FailJob 将任务置为 failed 并释放渲染锁；已有页面集保持不变。
func (s *GormJobStore) FailJob(ctx context.Context, job database.RenderJob, code int, message string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.RenderJob{}).
			Where("id = ? AND status IN ?", job.ID, []string{database.JobPending, database.JobRendering}).
			Updates(map[string]any{
				"status":        database.JobFailed,
				"completed_at":  now,
				"error_code":    code,
				"error_message": message,
			})
		if res.Error != nil {
			return fmt.Errorf("mark job failed: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return ErrJobNotRendering
		}

		if err := tx.Model(&database.Document{}).
			Where("id = ? AND rendering_job_id = ?", job.DocumentID, job.ID).
			Update("rendering_job_id", nil).Error; err != nil {
			return fmt.Errorf("release render lock: %w", err)
		}
		return nil
	})
}

// DeletePages 删除某次渲染的页面记录。
func (s *GormJobStore) DeletePages(ctx context.Context, jobID string) error {
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&database.RenderedPage{}).Error; err != nil {
		return fmt.Errorf("delete pages of job %s: %w", jobID, err)
	}
	return nil
}

// CurrentPages 返回文档及其当前可见的页面集，按页码升序。
// 页面按 documents.current_job_id 的子查询在同一条语句里读取，与并发的切换和清理互不穿插。
func (s *GormJobStore) CurrentPages(ctx context.Context, documentID uint) (database.Document, []database.RenderedPage, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return database.Document{}, nil, err
	}
	if doc.CurrentJobID == nil {
		return doc, nil, fmt.Errorf("document %d: %w", documentID, errcode.ErrNeverRendered)
	}

	current := s.db.Model(&database.Document{}).Select("current_job_id").Where("id = ?", documentID)
	var pages []database.RenderedPage
	if err := s.db.WithContext(ctx).
		Where("job_id = (?)", current).
		Order("page_number ASC").
		Find(&pages).Error; err != nil {
		return database.Document{}, nil, fmt.Errorf("query rendered pages: %w", err)
	}
	if len(pages) > 0 {
		jobID := pages[0].JobID
		doc.CurrentJobID = &jobID
	}
	return doc, pages, nil
}

// MarkPagesPrivate 在一个事务内把某次渲染的页面改写到新的 key 并标记为非公开。
func (s *GormJobStore) MarkPagesPrivate(ctx context.Context, jobID string, keys map[int]string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for pageNumber, key := range keys {
			if err := tx.Model(&database.RenderedPage{}).
				Where("job_id = ? AND page_number = ?", jobID, pageNumber).
				Updates(map[string]any{"object_key": key, "public": false}).Error; err != nil {
				return fmt.Errorf("mark page %d private: %w", pageNumber, err)
			}
		}
		return nil
	})
}

// StaleJobs 返回开始时间早于 before 仍处于 rendering 的任务。
func (s *GormJobStore) StaleJobs(ctx context.Context, before time.Time) ([]database.RenderJob, error) {
	var jobs []database.RenderJob
	if err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", database.JobRendering, before).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	return jobs, nil
}
