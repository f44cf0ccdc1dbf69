package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"docRender/internal/database"
	"docRender/internal/errcode"
	"docRender/internal/pageproc"
	"docRender/internal/publish"
	"docRender/internal/raster"
	"docRender/internal/reference"
	"docRender/internal/source"
)

// 流水线阶段名，写入错误信息与指标标签。
const (
	StageDispatch = "dispatch"
	StageFetch    = "fetch"
	StageRaster   = "rasterize"
	StageProcess  = "process"
	StagePublish  = "publish"
	StageCommit   = "commit"
	StageTimeout  = "timeout"
)

// Fetcher 抓取源文档。
type Fetcher interface {
	Fetch(ctx context.Context, canonicalID string) (source.ExternalDocument, []byte, error)
}

// PageRasterizer 把文档转换为页面位图。
type PageRasterizer interface {
	Rasterize(ctx context.Context, data []byte, sel raster.PageSelector, targetWidth, density int) ([]raster.RawPage, error)
}

// PageProcessor 压缩页面并按策略加水印。
type PageProcessor interface {
	ProcessAll(ctx context.Context, pages []raster.RawPage, policy pageproc.VisibilityPolicy) ([]pageproc.ProcessedPage, error)
}

// AssetPublisher 上传页面，并在文档转为私有时把页面迁出 public/。
type AssetPublisher interface {
	Publish(ctx context.Context, documentID uint, jobID string, pages []pageproc.ProcessedPage, public bool) ([]publish.Page, error)
	Discard(documentID uint, jobID string)
	MakePrivate(ctx context.Context, documentID uint, jobID string, keys []string) ([]string, error)
	PurgePublic(ctx context.Context, documentID uint, jobID string) error
}

// Dispatcher 把已加锁的任务交给后台执行。
type Dispatcher interface {
	Dispatch(ctx context.Context, req Dispatch) error
}

// Dispatch 描述一次需要后台执行的渲染。
type Dispatch struct {
	JobID         string `json:"job_id"`
	DocumentID    uint   `json:"document_id"`
	CorrelationID string `json:"correlation_id"`
}

// Notifier 接收状态变化事件。
type Notifier interface {
	Notify(ctx context.Context, event StatusEvent)
}

// Recorder 接收指标回调。
type Recorder interface {
	JobAccepted()
	JobConflict()
	JobCompleted(pages int, elapsed time.Duration)
	JobFailed(stage string, elapsed time.Duration)
}

// StatusEvent 是推送给运营端的状态变化。
type StatusEvent struct {
	DocumentID    uint   `json:"document_id"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	TotalPages    int    `json:"total_pages,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Status 是 getRenderStatus 的结果。
type Status struct {
	DocumentID   uint       `json:"document_id"`
	JobID        string     `json:"job_id,omitempty"`
	Status       string     `json:"status"`
	TotalPages   int        `json:"total_pages,omitempty"`
	ErrorCode    int        `json:"error_code,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SourceName   string     `json:"source_name,omitempty"`
	RequestedAt  *time.Time `json:"requested_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusNone 表示文档从未请求过渲染。
const StatusNone = "none"

// Options 是渲染参数。
type Options struct {
	TargetWidth int
	Density     int
	StaleAfter  time.Duration
}

// Coordinator 串联 Fetch → Rasterize → Process → Publish，并维护任务状态机。
type Coordinator struct {
	store      *GormJobStore
	fetcher    Fetcher
	rasterizer PageRasterizer
	processor  PageProcessor
	publisher  AssetPublisher
	dispatcher Dispatcher
	notifier   Notifier
	recorder   Recorder
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
}

// Deps 汇总协调器的依赖。Notifier 与 Recorder 可为空。
type Deps struct {
	Store      *GormJobStore
	Fetcher    Fetcher
	Rasterizer PageRasterizer
	Processor  PageProcessor
	Publisher  AssetPublisher
	Dispatcher Dispatcher
	Notifier   Notifier
	Recorder   Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewCoordinator(deps Deps, opts Options) *Coordinator {
	c := &Coordinator{
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		rasterizer: deps.Rasterizer,
		processor:  deps.Processor,
		publisher:  deps.Publisher,
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		recorder:   deps.Recorder,
		opts:       opts,
		now:        deps.Now,
		logger:     deps.Logger,
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.opts.StaleAfter <= 0 {
		c.opts.StaleAfter = 30 * time.Minute
	}
	return c
}

// SetDispatcher 替换调度器；进程内调度器需要先有协调器才能构造。
func (c *Coordinator) SetDispatcher(d Dispatcher) {
	c.dispatcher = d
}

// RequestRender 校验引用、抢占渲染锁并把任务交给后台，立即返回任务 ID。
// 引用无法解析时不会创建任务；文档正在渲染时返回 ErrConflict。
func (c *Coordinator) RequestRender(ctx context.Context, documentID uint, sourceRef string, sel raster.PageSelector, correlationID string) (string, error) {
	logger := c.logger.With(
		slog.Uint64("document_id", uint64(documentID)),
		slog.String("correlation_id", correlationID),
	)

	canonicalID, err := reference.Resolve(sourceRef)
	if err != nil {
		logger.Info("render request rejected: invalid reference")
		return "", err
	}
	if err := sel.Validate(); err != nil {
		return "", err
	}

	selectorJSON, err := json.Marshal(sel)
	if err != nil {
		return "", fmt.Errorf("encode page selector: %w", err)
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	job := database.RenderJob{
		ID:           jobID.String(),
		DocumentID:   documentID,
		PageSelector: datatypes.JSON(selectorJSON),
		SourceRef:    strings.TrimSpace(sourceRef),
		CanonicalID:  canonicalID,
	}
	if err := c.store.BeginJob(ctx, &job, c.now()); err != nil {
		if errors.Is(err, errcode.ErrConflict) {
			c.recorder.JobConflict()
			logger.Info("render request rejected: already rendering")
		}
		return "", err
	}

	logger = logger.With(slog.String("job_id", job.ID))
	c.recorder.JobAccepted()
	c.notifier.Notify(ctx, StatusEvent{
		DocumentID:    documentID,
		JobID:         job.ID,
		Status:        database.JobRendering,
		CorrelationID: correlationID,
	})

	if err := c.dispatcher.Dispatch(ctx, Dispatch{JobID: job.ID, DocumentID: documentID, CorrelationID: correlationID}); err != nil {
		logger.Error("dispatch render job failed", slog.Any("error", err))
		c.fail(context.WithoutCancel(ctx), logger, job, StageDispatch, fmt.Errorf("%v: %w", err, errcode.ErrProvider), correlationID)
		return "", fmt.Errorf("dispatch render job: %w", err)
	}

	logger.Info("render job accepted", slog.String("canonical_id", canonicalID), slog.String("selector", sel.String()))
	return job.ID, nil
}

// Execute 运行一个已加锁任务的完整流水线。任务已不在 rendering 时直接返回。
func (c *Coordinator) Execute(ctx context.Context, jobID, correlationID string) error {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	logger := c.logger.With(
		slog.String("job_id", job.ID),
		slog.Uint64("document_id", uint64(job.DocumentID)),
		slog.String("correlation_id", correlationID),
	)
	if job.Status != database.JobRendering {
		logger.Warn("skip render job not in rendering state", slog.String("status", job.Status))
		return nil
	}

	doc, err := c.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return c.fail(ctx, logger, job, StageFetch, err, correlationID)
	}
	policy := pageproc.VisibilityPolicy{
		IsPublic:         doc.IsPublic,
		WatermarkEnabled: doc.WatermarkEnabled,
		WatermarkText:    doc.WatermarkText,
	}

	var sel raster.PageSelector
	if len(job.PageSelector) > 0 {
		if err := json.Unmarshal(job.PageSelector, &sel); err != nil {
			return c.fail(ctx, logger, job, StageRaster, fmt.Errorf("decode page selector: %v: %w", err, errcode.ErrConversion), correlationID)
		}
	}

	meta, data, err := c.fetcher.Fetch(ctx, job.CanonicalID)
	if err != nil {
		return c.fail(ctx, logger, job, StageFetch, err, correlationID)
	}
	if err := c.store.RecordSource(ctx, job.ID, meta.CanonicalID, meta.Name); err != nil {
		logger.Warn("record source metadata failed", slog.Any("error", err))
	}

	rawPages, err := c.rasterizer.Rasterize(ctx, data, sel, c.opts.TargetWidth, c.opts.Density)
	if err != nil {
		return c.fail(ctx, logger, job, StageRaster, err, correlationID)
	}

	processed, err := c.processor.ProcessAll(ctx, rawPages, policy)
	if err != nil {
		return c.fail(ctx, logger, job, StageProcess, err, correlationID)
	}

	pages, err := c.publisher.Publish(ctx, job.DocumentID, job.ID, processed, policy.IsPublic)
	if err != nil {
		return c.fail(ctx, logger, job, StagePublish, err, correlationID)
	}

	previous, err := c.store.CompleteJob(ctx, job, pages, c.now())
	if err != nil {
		c.publisher.Discard(job.DocumentID, job.ID)
		if errors.Is(err, ErrJobNotRendering) {
			logger.Warn("discard late render result", slog.Any("error", err))
			return nil
		}
		return c.fail(ctx, logger, job, StageCommit, err, correlationID)
	}

	if previous != nil && *previous != job.ID {
		c.retire(context.WithoutCancel(ctx), logger, job.DocumentID, *previous)
	}
	// 渲染期间文档可能已改为私有
	if policy.IsPublic {
		if err := c.RevokePublicPages(context.WithoutCancel(ctx), job.DocumentID); err != nil {
			logger.Error("revoke public pages after render failed", slog.Any("error", err))
		}
	}

	c.recorder.JobCompleted(len(pages), c.elapsed(job))
	c.notifier.Notify(ctx, StatusEvent{
		DocumentID:    job.DocumentID,
		JobID:         job.ID,
		Status:        database.JobCompleted,
		TotalPages:    len(pages),
		CorrelationID: correlationID,
	})
	logger.Info("render job completed", slog.Int("total_pages", len(pages)))
	return nil
}

// GetStatus 读取文档最近一次任务的状态。
func (c *Coordinator) GetStatus(ctx context.Context, documentID uint) (Status, error) {
	if _, err := c.store.GetDocument(ctx, documentID); err != nil {
		return Status{}, err
	}

	job, err := c.store.LatestJob(ctx, documentID)
	if err != nil {
		if errors.Is(err, errcode.ErrNeverRendered) {
			return Status{DocumentID: documentID, Status: StatusNone}, nil
		}
		return Status{}, err
	}

	st := Status{
		DocumentID:  documentID,
		JobID:       job.ID,
		Status:      job.Status,
		SourceName:  job.SourceName,
		RequestedAt: &job.RequestedAt,
		CompletedAt: job.CompletedAt,
	}
	switch job.Status {
	case database.JobCompleted:
		st.TotalPages = job.TotalPages
	case database.JobFailed:
		st.ErrorCode = job.ErrorCode
		st.ErrorMessage = job.ErrorMessage
	}
	return st, nil
}

// RevokePublicPages 在文档为私有时把当前页面集迁出 public/：先复制到 private/，
// 再在一个事务内改写页面记录，最后删除公开对象。文档仍公开或从未渲染时什么也不做，可重复调用。
func (c *Coordinator) RevokePublicPages(ctx context.Context, documentID uint) error {
	if c.publisher == nil {
		return errors.New("asset publisher not configured")
	}
	doc, pages, err := c.store.CurrentPages(ctx, documentID)
	if err != nil {
		if errors.Is(err, errcode.ErrNeverRendered) {
			return nil
		}
		return err
	}
	if doc.IsPublic || doc.CurrentJobID == nil {
		return nil
	}
	jobID := *doc.CurrentJobID

	var (
		keys    []string
		numbers []int
	)
	for _, p := range pages {
		if p.Public {
			keys = append(keys, p.ObjectKey)
			numbers = append(numbers, p.PageNumber)
		}
	}

	if len(keys) > 0 {
		moved, err := c.publisher.MakePrivate(ctx, documentID, jobID, keys)
		if err != nil {
			return err
		}
		updates := make(map[int]string, len(moved))
		for i, key := range moved {
			updates[numbers[i]] = key
		}
		if err := c.store.MarkPagesPrivate(ctx, jobID, updates); err != nil {
			return err
		}
	}

	// 上次删除失败时重试也会走到这里
	if err := c.publisher.PurgePublic(ctx, documentID, jobID); err != nil {
		return err
	}
	if len(keys) > 0 {
		c.logger.Info("public pages revoked",
			slog.Uint64("document_id", uint64(documentID)),
			slog.String("job_id", jobID),
			slog.Int("pages", len(keys)),
		)
	}
	return nil
}

// ReapStale 把超时仍在 rendering 的任务置为 failed 并释放锁。
func (c *Coordinator) ReapStale(ctx context.Context) (int, error) {
	jobs, err := c.store.StaleJobs(ctx, c.now().Add(-c.opts.StaleAfter))
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, job := range jobs {
		logger := c.logger.With(
			slog.String("job_id", job.ID),
			slog.Uint64("document_id", uint64(job.DocumentID)),
		)
		err := fmt.Errorf("render timed out after %s: %w", c.opts.StaleAfter, errcode.ErrProvider)
		if failErr := c.fail(ctx, logger, job, StageTimeout, err, ""); errors.Is(failErr, ErrJobNotRendering) {
			continue
		}
		if c.publisher != nil {
			c.publisher.Discard(job.DocumentID, job.ID)
		}
		reaped++
	}
	return reaped, nil
}

// fail 记录失败并返回原始错误；旧页面集不受影响。
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, job database.RenderJob, stage string, cause error, correlationID string) error {
	message := fmt.Sprintf("%s: %v", stage, cause)
	code := errcode.Code(cause)

	if err := c.store.FailJob(context.WithoutCancel(ctx), job, code, message, c.now()); err != nil {
		if errors.Is(err, ErrJobNotRendering) {
			logger.Warn("render job already terminal, failure dropped", slog.String("stage", stage))
			return ErrJobNotRendering
		}
		logger.Error("mark render job failed", slog.Any("error", err))
		return fmt.Errorf("%s: %w", message, errors.Join(cause, err))
	}

	c.recorder.JobFailed(stage, c.elapsed(job))
	c.notifier.Notify(ctx, StatusEvent{
		DocumentID:    job.DocumentID,
		JobID:         job.ID,
		Status:        database.JobFailed,
		ErrorCode:     code,
		ErrorMessage:  message,
		CorrelationID: correlationID,
	})
	logger.Warn("render job failed", slog.String("stage", stage), slog.Any("error", cause))
	return cause
}

// retire 清理被替换的旧页面集，失败只记录日志。
func (c *Coordinator) retire(ctx context.Context, logger *slog.Logger, documentID uint, jobID string) {
	c.publisher.Discard(documentID, jobID)
	if err := c.store.DeletePages(ctx, jobID); err != nil {
		logger.Warn("delete retired pages failed", slog.String("retired_job_id", jobID), slog.Any("error", err))
	}
}

func (c *Coordinator) elapsed(job database.RenderJob) time.Duration {
	if job.StartedAt == nil {
		return 0
	}
	return c.now().Sub(*job.StartedAt)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, StatusEvent) {}

type nopRecorder struct{}

func (nopRecorder) JobAccepted()                    {}
func (nopRecorder) JobConflict()                    {}
func (nopRecorder) JobCompleted(int, time.Duration) {}
func (nopRecorder) JobFailed(string, time.Duration) {}
