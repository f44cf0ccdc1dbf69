package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docRender/internal/errcode"
	"docRender/internal/pageproc"
	"docRender/internal/storage"
)

const cleanupTimeout = 30 * time.Second

// Page 是上传完成的页面，PageNumber 按发布顺序从 1 连续编号。
type Page struct {
	PageNumber int
	SourcePage int
	ObjectKey  string
	Public     bool
	Width      int
	Height     int
	SizeBytes  int64
}

// JobPrefix 返回某次渲染在存储中的目录。
func JobPrefix(documentID uint, jobID string, public bool) string {
	visibility := "private/"
	if public {
		visibility = storage.PublicPrefix
	}
	return fmt.Sprintf("%sdocuments/%d/%s/", visibility, documentID, jobID)
}

// JobPrefixes 返回某次渲染可能使用的全部目录。
func JobPrefixes(documentID uint, jobID string) []string {
	return []string{JobPrefix(documentID, jobID, true), JobPrefix(documentID, jobID, false)}
}

// ObjectKey 返回单页对象的 key。
func ObjectKey(documentID uint, jobID string, public bool, pageNumber int) string {
	return fmt.Sprintf("%spage-%04d%s", JobPrefix(documentID, jobID, public), pageNumber, pageproc.FileExtension)
}

// Publisher 并发上传页面，任一页失败则整体失败并清理已上传的对象。
type Publisher struct {
	store   storage.AssetStore
	workers int
	logger  *slog.Logger
}

func NewPublisher(store storage.AssetStore, workers int, logger *slog.Logger) *Publisher {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, workers: workers, logger: logger}
}

// Publish 把页面上传到该任务独占的前缀下，按输入顺序返回；失败时不留任何对象。
func (p *Publisher) Publish(ctx context.Context, documentID uint, jobID string, pages []pageproc.ProcessedPage, public bool) ([]Page, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to publish: %w", errcode.ErrPublish)
	}

	out := make([]Page, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			position := i + 1
			key := ObjectKey(documentID, jobID, public, position)
			if err := p.store.PutObject(gctx, key, page.Data, page.ContentType); err != nil {
				return fmt.Errorf("upload page %d: %v: %w", position, err, errcode.ErrPublish)
			}
			out[i] = Page{
				PageNumber: position,
				SourcePage: page.PageNumber,
				ObjectKey:  key,
				Public:     public,
				Width:      page.Width,
				Height:     page.Height,
				SizeBytes:  int64(len(page.Data)),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.Discard(documentID, jobID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("publish cancelled: %v: %w", ctxErr, errcode.ErrPublish)
		}
		return nil, err
	}

	p.logger.Info("pages published",
		slog.Uint64("document_id", uint64(documentID)),
		slog.String("job_id", jobID),
		slog.Int("pages", len(out)),
		slog.Bool("public", public),
	)
	return out, nil
}

// Discard 删除任务可能写入的全部对象，失败只记录日志。
func (p *Publisher) Discard(documentID uint, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, prefix := range JobPrefixes(documentID, jobID) {
		if err := p.store.DeletePrefix(ctx, prefix); err != nil {
			p.logger.Warn("discard job objects failed",
				slog.String("prefix", prefix),
				slog.Any("error", err),
			)
		}
	}
}

// PrivateKey 返回公开对象在 private/ 下对应的 key；非公开 key 原样返回。
func PrivateKey(key string) string {
	if !strings.HasPrefix(key, storage.PublicPrefix) {
		return key
	}
	return "private/" + strings.TrimPrefix(key, storage.PublicPrefix)
}

// MakePrivate 把公开页面复制到 private/ 下，返回与 keys 顺序一致的新 key。
// 任一复制失败时删除已复制的对象，公开对象保持不动。
func (p *Publisher) MakePrivate(ctx context.Context, documentID uint, jobID string, keys []string) ([]string, error) {
	out := make([]string, len(keys))
	var (
		mu     sync.Mutex
		copied []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, key := range keys {
		g.Go(func() error {
			dst := PrivateKey(key)
			if dst == key {
				out[i] = key
				return nil
			}
			if err := p.store.CopyObject(gctx, key, dst); err != nil {
				return fmt.Errorf("copy page %q: %v: %w", key, err, errcode.ErrPublish)
			}
			mu.Lock()
			copied = append(copied, dst)
			mu.Unlock()
			out[i] = dst
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		for _, key := range copied {
			if delErr := p.store.DeleteObject(cleanupCtx, key); delErr != nil {
				p.logger.Warn("remove partial private copy failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	p.logger.Info("pages moved to private",
		slog.Uint64("document_id", uint64(documentID)),
		slog.String("job_id", jobID),
		slog.Int("pages", len(copied)),
	)
	return out, nil
}

// PurgePublic 删除某次渲染在 public/ 下的全部对象。
func (p *Publisher) PurgePublic(ctx context.Context, documentID uint, jobID string) error {
	if err := p.store.DeletePrefix(ctx, JobPrefix(documentID, jobID, true)); err != nil {
		return fmt.Errorf("purge public pages of job %s: %w", jobID, err)
	}
	return nil
}
