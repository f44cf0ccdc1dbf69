package pageproc

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"docRender/internal/errcode"
	"docRender/internal/raster"
)

const (
	DefaultQuality = 90
	ContentType    = "image/jpeg"
	FileExtension  = ".jpg"
)

// VisibilityPolicy 是文档的可见性与水印配置。
type VisibilityPolicy struct {
	IsPublic         bool
	WatermarkEnabled bool
	WatermarkText    string
}

// Watermark 返回需要叠加的水印文字，未启用时为空。
func (p VisibilityPolicy) Watermark() (string, bool) {
	text := strings.TrimSpace(p.WatermarkText)
	if !p.WatermarkEnabled || text == "" {
		return "", false
	}
	return text, true
}

type ProcessedPage struct {
	PageNumber  int
	Data        []byte
	Width       int
	Height      int
	ContentType string
}

// Processor 以固定 JPEG 质量编码页面。
type Processor struct {
	quality int
	workers int
}

func NewProcessor(quality, workers int) *Processor {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if workers <= 0 {
		workers = raster.DefaultWorkers
	}
	return &Processor{quality: quality, workers: workers}
}

func (p *Processor) Quality() int {
	return p.quality
}

// Process 按策略加水印并编码单页。
func (p *Processor) Process(page raster.RawPage, policy VisibilityPolicy) (ProcessedPage, error) {
	if page.Image == nil {
		return ProcessedPage{}, fmt.Errorf("page %d has no bitmap: %w", page.PageNumber, errcode.ErrConversion)
	}

	img := flatten(page.Image)
	if text, ok := policy.Watermark(); ok {
		marked, err := applyWatermark(img, text)
		if err != nil {
			return ProcessedPage{}, fmt.Errorf("watermark page %d: %v: %w", page.PageNumber, err, errcode.ErrConversion)
		}
		img = marked
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return ProcessedPage{}, fmt.Errorf("encode page %d: %v: %w", page.PageNumber, err, errcode.ErrConversion)
	}

	b := img.Bounds()
	return ProcessedPage{
		PageNumber:  page.PageNumber,
		Data:        buf.Bytes(),
		Width:       b.Dx(),
		Height:      b.Dy(),
		ContentType: ContentType,
	}, nil
}

// ProcessAll 并发处理，结果保持输入顺序。
func (p *Processor) ProcessAll(ctx context.Context, pages []raster.RawPage, policy VisibilityPolicy) ([]ProcessedPage, error) {
	out := make([]ProcessedPage, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			processed, err := p.Process(page, policy)
			if err != nil {
				return err
			}
			out[i] = processed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
