package raster

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"docRender/internal/errcode"
)

const (
	DefaultTargetWidth = 1600
	DefaultDensity     = 150
	DefaultWorkers     = 4
)

// Engine 打开待渲染的文档。
type Engine interface {
	Open(data []byte) (Document, error)
}

// Document 是已打开的文档，RenderPage 需支持并发调用。
type Document interface {
	NumPage() int
	// index 从 0 开始
	RenderPage(index int, dpi float64) (image.Image, error)
	Close() error
}

// PageCounter 只统计页数。
type PageCounter interface {
	PageCount(data []byte) (int, error)
}

// RawPage 是已限宽的页面位图。
type RawPage struct {
	PageNumber int
	Image      image.Image
	Width      int
	Height     int
}

type Options struct {
	TargetWidth int
	Density     int
	Workers     int
}

func (o Options) withDefaults() Options {
	if o.TargetWidth <= 0 {
		o.TargetWidth = DefaultTargetWidth
	}
	if o.Density <= 0 {
		o.Density = DefaultDensity
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Rasterizer 以有限并发渲染选中的页面。
type Rasterizer struct {
	engine  Engine
	counter PageCounter
	opts    Options
	logger  *slog.Logger
}

// NewRasterizer 中 counter 可为空，此时 PageCount 直接使用引擎页数。
func NewRasterizer(engine Engine, counter PageCounter, opts Options, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rasterizer{
		engine:  engine,
		counter: counter,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

func (r *Rasterizer) Options() Options {
	return r.opts
}

// PageCount 探测页数，探测失败时回退到引擎。
func (r *Rasterizer) PageCount(data []byte) (int, error) {
	if r.counter != nil {
		n, err := r.counter.PageCount(data)
		if err == nil {
			return n, nil
		}
		r.logger.Warn("page count probe failed, falling back to engine", slog.Any("error", err))
	}

	doc, err := r.engine.Open(data)
	if err != nil {
		return 0, fmt.Errorf("open document: %v: %w", err, errcode.ErrConversion)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// Rasterize 按选择器顺序渲染页面并限制宽度；targetWidth、density 为正时覆盖配置。
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, sel PageSelector, targetWidth, density int) ([]RawPage, error) {
	if targetWidth <= 0 {
		targetWidth = r.opts.TargetWidth
	}
	if density <= 0 {
		density = r.opts.Density
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	doc, err := r.engine.Open(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %v: %w", err, errcode.ErrConversion)
	}
	defer doc.Close()

	// 已打开的文档是页数的唯一依据
	pageNumbers, err := sel.Resolve(doc.NumPage())
	if err != nil {
		return nil, err
	}

	pages := make([]RawPage, len(pageNumbers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, pageNumber := range pageNumbers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := doc.RenderPage(pageNumber-1, float64(density))
			if err != nil {
				return fmt.Errorf("render page %d: %v: %w", pageNumber, err, errcode.ErrConversion)
			}
			pages[i] = boundWidth(pageNumber, img, targetWidth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("document rasterized",
		slog.String("selector", sel.String()),
		slog.Int("page_count", pageCount),
		slog.Int("rendered", len(pages)),
	)
	return pages, nil
}

func boundWidth(pageNumber int, img image.Image, targetWidth int) RawPage {
	b := img.Bounds()
	if b.Dx() > targetWidth {
		img = imaging.Resize(img, targetWidth, 0, imaging.Lanczos)
		b = img.Bounds()
	}
	return RawPage{
		PageNumber: pageNumber,
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
	}
}
