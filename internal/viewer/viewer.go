package viewer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docRender/internal/database"
	"docRender/internal/errcode"
	"docRender/internal/render"
	"docRender/internal/storage"
)

// DefaultSignedURLTTL 是未配置时签名链接的有效期。
const DefaultSignedURLTTL = time.Hour

// PageStore 读取当前可见的页面集。
type PageStore interface {
	CurrentPages(ctx context.Context, documentID uint) (database.Document, []database.RenderedPage, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, documentID uint) (render.Status, error)
}

type PageView struct {
	PageNumber int    `json:"page_number"`
	URL        string `json:"url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// PageAccess 是单页的可访问地址。
type PageAccess struct {
	URL       string     `json:"url"`
	Public    bool       `json:"public"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Viewer 只读，不修改任何渲染状态。
type Viewer struct {
	pages   PageStore
	status  StatusReader
	assets  storage.AssetStore
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func New(pages PageStore, status StatusReader, assets storage.AssetStore, baseURL string, signedTTL time.Duration) *Viewer {
	if signedTTL <= 0 {
		signedTTL = DefaultSignedURLTTL
	}
	return &Viewer{
		pages:   pages,
		status:  status,
		assets:  assets,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		ttl:     signedTTL,
		now:     time.Now,
	}
}

// PagePath 返回对外的稳定页面路径。
func PagePath(documentID uint, pageNumber int) string {
	return fmt.Sprintf("/documents/%d/page/%d", documentID, pageNumber)
}

// ListPages 按页码返回当前页面集。
func (v *Viewer) ListPages(ctx context.Context, documentID uint) ([]PageView, error) {
	_, pages, err := v.pages.CurrentPages(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]PageView, len(pages))
	for i, p := range pages {
		out[i] = PageView{
			PageNumber: p.PageNumber,
			URL:        v.baseURL + PagePath(documentID, p.PageNumber),
			Width:      p.Width,
			Height:     p.Height,
		}
	}
	return out, nil
}

func (v *Viewer) GetStatus(ctx context.Context, documentID uint) (render.Status, error) {
	return v.status.GetStatus(ctx, documentID)
}

// GetPageAccess 在读取时判断可见性：文档与页面都公开才返回永久地址，否则签发新的限时链接。
// ttl <= 0 时使用配置的有效期。
func (v *Viewer) GetPageAccess(ctx context.Context, documentID uint, pageNumber int, ttl time.Duration) (PageAccess, error) {
	doc, pages, err := v.pages.CurrentPages(ctx, documentID)
	if err != nil {
		return PageAccess{}, err
	}

	var page *database.RenderedPage
	for i := range pages {
		if pages[i].PageNumber == pageNumber {
			page = &pages[i]
			break
		}
	}
	if page == nil {
		return PageAccess{}, fmt.Errorf("document %d page %d: %w", documentID, pageNumber, errcode.ErrPageNotFound)
	}

	if doc.IsPublic && page.Public {
		return PageAccess{URL: v.assets.PublicURL(page.ObjectKey), Public: true}, nil
	}

	if ttl <= 0 {
		ttl = v.ttl
	}
	signed, err := v.assets.PresignedURL(ctx, page.ObjectKey, ttl)
	if err != nil {
		return PageAccess{}, fmt.Errorf("sign page %d: %w", pageNumber, err)
	}
	expires := v.now().Add(ttl)
	return PageAccess{URL: signed, ExpiresAt: &expires}, nil
}
