package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docRender/internal/render"
	"docRender/internal/viewer"
)

// 预签名 URL 的有效期上限与 S3 一致。
const maxSignedURLTTL = 7 * 24 * time.Hour

// PageViewer 是只读的页面访问接口。
type PageViewer interface {
	ListPages(ctx context.Context, documentID uint) ([]viewer.PageView, error)
	GetStatus(ctx context.Context, documentID uint) (render.Status, error)
	GetPageAccess(ctx context.Context, documentID uint, pageNumber int, ttl time.Duration) (viewer.PageAccess, error)
}

// ViewerHandler 提供渲染状态、页面列表与单页跳转。
type ViewerHandler struct {
	viewer PageViewer
	logger *slog.Logger
}

func NewViewerHandler(v PageViewer, logger *slog.Logger) *ViewerHandler {
	return &ViewerHandler{viewer: v, logger: logger}
}

// GetStatus 返回文档最近一次渲染的状态。
func (h *ViewerHandler) GetStatus(c *gin.Context) {
	documentID, err := parseDocumentID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	status, err := h.viewer.GetStatus(c.Request.Context(), documentID)
	if err != nil {
		RespondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListPages 返回当前页面集；从未渲染成功时 404。
func (h *ViewerHandler) ListPages(c *gin.Context) {
	documentID, err := parseDocumentID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	pages, err := h.viewer.ListPages(c.Request.Context(), documentID)
	if err != nil {
		RespondError(c, loggerFromContext(c, h.logger), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": documentID, "pages": pages})
}

// GetPage 把稳定的页面路径解析为可直接访问的地址。
// 默认 302 跳转；?format=json 返回 {url, public, expires_at}；?expires_in= 指定签名有效期（秒）。
func (h *ViewerHandler) GetPage(c *gin.Context) {
	documentID, err := parseDocumentID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	pageNumber, err := strconv.Atoi(c.Param("n"))
	if err != nil || pageNumber < 1 {
		BadRequest(c, "invalid page number")
		return
	}

	var ttl time.Duration
	if raw := c.Query("expires_in"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			BadRequest(c, "invalid expires_in")
			return
		}
		ttl = min(time.Duration(seconds)*time.Second, maxSignedURLTTL)
	}

	access, err := h.viewer.GetPageAccess(c.Request.Context(), documentID, pageNumber, ttl)
	if err != nil {
		RespondError(c, loggerFromContext(c, h.logger), err)
		return
	}

	if access.Public {
		c.Header("Cache-Control", "public, max-age=300")
	} else {
		c.Header("Cache-Control", "no-store")
	}
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, access)
		return
	}
	c.Redirect(http.StatusFound, access.URL)
}
