package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docRender/internal/api/middleware"
	"docRender/internal/database"
	"docRender/internal/errcode"
	"docRender/internal/raster"
)

const maxWatermarkTextLength = 120

// DocumentRenderer 受理渲染请求，并在文档转为私有时收回公开页面。
type DocumentRenderer interface {
	RequestRender(ctx context.Context, documentID uint, sourceRef string, sel raster.PageSelector, correlationID string) (string, error)
	RevokePublicPages(ctx context.Context, documentID uint) error
}

// DocumentHandler 处理发布者对文档的管理操作。
type DocumentHandler struct {
	db       *gorm.DB
	renderer DocumentRenderer
	logger   *slog.Logger
}

func NewDocumentHandler(db *gorm.DB, renderer DocumentRenderer, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{db: db, renderer: renderer, logger: logger}
}

var errInvalidDocumentID = errors.New("invalid document id")

type createDocumentRequest struct {
	Title            string `json:"title" binding:"required,max=255"`
	IsPublic         bool   `json:"is_public"`
	WatermarkEnabled bool   `json:"watermark_enabled"`
	WatermarkText    string `json:"watermark_text"`
}

type updateSettingsRequest struct {
	IsPublic         *bool   `json:"is_public"`
	WatermarkEnabled *bool   `json:"watermark_enabled"`
	WatermarkText    *string `json:"watermark_text"`
}

type renderRequest struct {
	SourceRef string              `json:"source_ref" binding:"required"`
	Pages     raster.PageSelector `json:"pages"`
}

type documentResponse struct {
	ID               uint      `json:"id"`
	Title            string    `json:"title"`
	IsPublic         bool      `json:"is_public"`
	WatermarkEnabled bool      `json:"watermark_enabled"`
	WatermarkText    string    `json:"watermark_text,omitempty"`
	CurrentJobID     *string   `json:"current_job_id,omitempty"`
	RenderingJobID   *string   `json:"rendering_job_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newDocumentResponse(doc database.Document) documentResponse {
	return documentResponse{
		ID:               doc.ID,
		Title:            doc.Title,
		IsPublic:         doc.IsPublic,
		WatermarkEnabled: doc.WatermarkEnabled,
		WatermarkText:    doc.WatermarkText,
		CurrentJobID:     doc.CurrentJobID,
		RenderingJobID:   doc.RenderingJobID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

// CreateDocument 创建一个归属当前发布者的文档。
func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	publisherID, ok := middleware.PublisherIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	text := strings.TrimSpace(req.WatermarkText)
	if len(text) > maxWatermarkTextLength {
		BadRequest(c, "watermark text too long")
		return
	}

	doc := database.Document{
		Title:            strings.TrimSpace(req.Title),
		IsPublic:         req.IsPublic,
		WatermarkEnabled: req.WatermarkEnabled,
		WatermarkText:    text,
		PublisherID:      publisherID,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&doc).Error; err != nil {
		loggerFromContext(c, h.logger).Error("create document failed", slog.Any("error", err))
		Internal(c, "failed to create document")
		return
	}

	c.JSON(http.StatusCreated, newDocumentResponse(doc))
}

// ListDocuments 列出当前发布者的文档。
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	publisherID, ok := middleware.PublisherIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var docs []database.Document
	if err := h.db.WithContext(c.Request.Context()).
		Where("publisher_id = ?", publisherID).
		Order("id DESC").
		Find(&docs).Error; err != nil {
		loggerFromContext(c, h.logger).Error("list documents failed", slog.Any("error", err))
		Internal(c, "failed to list documents")
		return
	}

	items := make([]documentResponse, len(docs))
	for i, doc := range docs {
		items[i] = newDocumentResponse(doc)
	}
	c.JSON(http.StatusOK, gin.H{"documents": items})
}

// UpdateSettings 修改可见性策略。改为公开只影响之后的渲染；改为私有会立即把当前页面迁出 public/。
func (h *DocumentHandler) UpdateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	doc, ok := h.loadOwnedDocument(c)
	if !ok {
		return
	}

	updates := map[string]any{}
	if req.IsPublic != nil {
		updates["is_public"] = *req.IsPublic
	}
	if req.WatermarkEnabled != nil {
		updates["watermark_enabled"] = *req.WatermarkEnabled
	}
	if req.WatermarkText != nil {
		text := strings.TrimSpace(*req.WatermarkText)
		if len(text) > maxWatermarkTextLength {
			BadRequest(c, "watermark text too long")
			return
		}
		updates["watermark_text"] = text
	}
	if len(updates) == 0 {
		BadRequest(c, "no settings to update")
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(&doc).Updates(updates).Error; err != nil {
		loggerFromContext(c, h.logger).Error("update document settings failed", slog.Any("error", err))
		Internal(c, "failed to update settings")
		return
	}
	if err := h.db.WithContext(ctx).First(&doc, doc.ID).Error; err != nil {
		Internal(c, "failed to reload document")
		return
	}

	// 重复提交 is_public=false 也会重试上次未完成的迁移
	if !doc.IsPublic && req.IsPublic != nil {
		if err := h.renderer.RevokePublicPages(ctx, doc.ID); err != nil {
			loggerFromContext(c, h.logger).Error("revoke public pages failed",
				slog.Uint64("document_id", uint64(doc.ID)),
				slog.Any("error", err),
			)
			Internal(c, "failed to revoke public pages")
			return
		}
	}

	c.JSON(http.StatusOK, newDocumentResponse(doc))
}

// RequestRender 受理渲染请求并立即返回 202 和任务 ID，渲染在后台进行。
func (h *DocumentHandler) RequestRender(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	doc, ok := h.loadOwnedDocument(c)
	if !ok {
		return
	}

	logger := loggerFromContext(c, h.logger).With(slog.Uint64("document_id", uint64(doc.ID)))
	jobID, err := h.renderer.RequestRender(c.Request.Context(), doc.ID, req.SourceRef, req.Pages, middleware.GetCorrelationID(c))
	if err != nil {
		RespondError(c, logger, err)
		return
	}

	logger.Info("render accepted", slog.String("job_id", jobID), slog.String("pages", req.Pages.String()))
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// loadOwnedDocument 读取路径中的文档；不存在或不属于当前发布者时统一返回 404。
func (h *DocumentHandler) loadOwnedDocument(c *gin.Context) (database.Document, bool) {
	publisherID, ok := middleware.PublisherIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return database.Document{}, false
	}
	documentID, err := parseDocumentID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return database.Document{}, false
	}

	var doc database.Document
	err = h.db.WithContext(c.Request.Context()).
		Where("id = ? AND publisher_id = ?", documentID, publisherID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			RespondError(c, h.logger, errcode.ErrDocumentNotFound)
			return database.Document{}, false
		}
		loggerFromContext(c, h.logger).Error("load document failed", slog.Any("error", err))
		Internal(c, "internal error")
		return database.Document{}, false
	}
	return doc, true
}

func parseDocumentID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidDocumentID
	}
	return uint(id), nil
}
