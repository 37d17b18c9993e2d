package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"resumerank/internal/api/middleware"
	"resumerank/internal/config"
	"resumerank/internal/database"
	"resumerank/internal/engine"
	"resumerank/internal/tasks"
)

var errInvalidDocumentID = errors.New("invalid document id")

// resumeStorage 是简历归档所需的对象存储能力。
type resumeStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
}

// storedResumeDeleter 是删除路径对打分引擎的最小依赖。
type storedResumeDeleter interface {
	DeleteStored(ctx context.Context, resumeID string) error
}

type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ResumeHandler 负责简历库：上传归档、异步索引、列表与删除。
type ResumeHandler struct {
	db        *gorm.DB
	storage   resumeStorage
	engine    storedResumeDeleter
	enqueuer  taskEnqueuer
	upload    config.UploadConfig
	clamdAddr string
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, storageClient resumeStorage, engineClient storedResumeDeleter, enqueuer taskEnqueuer, upload config.UploadConfig, clamdAddr string) *ResumeHandler {
	return &ResumeHandler{
		db:        db,
		storage:   storageClient,
		engine:    engineClient,
		enqueuer:  enqueuer,
		upload:    upload,
		clamdAddr: clamdAddr,
	}
}

type documentListItem struct {
	ID            uint      `json:"id"`
	Filename      string    `json:"filename"`
	EngineID      string    `json:"engine_id"`
	Status        string    `json:"status"`
	CandidateName string    `json:"candidate_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// UploadResume 接收单份 PDF，归档到对象存储并入队索引任务。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	file, err := c.FormFile("resume")
	if err != nil {
		BadRequest(c, "missing resume file")
		return
	}
	if file.Size > h.upload.MaxFileBytes() {
		BadRequest(c, fmt.Sprintf("file %q exceeds the %d MB limit", file.Filename, h.upload.MaxFileMB))
		return
	}
	if !isPDFUpload(file) {
		BadRequest(c, fmt.Sprintf("file %q is not a PDF", file.Filename))
		return
	}

	if h.clamdAddr != "" {
		reader, err := file.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return
		}
		infected, err := scanReader(h.clamdAddr, reader)
		reader.Close()
		if err != nil {
			log.Error("scan file failed", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
		if infected {
			BadRequest(c, "malicious file detected")
			return
		}
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer reader.Close()

	engineID := uuid.NewString()
	objectKey := fmt.Sprintf("resumes/%d/%s.pdf", userID, engineID)

	ctx := c.Request.Context()
	if _, err := h.storage.UploadFile(ctx, objectKey, reader, file.Size, "application/pdf"); err != nil {
		log.Error("archive resume failed", slog.Any("error", err))
		Internal(c, "failed to store resume")
		return
	}

	doc := database.ResumeDocument{
		UserID:    userID,
		Filename:  file.Filename,
		ObjectKey: objectKey,
		EngineID:  engineID,
		Status:    database.DocumentStatusPending,
	}
	if err := h.db.WithContext(ctx).Create(&doc).Error; err != nil {
		log.Error("create resume document failed", slog.Any("error", err))
		Internal(c, "failed to save resume")
		return
	}

	task, err := tasks.NewResumeIndexTask(doc.ID, middleware.GetCorrelationID(c))
	if err != nil {
		Internal(c, "failed to create task")
		return
	}
	if _, err := h.enqueuer.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		log.Error("enqueue resume index failed", slog.Any("error", err))
		Internal(c, "failed to enqueue indexing")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document_id": doc.ID,
		"engine_id":   doc.EngineID,
		"status":      doc.Status,
	})
}

// ListResumes 列出用户归档的简历及其索引状态。
func (h *ResumeHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var docs []database.ResumeDocument
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&docs).Error; err != nil {
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]documentListItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentListItem{
			ID:            doc.ID,
			Filename:      doc.Filename,
			EngineID:      doc.EngineID,
			Status:        doc.Status,
			CandidateName: doc.CandidateName,
			CreatedAt:     doc.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"resumes": items})
}

// DeleteResume 同时从引擎向量库、对象存储与数据库移除一份简历。
// 历史会话保持不变：会话是不可变的审计记录。
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, errInvalidDocumentID):
			BadRequest(c, "invalid document id")
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "resume not found")
		default:
			Internal(c, "failed to query resume")
		}
		return
	}

	ctx := c.Request.Context()

	// 先撤掉引擎索引，失败则中止，避免向量库残留孤儿条目。
	if doc.Status == database.DocumentStatusIndexed {
		if err := h.engine.DeleteStored(ctx, doc.EngineID); err != nil {
			log.Error("delete from engine store failed", slog.Any("error", err))
			BadGateway(c, "scoring engine unavailable")
			return
		}
	}

	if err := h.storage.DeleteObject(ctx, doc.ObjectKey); err != nil {
		log.Error("delete archived resume failed", slog.Any("error", err))
		Internal(c, "failed to delete resume file")
		return
	}

	if err := h.db.WithContext(ctx).Delete(&database.ResumeDocument{}, doc.ID).Error; err != nil {
		log.Error("delete resume document failed", slog.Any("error", err))
		Internal(c, "failed to delete resume")
		return
	}

	c.Status(http.StatusNoContent)
}

// GetDownloadLink 生成归档简历的预签名下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	doc, err := h.getDocumentForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		switch {
		case errors.Is(err, errInvalidDocumentID):
			BadRequest(c, "invalid document id")
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "resume not found")
		default:
			Internal(c, "failed to query resume")
		}
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(c.Request.Context(), doc.ObjectKey, 5*time.Minute)
	if err != nil {
		middleware.LoggerFromContext(c).Error("generate download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

func (h *ResumeHandler) getDocumentForUser(ctx context.Context, idParam string, userID uint) (*database.ResumeDocument, error) {
	documentID, err := strconv.ParseUint(idParam, 10, 64)
	if err != nil {
		return nil, errInvalidDocumentID
	}

	var doc database.ResumeDocument
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(documentID), userID).
		First(&doc).Error; err != nil {
		return nil, err
	}

	return &doc, nil
}

// 确保 HTTP 实现满足编排器与简历库的依赖。
var (
	_ rankEngine          = (*engine.Client)(nil)
	_ storedResumeDeleter = (*engine.Client)(nil)
)
