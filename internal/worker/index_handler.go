package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"resumerank/internal/database"
	"resumerank/internal/engine"
	"resumerank/internal/errcode"
	"resumerank/internal/metrics"
	"resumerank/internal/storage"
	"resumerank/internal/tasks"
)

// resumeParser 是索引任务对打分引擎的最小依赖。
type resumeParser interface {
	Parse(ctx context.Context, resumeID, filename string, content io.Reader) (*engine.ParseResult, error)
}

// resumeArchive 是索引任务对对象存储的最小依赖。
type resumeArchive interface {
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// IndexTaskHandler 负责消费简历索引任务：
// 从对象存储取回 PDF，交给引擎解析并写入向量库，再回写文档状态。
type IndexTaskHandler struct {
	db          *gorm.DB
	storage     resumeArchive
	engine      resumeParser
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewIndexTaskHandler 创建任务处理器。
func NewIndexTaskHandler(
	db *gorm.DB,
	storageClient resumeArchive,
	engineClient resumeParser,
	redisClient *redis.Client,
	logger *slog.Logger,
) *IndexTaskHandler {
	return &IndexTaskHandler{
		db:          db,
		storage:     storageClient,
		engine:      engineClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *IndexTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.ResumeIndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("document_id", uint64(payload.DocumentID)),
	)
	log.Info("starting resume index task")

	var doc database.ResumeDocument
	if err := h.db.WithContext(ctx).First(&doc, payload.DocumentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume document not found, skipping task")
			return nil
		}
		log.Error("query resume document failed", slog.Any("error", err))
		return err
	}

	obj, err := h.storage.GetObject(ctx, doc.ObjectKey)
	if err != nil {
		log.Error("fetch archived resume failed", slog.Any("error", err))
		h.markFailed(ctx, &doc, payload.CorrelationID, errcode.ResourceMissing, "archived resume unavailable")
		return err
	}
	defer obj.Close()

	start := time.Now()
	result, err := h.engine.Parse(ctx, doc.EngineID, doc.Filename, obj)
	metrics.ObserveEngineCall("parse", start, err)
	if err != nil {
		var statusErr *engine.StatusError
		switch {
		case errors.As(err, &statusErr):
			// 引擎明确拒绝（例如 PDF 无法解析），重试没有意义。
			log.Warn("engine rejected resume",
				slog.Int("engine_status", statusErr.StatusCode),
				slog.String("engine_body", statusErr.Body),
			)
			h.markFailed(ctx, &doc, payload.CorrelationID, errcode.EngineRejected, "resume could not be parsed")
			return nil
		default:
			log.Error("engine parse failed", slog.Any("error", err))
			h.notify(ctx, &doc, payload.CorrelationID, "retrying", errcode.EngineUnreachable, "scoring engine unreachable")
			return err
		}
	}

	updates := map[string]any{
		"status":         database.DocumentStatusIndexed,
		"candidate_name": result.Name,
		"skill_count":    len(result.Skills),
		"experience_yrs": result.ExperienceYears,
	}
	if err := h.db.WithContext(ctx).Model(&doc).Updates(updates).Error; err != nil {
		log.Error("update resume document failed", slog.Any("error", err))
		return err
	}

	h.notify(ctx, &doc, payload.CorrelationID, database.DocumentStatusIndexed, errcode.OK, "")
	log.Info("resume indexed", slog.String("engine_id", doc.EngineID))
	return nil
}

// markFailed 将文档标记为失败并通知前端，失败状态不再重试。
func (h *IndexTaskHandler) markFailed(ctx context.Context, doc *database.ResumeDocument, correlationID string, code int, msg string) {
	if err := h.db.WithContext(ctx).Model(doc).Update("status", database.DocumentStatusFailed).Error; err != nil {
		h.logger.Error("mark resume document failed", slog.Any("error", err))
	}
	h.notify(ctx, doc, correlationID, database.DocumentStatusFailed, code, msg)
}

func (h *IndexTaskHandler) notify(ctx context.Context, doc *database.ResumeDocument, correlationID, status string, code int, msg string) {
	message := ResumeIndexNotifyMessage{
		Status:        status,
		DocumentID:    doc.ID,
		EngineID:      doc.EngineID,
		CorrelationID: correlationID,
		ErrorCode:     code,
		ErrorMessage:  msg,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal notify message failed", slog.Any("error", err))
		return
	}

	channel := fmt.Sprintf("user_notify:%d", doc.UserID)
	if err := h.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		h.logger.Error("publish notify message failed",
			slog.String("channel", channel),
			slog.Any("error", err),
		)
	}
}

// 确保生产实现满足任务处理器的依赖。
var (
	_ resumeParser  = (*engine.Client)(nil)
	_ resumeArchive = (*storage.Client)(nil)
)
