package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resumerank/internal/api/middleware"
	"resumerank/internal/config"
	"resumerank/internal/database"
	"resumerank/internal/engine"
	"resumerank/internal/metrics"
	"resumerank/internal/ranking"
)

const (
	defaultStoredTopK     = 20
	defaultSessionLimit   = 50
	maxSessionLimit       = 100
	jobDescriptionPreview = 200
)

// rankEngine 是排名编排器对打分引擎的最小依赖，测试中可替换。
type rankEngine interface {
	RankUploaded(ctx context.Context, jd string, docs []engine.Document, weights json.RawMessage) (*engine.RankEnvelope, error)
	RankStored(ctx context.Context, jd string, topK int) (*engine.RankEnvelope, error)
}

// RankHandler 负责排名会话的编排：校验 → 打分 → 归一化 → 持久化 → 响应。
type RankHandler struct {
	store     *sessionStore
	engine    rankEngine
	upload    config.UploadConfig
	clamdAddr string
}

// NewRankHandler 构造 RankHandler。
func NewRankHandler(db *gorm.DB, rankEngine rankEngine, upload config.UploadConfig, clamdAddr string) *RankHandler {
	return &RankHandler{
		store:     newSessionStore(db),
		engine:    rankEngine,
		upload:    upload,
		clamdAddr: clamdAddr,
	}
}

type rankResponse struct {
	SessionID uint           `json:"session_id"`
	Count     int            `json:"count"`
	Rankings  []ranking.Item `json:"rankings"`
}

// SubmitUpload 处理上传排名请求。
// 临时目录在所有退出路径上都会被清理，包括客户端中途断开。
func (h *RankHandler) SubmitUpload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	jd := strings.TrimSpace(c.PostForm("jd"))
	if jd == "" {
		BadRequest(c, "job description is required")
		return
	}

	weights, err := ranking.ParseWeights(c.PostForm("weights"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "invalid multipart form")
		return
	}

	files := form.File["resumes"]
	if len(files) == 0 {
		BadRequest(c, "no resumes uploaded, use field name 'resumes' (repeat it for multiple files)")
		return
	}
	if len(files) > h.upload.MaxFiles {
		BadRequest(c, fmt.Sprintf("at most %d resumes per request", h.upload.MaxFiles))
		return
	}

	for _, file := range files {
		if file.Size > h.upload.MaxFileBytes() {
			BadRequest(c, fmt.Sprintf("file %q exceeds the %d MB limit", file.Filename, h.upload.MaxFileMB))
			return
		}
		if !isPDFUpload(file) {
			BadRequest(c, fmt.Sprintf("file %q is not a PDF", file.Filename))
			return
		}
	}

	tmpDir, err := os.MkdirTemp(h.upload.TmpDir, "rank-")
	if err != nil {
		log.Error("create temp dir failed", slog.Any("error", err))
		Internal(c, "failed to stage uploads")
		return
	}
	defer func() {
		// 清理失败只记日志，不影响响应正确性。
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn("cleanup temp dir failed", slog.String("dir", tmpDir), slog.Any("error", err))
		}
	}()

	paths := make([]string, 0, len(files))
	for i, file := range files {
		dst := filepath.Join(tmpDir, fmt.Sprintf("%02d_%s", i, filepath.Base(file.Filename)))
		if err := c.SaveUploadedFile(file, dst); err != nil {
			log.Error("save upload failed", slog.String("filename", file.Filename), slog.Any("error", err))
			Internal(c, "failed to stage uploads")
			return
		}
		paths = append(paths, dst)
	}

	if h.clamdAddr != "" {
		for i, path := range paths {
			infected, err := scanFile(h.clamdAddr, path)
			if err != nil {
				log.Error("scan file failed", slog.Any("error", err))
				Internal(c, "failed to scan file")
				return
			}
			if infected {
				BadRequest(c, fmt.Sprintf("malicious file detected: %q", files[i].Filename))
				return
			}
		}
	}

	docs := make([]engine.Document, 0, len(files))
	readers := make([]*os.File, 0, len(files))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	for i, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			log.Error("open staged file failed", slog.Any("error", err))
			Internal(c, "failed to stage uploads")
			return
		}
		readers = append(readers, f)
		docs = append(docs, engine.Document{Filename: filepath.Base(files[i].Filename), Content: f})
	}

	rawWeights, err := json.Marshal(weights)
	if err != nil {
		Internal(c, "failed to encode weights")
		return
	}

	start := time.Now()
	envelope, err := h.engine.RankUploaded(c.Request.Context(), jd, docs, rawWeights)
	metrics.ObserveEngineCall("rank", start, err)
	if err != nil {
		respondEngineError(c, log, err)
		return
	}

	h.persistAndRespond(c, log, userID, jd, weights, envelope)
}

// SubmitStored 对向量库中已索引的简历发起排名，不传输任何文件。
func (h *RankHandler) SubmitStored(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	log := middleware.LoggerFromContext(c)

	jd := strings.TrimSpace(c.PostForm("jd"))
	if jd == "" {
		BadRequest(c, "job description is required")
		return
	}

	topK := defaultStoredTopK
	if raw := strings.TrimSpace(c.PostForm("top_k")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			BadRequest(c, "top_k must be a positive integer")
			return
		}
		topK = parsed
	}

	start := time.Now()
	envelope, err := h.engine.RankStored(c.Request.Context(), jd, topK)
	metrics.ObserveEngineCall("rank_stored", start, err)
	if err != nil {
		respondEngineError(c, log, err)
		return
	}

	h.persistAndRespond(c, log, userID, jd, ranking.DefaultWeights(), envelope)
}

// persistAndRespond 归一化引擎信封并固化为会话记录。
// 引擎调用失败不会走到这里：失败的打分调用绝不产生会话。
func (h *RankHandler) persistAndRespond(c *gin.Context, log *slog.Logger, userID uint, jd string, weights ranking.Weights, envelope *engine.RankEnvelope) {
	items := ranking.NormalizeAll(envelope.Rankings)

	rawWeights, err := json.Marshal(weights)
	if err != nil {
		Internal(c, "failed to encode weights")
		return
	}
	rawItems, err := json.Marshal(items)
	if err != nil {
		Internal(c, "failed to encode rankings")
		return
	}

	session := database.RankSession{
		UserID:         userID,
		JobDescription: jd,
		Weights:        datatypes.JSON(rawWeights),
		Items:          datatypes.JSON(rawItems),
		Count:          len(items),
	}

	if err := h.store.Create(c.Request.Context(), &session); err != nil {
		log.Error("create rank session failed", slog.Any("error", err))
		Internal(c, "failed to save ranking session")
		return
	}

	log.Info("rank session created",
		slog.Uint64("session_id", uint64(session.ID)),
		slog.Int("count", session.Count),
	)

	c.JSON(http.StatusCreated, rankResponse{
		SessionID: session.ID,
		Count:     len(items),
		Rankings:  items,
	})
}

// respondEngineError 将引擎故障映射为对外的错误分类。
func respondEngineError(c *gin.Context, log *slog.Logger, err error) {
	var statusErr *engine.StatusError
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		log.Error("scoring engine unreachable", slog.Any("error", err))
		BadGateway(c, "scoring engine unavailable")
	case errors.As(err, &statusErr):
		log.Error("scoring engine rejected request",
			slog.Int("engine_status", statusErr.StatusCode),
			slog.String("engine_body", statusErr.Body),
		)
		BadGateway(c, fmt.Sprintf("scoring engine error (status %d)", statusErr.StatusCode))
	case errors.Is(err, engine.ErrDecode):
		log.Error("scoring engine response malformed", slog.Any("error", err))
		BadGateway(c, "invalid scoring engine response")
	default:
		log.Error("scoring engine call failed", slog.Any("error", err))
		Internal(c, "failed to score resumes")
	}
}

func isPDFUpload(file *multipart.FileHeader) bool {
	contentType := file.Header.Get("Content-Type")
	if strings.EqualFold(contentType, "application/pdf") {
		return true
	}
	// 部分客户端不带 Content-Type，用扩展名兜底。
	return contentType == "" && strings.EqualFold(filepath.Ext(file.Filename), ".pdf")
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}
