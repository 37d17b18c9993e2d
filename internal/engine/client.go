package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 打分引擎端点路径。
const (
	rankPath       = "/rank"
	rankStoredPath = "/rank/stored"
	parsePath      = "/parse"
	storePath      = "/store"
	healthPath     = "/health"
)

var (
	// ErrUnavailable 表示网络层面无法到达引擎。
	ErrUnavailable = errors.New("scoring engine unreachable")
	// ErrDecode 表示引擎返回了无法解析的响应体。
	ErrDecode = errors.New("decode engine response")
)

// StatusError 表示引擎返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Body)
}

// Document 是上传排名路径转发给引擎的一份简历。
type Document struct {
	Filename string
	Content  io.Reader
}

// RankEnvelope 对应引擎 /rank 与 /rank/stored 的响应信封。
type RankEnvelope struct {
	Count    int            `json:"count"`
	Rankings []RankedResume `json:"rankings"`
	Message  string         `json:"message,omitempty"`
}

// ScoreBreakdown 是引擎返回的分数明细。
type ScoreBreakdown struct {
	Semantic   float64 `json:"semantic"`
	Skill      float64 `json:"skill"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
	Total      float64 `json:"total"`
}

// RankedResume 是引擎排名记录的线缆形状。
// Parsed 是引擎本次请求内部的解析产物，不进入持久化。
type RankedResume struct {
	Resume           string          `json:"resume"`
	ResumeID         string          `json:"resume_id,omitempty"`
	CandidateName    string          `json:"candidate_name,omitempty"`
	Rank             int             `json:"rank"`
	TotalScore       float64         `json:"total_score"`
	FitCategory      string          `json:"fit_category"`
	FitDescription   string          `json:"fit_description"`
	Summary          string          `json:"summary"`
	ScoreBreakdown   ScoreBreakdown  `json:"score_breakdown"`
	MatchedSkills    []string        `json:"matched_skills"`
	MissingSkills    []string        `json:"missing_skills"`
	SkillMatchPct    float64         `json:"skill_match_pct"`
	ExperienceStatus string          `json:"experience_status"`
	ExperienceGap    float64         `json:"experience_gap"`
	Education        []string        `json:"education"`
	Recommendations  []string        `json:"recommendations"`
	Parsed           json.RawMessage `json:"parsed,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// ParseResult 对应引擎 /parse 的响应。
type ParseResult struct {
	ResumeID        string   `json:"resume_id"`
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	Skills          []string `json:"skills"`
	ExperienceYears float64  `json:"experience_years"`
	Education       []string `json:"education"`
	EmbeddingStored bool     `json:"embedding_stored"`
}

// Client 通过 HTTP 调用外部打分引擎。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 构造引擎客户端，timeout 作用于单次调用。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// RankUploaded 将 JD 与简历文件打包为 multipart 发给引擎 /rank。
// weights 为空则沿用引擎默认权重。
func (c *Client) RankUploaded(ctx context.Context, jd string, docs []Document, weights json.RawMessage) (*RankEnvelope, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("jd", jd); err != nil {
		return nil, fmt.Errorf("write jd field: %w", err)
	}
	if len(weights) > 0 {
		if err := writer.WriteField("weights", string(weights)); err != nil {
			return nil, fmt.Errorf("write weights field: %w", err)
		}
	}
	for _, doc := range docs {
		part, err := writer.CreateFormFile("resumes", doc.Filename)
		if err != nil {
			return nil, fmt.Errorf("create file part %q: %w", doc.Filename, err)
		}
		if _, err := io.Copy(part, doc.Content); err != nil {
			return nil, fmt.Errorf("copy file %q: %w", doc.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rankPath, body)
	if err != nil {
		return nil, fmt.Errorf("build rank request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.doRank(req)
}

// RankStored 让引擎对向量库中已索引的简历做排名。
func (c *Client) RankStored(ctx context.Context, jd string, topK int) (*RankEnvelope, error) {
	form := url.Values{}
	form.Set("jd", jd)
	form.Set("top_k", strconv.Itoa(topK))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rankStoredPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build rank stored request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.doRank(req)
}

// Parse 上传单份简历供引擎解析并写入向量库。
func (c *Client) Parse(ctx context.Context, resumeID, filename string, content io.Reader) (*ParseResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("resume_id", resumeID); err != nil {
		return nil, fmt.Errorf("write resume_id field: %w", err)
	}
	part, err := writer.CreateFormFile("resume", filename)
	if err != nil {
		return nil, fmt.Errorf("create file part %q: %w", filename, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file %q: %w", filename, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+parsePath, body)
	if err != nil {
		return nil, fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var result ParseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &result, nil
}

// DeleteStored 从引擎向量库删除一份简历。
// 引擎侧删除是幂等的，对不存在的标识同样返回成功。
func (c *Client) DeleteStored(ctx context.Context, resumeID string) error {
	target := fmt.Sprintf("%s%s/%s", c.baseURL, storePath, url.PathEscape(resumeID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	_, err = c.do(req)
	return err
}

// Ping 调用引擎健康检查端点。
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	_, err = c.do(req)
	return err
}

func (c *Client) doRank(req *http.Request) (*RankEnvelope, error) {
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var envelope RankEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &envelope, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	return raw, nil
}
