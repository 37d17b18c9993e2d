package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"resumerank/internal/config"
	"resumerank/internal/database"
	"resumerank/internal/engine"
	"resumerank/internal/ranking"
)

type stubEngine struct {
	envelope *engine.RankEnvelope
	err      error

	gotJD      string
	gotWeights string
	gotFiles   []string
	gotTopK    int
}

func (s *stubEngine) RankUploaded(_ context.Context, jd string, docs []engine.Document, weights json.RawMessage) (*engine.RankEnvelope, error) {
	s.gotJD = jd
	s.gotWeights = string(weights)
	for _, doc := range docs {
		s.gotFiles = append(s.gotFiles, doc.Filename)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.envelope, nil
}

func (s *stubEngine) RankStored(_ context.Context, jd string, topK int) (*engine.RankEnvelope, error) {
	s.gotJD = jd
	s.gotTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.envelope, nil
}

func sampleEnvelope() *engine.RankEnvelope {
	return &engine.RankEnvelope{
		Count: 2,
		Rankings: []engine.RankedResume{
			{
				Resume:        "alice.pdf",
				CandidateName: "Alice Zhang",
				Rank:          1,
				TotalScore:    0.87,
				FitCategory:   "strong",
				MatchedSkills: []string{"go", "postgresql"},
				Parsed:        json.RawMessage(`{"name":"Alice Zhang"}`),
			},
			{
				Resume:      "bob.pdf",
				Rank:        2,
				TotalScore:  0.61,
				FitCategory: "moderate",
			},
		},
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.RankSession{}, &database.ResumeDocument{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testUploadConfig(t *testing.T) config.UploadConfig {
	t.Helper()
	return config.UploadConfig{
		MaxFiles:  20,
		MaxFileMB: 10,
		TmpDir:    t.TempDir(),
	}
}

func newRankContext(t *testing.T, userID uint, req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("userID", userID)
	return c, w
}

type rankForm struct {
	jd      string
	weights string
	files   []rankFile
}

type rankFile struct {
	name        string
	content     string
	contentType string
}

func pdfFile(name string) rankFile {
	return rankFile{name: name, content: "%PDF-1.4 test", contentType: "application/pdf"}
}

func newRankRequest(t *testing.T, form rankForm) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if form.jd != "" {
		if err := writer.WriteField("jd", form.jd); err != nil {
			t.Fatalf("write jd: %v", err)
		}
	}
	if form.weights != "" {
		if err := writer.WriteField("weights", form.weights); err != nil {
			t.Fatalf("write weights: %v", err)
		}
	}
	for _, file := range form.files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="resumes"; filename=%q`, file.name))
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write([]byte(file.content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/rank", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newStoredRequest(t *testing.T, jd, topK string) *http.Request {
	t.Helper()
	form := url.Values{}
	if jd != "" {
		form.Set("jd", jd)
	}
	if topK != "" {
		form.Set("top_k", topK)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/rank/stored", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func countSessions(t *testing.T, db *gorm.DB, userID uint) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&database.RankSession{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	return count
}

func TestSubmitUpload_RequiresJobDescription(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	c, w := newRankContext(t, 1, newRankRequest(t, rankForm{files: []rankFile{pdfFile("a.pdf")}}))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitUpload_RequiresFiles(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	c, w := newRankContext(t, 1, newRankRequest(t, rankForm{jd: "Senior Go engineer"}))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if n := countSessions(t, db, 1); n != 0 {
		t.Fatalf("sessions = %d, want 0", n)
	}
}

func TestSubmitUpload_RejectsTooManyFiles(t *testing.T) {
	upload := testUploadConfig(t)
	upload.MaxFiles = 2
	h := NewRankHandler(newTestDB(t), &stubEngine{}, upload, "")

	form := rankForm{jd: "jd", files: []rankFile{pdfFile("a.pdf"), pdfFile("b.pdf"), pdfFile("c.pdf")}}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitUpload_AcceptsMaxFilesExactly(t *testing.T) {
	upload := testUploadConfig(t)
	upload.MaxFiles = 3
	stub := &stubEngine{envelope: sampleEnvelope()}
	h := NewRankHandler(newTestDB(t), stub, upload, "")

	form := rankForm{jd: "jd", files: []rankFile{pdfFile("a.pdf"), pdfFile("b.pdf"), pdfFile("c.pdf")}}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	if len(stub.gotFiles) != 3 {
		t.Fatalf("engine saw %d files, want 3", len(stub.gotFiles))
	}
}

func TestSubmitUpload_RejectsNonPDF(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	form := rankForm{jd: "jd", files: []rankFile{
		{name: "a.docx", content: "word", contentType: "application/msword"},
	}}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitUpload_RejectsInvalidWeights(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	form := rankForm{
		jd:      "jd",
		weights: `{"semantic":0.9,"skill":0.9,"experience":0.9,"education":0.9}`,
		files:   []rankFile{pdfFile("a.pdf")},
	}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSubmitUpload_RanksAndPersists(t *testing.T) {
	db := newTestDB(t)
	upload := testUploadConfig(t)
	stub := &stubEngine{envelope: sampleEnvelope()}
	h := NewRankHandler(db, stub, upload, "")

	form := rankForm{
		jd:      "Senior Go engineer",
		weights: `{"semantic":0.4,"skill":0.3,"experience":0.2,"education":0.1}`,
		files:   []rankFile{pdfFile("alice.pdf"), pdfFile("bob.pdf")},
	}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	if stub.gotJD != "Senior Go engineer" {
		t.Fatalf("engine jd = %q", stub.gotJD)
	}
	if len(stub.gotFiles) != 2 || stub.gotFiles[0] != "alice.pdf" || stub.gotFiles[1] != "bob.pdf" {
		t.Fatalf("engine files = %v", stub.gotFiles)
	}
	var forwarded ranking.Weights
	if err := json.Unmarshal([]byte(stub.gotWeights), &forwarded); err != nil {
		t.Fatalf("decode forwarded weights: %v", err)
	}
	if forwarded.Semantic != 0.4 || forwarded.Education != 0.1 {
		t.Fatalf("forwarded weights = %+v", forwarded)
	}

	var resp rankResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == 0 || resp.Count != 2 || len(resp.Rankings) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Rankings[0].Filename != "alice.pdf" || resp.Rankings[0].Rank != 1 {
		t.Fatalf("first ranking = %+v", resp.Rankings[0])
	}
	// 解析产物不落库也不回传。
	if bytes.Contains(w.Body.Bytes(), []byte(`"parsed"`)) {
		t.Fatal("parsed payload leaked into response")
	}

	var session database.RankSession
	if err := db.First(&session, resp.SessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if session.UserID != 1 || session.Count != 2 || session.JobDescription != "Senior Go engineer" {
		t.Fatalf("session = %+v", session)
	}
	var items []ranking.Item
	if err := json.Unmarshal(session.Items, &items); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(items) != 2 || items[1].Filename != "bob.pdf" {
		t.Fatalf("items = %+v", items)
	}

	entries, err := os.ReadDir(upload.TmpDir)
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp dir not cleaned, %d entries left", len(entries))
	}
}

func TestSubmitUpload_SingleResume(t *testing.T) {
	db := newTestDB(t)
	stub := &stubEngine{envelope: &engine.RankEnvelope{
		Count: 1,
		Rankings: []engine.RankedResume{
			{Resume: "alice.pdf", Rank: 1, TotalScore: 0.91, FitCategory: "strong"},
		},
	}}
	h := NewRankHandler(db, stub, testUploadConfig(t), "")

	form := rankForm{
		jd:    "Senior backend engineer, 5+ years Go, Kubernetes",
		files: []rankFile{pdfFile("alice.pdf")},
	}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp rankResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || resp.Rankings[0].Rank != 1 || resp.Rankings[0].Filename != "alice.pdf" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestSubmitUpload_WeightsRoundTripThroughGetSession(t *testing.T) {
	db := newTestDB(t)
	stub := &stubEngine{envelope: sampleEnvelope()}
	h := NewRankHandler(db, stub, testUploadConfig(t), "")

	form := rankForm{
		jd:      "jd",
		weights: `{"semantic":0.6,"skill":0.2,"experience":0.1,"education":0.1}`,
		files:   []rankFile{pdfFile("a.pdf")},
	}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created rankResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/rank/sessions/%d", created.SessionID), nil)
	getCtx, getW := newRankContext(t, 1, req)
	getCtx.Params = gin.Params{{Key: "id", Value: fmt.Sprintf("%d", created.SessionID)}}
	h.GetSession(getCtx)

	if getW.Code != http.StatusOK {
		t.Fatalf("get status = %d, body %s", getW.Code, getW.Body.String())
	}
	var got sessionResponse
	if err := json.Unmarshal(getW.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	want := ranking.Weights{Semantic: 0.6, Skill: 0.2, Experience: 0.1, Education: 0.1}
	if got.Weights != want {
		t.Fatalf("weights = %+v, want %+v", got.Weights, want)
	}
}

func TestSubmitUpload_EngineDownLeavesNoSession(t *testing.T) {
	db := newTestDB(t)
	upload := testUploadConfig(t)
	stub := &stubEngine{err: fmt.Errorf("%w: connection refused", engine.ErrUnavailable)}
	h := NewRankHandler(db, stub, upload, "")

	form := rankForm{jd: "jd", files: []rankFile{pdfFile("a.pdf")}}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if n := countSessions(t, db, 1); n != 0 {
		t.Fatalf("failed scoring must not create a session, got %d", n)
	}

	entries, err := os.ReadDir(upload.TmpDir)
	if err != nil {
		t.Fatalf("read tmp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("temp dir not cleaned on failure, %d entries left", len(entries))
	}
}

func TestSubmitUpload_EngineRejectionMapsToBadGateway(t *testing.T) {
	db := newTestDB(t)
	stub := &stubEngine{err: &engine.StatusError{StatusCode: 500, Body: "model not loaded"}}
	h := NewRankHandler(db, stub, testUploadConfig(t), "")

	form := rankForm{jd: "jd", files: []rankFile{pdfFile("a.pdf")}}
	c, w := newRankContext(t, 1, newRankRequest(t, form))
	h.SubmitUpload(c)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if n := countSessions(t, db, 1); n != 0 {
		t.Fatalf("sessions = %d, want 0", n)
	}
}

func TestSubmitStored_DefaultsTopK(t *testing.T) {
	db := newTestDB(t)
	stub := &stubEngine{envelope: sampleEnvelope()}
	h := NewRankHandler(db, stub, testUploadConfig(t), "")

	c, w := newRankContext(t, 1, newStoredRequest(t, "Data engineer", ""))
	h.SubmitStored(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if stub.gotTopK != defaultStoredTopK {
		t.Fatalf("top_k = %d, want %d", stub.gotTopK, defaultStoredTopK)
	}

	var resp rankResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var session database.RankSession
	if err := db.First(&session, resp.SessionID).Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	var weights ranking.Weights
	if err := json.Unmarshal(session.Weights, &weights); err != nil {
		t.Fatalf("decode weights: %v", err)
	}
	if weights != ranking.DefaultWeights() {
		t.Fatalf("stored path must record default weights, got %+v", weights)
	}
}

func TestSubmitStored_RejectsBadTopK(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	for _, topK := range []string{"0", "-3", "abc"} {
		c, w := newRankContext(t, 1, newStoredRequest(t, "jd", topK))
		h.SubmitStored(c)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("top_k=%q: status = %d, want 400", topK, w.Code)
		}
	}
}

func TestSubmitStored_PersistsEmptyEnvelope(t *testing.T) {
	db := newTestDB(t)
	stub := &stubEngine{envelope: &engine.RankEnvelope{Count: 0, Rankings: nil, Message: "no stored resumes"}}
	h := NewRankHandler(db, stub, testUploadConfig(t), "")

	c, w := newRankContext(t, 1, newStoredRequest(t, "jd", "5"))
	h.SubmitStored(c)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	// 空结果也是一次有效的查询，留痕。
	if n := countSessions(t, db, 1); n != 1 {
		t.Fatalf("sessions = %d, want 1", n)
	}
}
