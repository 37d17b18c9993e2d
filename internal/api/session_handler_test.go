package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resumerank/internal/database"
	"resumerank/internal/ranking"
)

func seedSession(t *testing.T, db *gorm.DB, userID uint, jd string, items []ranking.Item) database.RankSession {
	t.Helper()
	rawItems, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("marshal items: %v", err)
	}
	rawWeights, err := json.Marshal(ranking.DefaultWeights())
	if err != nil {
		t.Fatalf("marshal weights: %v", err)
	}
	session := database.RankSession{
		UserID:         userID,
		JobDescription: jd,
		Weights:        datatypes.JSON(rawWeights),
		Items:          datatypes.JSON(rawItems),
		Count:          len(items),
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

func sampleItems() []ranking.Item {
	return []ranking.Item{
		{Rank: 1, Filename: "alice.pdf", TotalScore: 0.87, FitCategory: "strong", MatchedSkills: []string{"go"}},
		{Rank: 2, Filename: "bob.pdf", TotalScore: 0.61, FitCategory: "moderate"},
	}
}

func newListContext(t *testing.T, userID uint, query string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/rank/sessions"+query, nil)
	return newRankContext(t, userID, req)
}

func newGetContext(t *testing.T, userID uint, sessionID string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/rank/sessions/"+sessionID, nil)
	c, w := newRankContext(t, userID, req)
	c.Params = gin.Params{{Key: "id", Value: sessionID}}
	return c, w
}

func TestListSessions_OwnerScoped(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	seedSession(t, db, 1, "Senior Go engineer", sampleItems())
	seedSession(t, db, 2, "Frontend engineer", sampleItems())

	c, w := newListContext(t, 1, "")
	h.ListSessions(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Sessions []sessionListItem `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(resp.Sessions))
	}
	item := resp.Sessions[0]
	if item.JobDescriptionPreview != "Senior Go engineer" || item.Count != 2 {
		t.Fatalf("item = %+v", item)
	}
	if len(item.Rankings) != 2 || item.Rankings[0].Filename != "alice.pdf" {
		t.Fatalf("rankings = %+v", item.Rankings)
	}
	// 列表投影不带技能与分数明细。
	if strings.Contains(w.Body.String(), "matched_skills") {
		t.Fatal("list view must not carry skill details")
	}
}

func TestListSessions_TruncatesPreview(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	longJD := strings.Repeat("x", jobDescriptionPreview+50)
	seedSession(t, db, 1, longJD, nil)

	c, w := newListContext(t, 1, "")
	h.ListSessions(c)

	var resp struct {
		Sessions []sessionListItem `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	preview := resp.Sessions[0].JobDescriptionPreview
	if got := len([]rune(preview)); got != jobDescriptionPreview+1 {
		t.Fatalf("preview length = %d runes", got)
	}
	if !strings.HasSuffix(preview, "…") {
		t.Fatalf("preview should end with ellipsis: %q", preview)
	}
}

func TestListSessions_CapsLimit(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	for i := 0; i < maxSessionLimit+5; i++ {
		seedSession(t, db, 1, "jd "+strconv.Itoa(i), nil)
	}

	c, w := newListContext(t, 1, "?limit=100000")
	h.ListSessions(c)

	var resp struct {
		Sessions []sessionListItem `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != maxSessionLimit {
		t.Fatalf("sessions = %d, want %d", len(resp.Sessions), maxSessionLimit)
	}
}

func TestGetSession_FullPayload(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	seeded := seedSession(t, db, 1, "Senior Go engineer", sampleItems())

	c, w := newGetContext(t, 1, strconv.FormatUint(uint64(seeded.ID), 10))
	h.GetSession(c)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != seeded.ID || resp.JobDescription != "Senior Go engineer" || resp.Count != 2 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Weights != ranking.DefaultWeights() {
		t.Fatalf("weights = %+v", resp.Weights)
	}
	if len(resp.Rankings) != 2 || resp.Rankings[0].MatchedSkills[0] != "go" {
		t.Fatalf("rankings = %+v", resp.Rankings)
	}
}

func TestGetSession_CrossOwnerLooksMissing(t *testing.T) {
	db := newTestDB(t)
	h := NewRankHandler(db, &stubEngine{}, testUploadConfig(t), "")

	seeded := seedSession(t, db, 1, "jd", sampleItems())

	c, w := newGetContext(t, 2, strconv.FormatUint(uint64(seeded.ID), 10))
	h.GetSession(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetSession_InvalidID(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	c, w := newGetContext(t, 1, "not-a-number")
	h.GetSession(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetSession_UnknownID(t *testing.T) {
	h := NewRankHandler(newTestDB(t), &stubEngine{}, testUploadConfig(t), "")

	c, w := newGetContext(t, 1, "424242")
	h.GetSession(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
