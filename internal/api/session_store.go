package api

import (
	"context"

	"gorm.io/gorm"

	"resumerank/internal/database"
)

// sessionStore 封装排名会话的持久化操作。
// 所有查询都把 user_id 放进 WHERE 条件：别人的会话与不存在的会话不可区分。
type sessionStore struct {
	db *gorm.DB
}

func newSessionStore(db *gorm.DB) *sessionStore {
	return &sessionStore{db: db}
}

// Create 原子写入一条会话记录。
func (s *sessionStore) Create(ctx context.Context, session *database.RankSession) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// ListForUser 按创建时间倒序返回用户的会话。
func (s *sessionStore) ListForUser(ctx context.Context, userID uint, limit int) ([]database.RankSession, error) {
	var sessions []database.RankSession
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetForUser 按 ID 返回用户自己的会话，查不到返回 gorm.ErrRecordNotFound。
func (s *sessionStore) GetForUser(ctx context.Context, userID, sessionID uint) (*database.RankSession, error) {
	var session database.RankSession
	if err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", sessionID, userID).
		First(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}
