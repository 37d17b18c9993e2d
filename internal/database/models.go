package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username     string           `gorm:"uniqueIndex;size:64"`
	PasswordHash string           `gorm:"size:255"`
	Sessions     []RankSession    `gorm:"constraint:OnDelete:CASCADE"`
	Documents    []ResumeDocument `gorm:"constraint:OnDelete:CASCADE"`
}

// RankSession 表示一次完整的简历排名结果。
// 创建后不可变：Items 按 rank 升序保存归一化后的条目。
type RankSession struct {
	gorm.Model
	UserID         uint           `gorm:"index"`
	User           User           `gorm:"constraint:OnDelete:CASCADE"`
	JobDescription string         `gorm:"type:text"`
	Weights        datatypes.JSON `gorm:"type:jsonb"`
	Items          datatypes.JSON `gorm:"type:jsonb"` // JSONB 存储 ranking.Item 数组
	Count          int
}

// ResumeDocument 表示用户存档的一份简历文件。
// EngineID 是打分引擎向量库中的持久标识，stored 排名路径据此回查。
type ResumeDocument struct {
	gorm.Model
	UserID        uint   `gorm:"index"`
	User          User   `gorm:"constraint:OnDelete:CASCADE"`
	Filename      string `gorm:"size:255"`
	ObjectKey     string `gorm:"size:512"`
	EngineID      string `gorm:"uniqueIndex;size:64"`
	Status        string `gorm:"size:32"`
	CandidateName string `gorm:"size:255"`
	SkillCount    int
	ExperienceYrs float64
}

// ResumeDocument 状态流转：pending → indexed / failed。
const (
	DocumentStatusPending = "pending"
	DocumentStatusIndexed = "indexed"
	DocumentStatusFailed  = "failed"
)
