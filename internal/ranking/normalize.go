package ranking

import (
	"resumerank/internal/engine"
)

// Normalize 将引擎排名记录映射为持久化条目。
// 丢弃引擎请求内部的解析产物（Parsed），其余字段原样拷贝；
// ResumeID 作为持久标识保留（仅 stored 路径有值）。
func Normalize(rec engine.RankedResume) Item {
	return Item{
		Rank:             rec.Rank,
		Filename:         rec.Resume,
		CandidateName:    rec.CandidateName,
		ResumeID:         rec.ResumeID,
		TotalScore:       rec.TotalScore,
		FitCategory:      rec.FitCategory,
		FitDescription:   rec.FitDescription,
		Summary:          rec.Summary,
		ScoreBreakdown: Breakdown{
			Semantic:   rec.ScoreBreakdown.Semantic,
			Skill:      rec.ScoreBreakdown.Skill,
			Experience: rec.ScoreBreakdown.Experience,
			Education:  rec.ScoreBreakdown.Education,
			Total:      rec.ScoreBreakdown.Total,
		},
		MatchedSkills:    rec.MatchedSkills,
		MissingSkills:    rec.MissingSkills,
		SkillMatchPct:    rec.SkillMatchPct,
		ExperienceStatus: rec.ExperienceStatus,
		ExperienceGap:    rec.ExperienceGap,
		Education:        rec.Education,
		Recommendations:  rec.Recommendations,
	}
}

// NormalizeAll 按引擎给定顺序归一化整个信封。
func NormalizeAll(records []engine.RankedResume) []Item {
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		items = append(items, Normalize(rec))
	}
	return items
}
