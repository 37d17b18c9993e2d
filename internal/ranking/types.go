package ranking

// Breakdown 记录四个子分数与总分，均在 [0,1] 区间。
// 数值由打分引擎产出，本服务不做二次计算。
type Breakdown struct {
	Semantic   float64 `json:"semantic"`
	Skill      float64 `json:"skill"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
	Total      float64 `json:"total"`
}

// Item 是会话中一份简历的归一化打分结果。
// ResumeID 仅在 stored 排名路径有值，指向向量库中的持久标识。
type Item struct {
	Rank             int       `json:"rank"`
	Filename         string    `json:"filename"`
	CandidateName    string    `json:"candidate_name,omitempty"`
	ResumeID         string    `json:"resume_id,omitempty"`
	TotalScore       float64   `json:"total_score"`
	FitCategory      string    `json:"fit_category"`
	FitDescription   string    `json:"fit_description"`
	Summary          string    `json:"summary"`
	ScoreBreakdown   Breakdown `json:"score_breakdown"`
	MatchedSkills    []string  `json:"matched_skills"`
	MissingSkills    []string  `json:"missing_skills"`
	SkillMatchPct    float64   `json:"skill_match_pct"`
	ExperienceStatus string    `json:"experience_status"`
	ExperienceGap    float64   `json:"experience_gap"`
	Education        []string  `json:"education"`
	Recommendations  []string  `json:"recommendations"`
}

// Summary 是列表视图使用的窄投影，刻意不携带技能与分数明细。
type Summary struct {
	Rank        int     `json:"rank"`
	Filename    string  `json:"filename"`
	TotalScore  float64 `json:"total_score"`
	FitCategory string  `json:"fit_category"`
}

// Summarize 将完整条目裁剪为列表投影。
func Summarize(items []Item) []Summary {
	summaries := make([]Summary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, Summary{
			Rank:        item.Rank,
			Filename:    item.Filename,
			TotalScore:  item.TotalScore,
			FitCategory: item.FitCategory,
		})
	}
	return summaries
}
