package server

import (
	"monsterline/internal/domain"
	"monsterline/internal/engine"
	"monsterline/internal/state"
)

type MonsterResponse struct {
	ID                   string          `json:"id"`
	State                string          `json:"state"`
	Name                 string          `json:"name"`
	Doc                  domain.Document `json:"doc,omitempty"`
	Card                 *domain.Card    `json:"card,omitempty"`
	GeneratedBy          string          `json:"generated_by,omitempty"`
	GenerationPrompt     string          `json:"generation_prompt,omitempty"`
	IsValid              bool            `json:"is_valid"`
	ValidationIssues     []domain.Issue  `json:"validation_issues,omitempty"`
	ReviewedBy           *string         `json:"reviewed_by,omitempty"`
	ReviewDate           *string         `json:"review_date,omitempty"`
	ReviewNotes          *string         `json:"review_notes,omitempty"`
	TransmittedAt        *string         `json:"transmitted_at,omitempty"`
	TransmissionAttempts int             `json:"transmission_attempts"`
	LastTransmissionErr  *string         `json:"last_transmission_error,omitempty"`
	ExternalID           *string         `json:"external_id,omitempty"`
	NextStates           []string        `json:"next_states"`
	CreatedAt            string          `json:"created_at"`
	UpdatedAt            string          `json:"updated_at"`
}

func monsterResponse(m *domain.Monster) MonsterResponse {
	next := make([]string, 0)
	for _, s := range state.NextStates(m.State) {
		next = append(next, string(s))
	}
	return MonsterResponse{
		ID:                   m.ID,
		State:                string(m.State),
		Name:                 m.DisplayName(),
		Doc:                  m.Doc,
		Card:                 m.Card,
		GeneratedBy:          m.GeneratedBy,
		GenerationPrompt:     m.GenerationPrompt,
		IsValid:              m.IsValid,
		ValidationIssues:     m.ValidationIssues,
		ReviewedBy:           m.ReviewedBy,
		ReviewDate:           m.ReviewDate,
		ReviewNotes:          m.ReviewNotes,
		TransmittedAt:        m.TransmittedAt,
		TransmissionAttempts: m.TransmissionAttempts,
		LastTransmissionErr:  m.LastTransmissionErr,
		ExternalID:           m.ExternalID,
		NextStates:           next,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func mapMonsters(items []domain.Monster) []MonsterResponse {
	res := make([]MonsterResponse, 0, len(items))
	for i := range items {
		res = append(res, monsterResponse(&items[i]))
	}
	return res
}

type TransitionResponse struct {
	ID        int64   `json:"id"`
	MonsterID string  `json:"monster_id"`
	FromState *string `json:"from_state,omitempty"`
	ToState   string  `json:"to_state"`
	Timestamp string  `json:"timestamp"`
	Actor     string  `json:"actor"`
	Note      *string `json:"note,omitempty"`
}

func transitionResponse(t domain.Transition) TransitionResponse {
	resp := TransitionResponse{
		ID:        t.ID,
		MonsterID: t.MonsterID,
		ToState:   string(t.ToState),
		Timestamp: t.Timestamp,
		Actor:     t.Actor,
		Note:      t.Note,
	}
	if t.FromState != nil {
		from := string(*t.FromState)
		resp.FromState = &from
	}
	return resp
}

func mapTransitions(items []domain.Transition) []TransitionResponse {
	res := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		res = append(res, transitionResponse(t))
	}
	return res
}

type IngestRequest struct {
	Doc              domain.Document `json:"doc"`
	GeneratedBy      string          `json:"generated_by,omitempty"`
	GenerationPrompt string          `json:"generation_prompt,omitempty"`
}

type ReviewRequest struct {
	Decision string          `json:"decision" enum:"approved,rejected"`
	Reviewer string          `json:"reviewer"`
	Notes    string          `json:"notes,omitempty"`
	Doc      domain.Document `json:"corrected_document,omitempty"`
}

type CorrectRequest struct {
	Doc   domain.Document `json:"doc"`
	Actor string          `json:"actor,omitempty"`
}

type SkillRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Damage      float64 `json:"damage"`
	Cooldown    int     `json:"cooldown"`
	LvlMax      int     `json:"lvlMax"`
	Rank        string  `json:"rank" enum:"COMMON,RARE,EPIC,LEGENDARY"`
	Ratio       struct {
		Stat    string  `json:"stat" enum:"HP,ATK,DEF,VIT"`
		Percent float64 `json:"percent"`
	} `json:"ratio"`
}

func (r SkillRequest) toInput() engine.SkillInput {
	return engine.SkillInput{
		Name:         r.Name,
		Description:  r.Description,
		Damage:       r.Damage,
		Cooldown:     r.Cooldown,
		LvlMax:       r.LvlMax,
		Rank:         r.Rank,
		RatioStat:    r.Ratio.Stat,
		RatioPercent: r.Ratio.Percent,
	}
}

type UpdateCardRequest struct {
	Name              *string `json:"name,omitempty"`
	CardDescription   *string `json:"card_description,omitempty"`
	VisualDescription *string `json:"visual_description,omitempty"`
	ImageURL          *string `json:"image_url,omitempty"`
}

type StatsResponse struct {
	Total            int                  `json:"total"`
	ByState          map[string]int       `json:"by_state"`
	TransmissionRate float64              `json:"transmission_rate"`
	AvgReviewHours   float64              `json:"avg_review_hours"`
	RecentActivity   []TransitionResponse `json:"recent_activity"`
}

func statsResponse(s engine.DashboardStats) StatsResponse {
	byState := make(map[string]int, len(s.ByState))
	for k, v := range s.ByState {
		byState[string(k)] = v
	}
	return StatsResponse{
		Total:            s.Total,
		ByState:          byState,
		TransmissionRate: s.TransmissionRate,
		AvgReviewHours:   s.AvgReviewHours,
		RecentActivity:   mapTransitions(s.RecentActivity),
	}
}
