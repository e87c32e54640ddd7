package engine

import (
	"context"
	"time"

	"monsterline/internal/domain"
)

// DashboardStats summarizes the pipeline for the admin dashboard.
type DashboardStats struct {
	Total            int                  `json:"total"`
	ByState          map[domain.State]int `json:"by_state"`
	TransmissionRate float64              `json:"transmission_rate"`
	AvgReviewHours   float64              `json:"avg_review_hours"`
	RecentActivity   []domain.Transition  `json:"recent_activity"`
}

// Stats computes dashboard figures: a count per state (every state present,
// zero-filled), the transmitted share of all monsters as a fraction, the
// average time from creation to review decision and the latest transitions.
func (e Engine) Stats(ctx context.Context) (DashboardStats, error) {
	counts, err := e.Repo.CountByState(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	stats := DashboardStats{ByState: counts}
	for _, n := range counts {
		stats.Total += n
	}
	if stats.Total > 0 {
		stats.TransmissionRate = float64(counts[domain.StateTransmitted]) / float64(stats.Total)
	}

	stats.AvgReviewHours, err = e.avgReviewHours(ctx)
	if err != nil {
		return DashboardStats{}, err
	}
	stats.RecentActivity, err = e.Repo.LatestTransitions(ctx, 10)
	if err != nil {
		return DashboardStats{}, err
	}
	return stats, nil
}

func (e Engine) avgReviewHours(ctx context.Context) (float64, error) {
	rows, err := e.DB.QueryContext(ctx, `SELECT created_at, review_date FROM monsters WHERE review_date IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var (
		total time.Duration
		n     int
	)
	for rows.Next() {
		var createdAt, reviewDate string
		if err := rows.Scan(&createdAt, &reviewDate); err != nil {
			return 0, err
		}
		created, err1 := time.Parse(time.RFC3339, createdAt)
		reviewed, err2 := time.Parse(time.RFC3339, reviewDate)
		if err1 != nil || err2 != nil || reviewed.Before(created) {
			continue
		}
		total += reviewed.Sub(created)
		n++
	}
	if n == 0 {
		return 0, rows.Err()
	}
	return total.Hours() / float64(n), rows.Err()
}
