package engine

import (
	"context"
	"fmt"
	"time"

	"monsterline/internal/domain"
	"monsterline/internal/repo"
	"monsterline/internal/validate"
)

// SkillInput carries the editable fields of one skill.
type SkillInput struct {
	Name         string
	Description  string
	Damage       float64
	Cooldown     int
	LvlMax       int
	Rank         string
	RatioStat    string
	RatioPercent float64
}

func validateSkill(in SkillInput) []domain.Issue {
	var issues []domain.Issue
	if in.Name == "" {
		issues = append(issues, domain.Issue{
			Field: "name", Kind: validate.KindMissingField, Message: "name is required",
		})
	}
	if !contains(domain.Ranks(), in.Rank) {
		issues = append(issues, domain.Issue{
			Field: "rank", Kind: validate.KindEnumInvalid,
			Message: fmt.Sprintf("unknown rank %q", in.Rank),
		})
	}
	if !contains(domain.Stats(), in.RatioStat) {
		issues = append(issues, domain.Issue{
			Field: "ratio.stat", Kind: validate.KindEnumInvalid,
			Message: fmt.Sprintf("unknown stat %q", in.RatioStat),
		})
	}
	if in.Damage < validate.MinDamage || in.Damage > validate.MaxDamage {
		issues = append(issues, domain.Issue{
			Field: "damage", Kind: validate.KindOutOfRange,
			Message: fmt.Sprintf("damage must be between %d and %d", validate.MinDamage, validate.MaxDamage),
		})
	}
	if in.Cooldown < validate.MinCooldown || in.Cooldown > validate.MaxCooldown {
		issues = append(issues, domain.Issue{
			Field: "cooldown", Kind: validate.KindOutOfRange,
			Message: fmt.Sprintf("cooldown must be between %d and %d", validate.MinCooldown, validate.MaxCooldown),
		})
	}
	if in.LvlMax < 1 || in.LvlMax > validate.MaxLvl {
		issues = append(issues, domain.Issue{
			Field: "lvlMax", Kind: validate.KindOutOfRange,
			Message: fmt.Sprintf("lvlMax must be between 1 and %d", validate.MaxLvl),
		})
	}
	if in.RatioPercent < validate.MinPercent || in.RatioPercent > validate.MaxPercent {
		issues = append(issues, domain.Issue{
			Field: "ratio.percent", Kind: validate.KindOutOfRange,
			Message: fmt.Sprintf("ratio percent must be between %g and %g", validate.MinPercent, validate.MaxPercent),
		})
	}
	return issues
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// editableCard fetches the monster and checks that its card may be edited.
func (e Engine) editableCard(ctx context.Context, id, op string) (*domain.Monster, error) {
	m, err := e.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.State != domain.StatePendingReview && m.State != domain.StateApproved {
		return nil, &domain.WorkflowStateError{
			MonsterID: m.ID, State: m.State,
			Expected: []domain.State{domain.StatePendingReview, domain.StateApproved}, Op: op,
		}
	}
	if !m.Structured() {
		return nil, fmt.Errorf("monster %s has no structured card", m.ID)
	}
	return m, nil
}

// AddSkill appends a skill to a structured card.
func (e Engine) AddSkill(ctx context.Context, id string, in SkillInput) (*domain.Monster, error) {
	m, err := e.editableCard(ctx, id, "add skill")
	if err != nil {
		return nil, err
	}
	if issues := validateSkill(in); len(issues) > 0 {
		return nil, &domain.ValidationError{Issues: issues}
	}
	m.Card.Skills = append(m.Card.Skills, domain.Skill{
		Name:         in.Name,
		Description:  in.Description,
		Damage:       in.Damage,
		Cooldown:     in.Cooldown,
		LvlMax:       in.LvlMax,
		Rank:         in.Rank,
		RatioStat:    in.RatioStat,
		RatioPercent: in.RatioPercent,
	})
	m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateSkill replaces the fields of an existing skill.
func (e Engine) UpdateSkill(ctx context.Context, id string, skillID int64, in SkillInput) (*domain.Monster, error) {
	m, err := e.editableCard(ctx, id, "update skill")
	if err != nil {
		return nil, err
	}
	if issues := validateSkill(in); len(issues) > 0 {
		return nil, &domain.ValidationError{Issues: issues}
	}
	for i := range m.Card.Skills {
		if m.Card.Skills[i].ID != skillID {
			continue
		}
		m.Card.Skills[i] = domain.Skill{
			ID:           skillID,
			Name:         in.Name,
			Description:  in.Description,
			Damage:       in.Damage,
			Cooldown:     in.Cooldown,
			LvlMax:       in.LvlMax,
			Rank:         in.Rank,
			RatioStat:    in.RatioStat,
			RatioPercent: in.RatioPercent,
		}
		m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.Save(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("monster %s has no skill %d: %w", id, skillID, repo.ErrNotFound)
}

// DeleteSkill removes one skill from a structured card.
func (e Engine) DeleteSkill(ctx context.Context, id string, skillID int64) (*domain.Monster, error) {
	m, err := e.editableCard(ctx, id, "delete skill")
	if err != nil {
		return nil, err
	}
	for i := range m.Card.Skills {
		if m.Card.Skills[i].ID != skillID {
			continue
		}
		m.Card.Skills = append(m.Card.Skills[:i], m.Card.Skills[i+1:]...)
		m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.Save(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("monster %s has no skill %d: %w", id, skillID, repo.ErrNotFound)
}
