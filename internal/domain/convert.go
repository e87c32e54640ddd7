package domain

import "fmt"

// CardFromDocument builds the structured card from a validated document.
// Callers must validate the document first; this only reports structural
// surprises it cannot map.
func CardFromDocument(doc Document) (*Card, error) {
	card := &Card{
		Name:              str(doc, "name"),
		Element:           str(doc, "element"),
		Rank:              str(doc, "rank"),
		CardDescription:   str(doc, "cardDescription"),
		VisualDescription: str(doc, "visualDescription"),
		ImageURL:          str(doc, "imageUrl"),
	}
	stats, ok := doc["stats"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document has no stats object")
	}
	card.HP = num(stats, "hp")
	card.ATK = num(stats, "atk")
	card.DEF = num(stats, "def")
	card.VIT = num(stats, "vit")

	if rawSkills, ok := doc["skills"].([]any); ok {
		for i, raw := range rawSkills {
			s, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("skill %d is not an object", i)
			}
			skill := Skill{
				Name:        str(s, "name"),
				Description: str(s, "description"),
				Damage:      num(s, "damage"),
				Cooldown:    int(num(s, "cooldown")),
				LvlMax:      int(num(s, "lvlMax")),
				Rank:        str(s, "rank"),
			}
			if ratio, ok := s["ratio"].(map[string]any); ok {
				skill.RatioStat = str(ratio, "stat")
				skill.RatioPercent = num(ratio, "percent")
			}
			card.Skills = append(card.Skills, skill)
		}
	}
	return card, nil
}

func str(m map[string]any, field string) string {
	v, _ := m[field].(string)
	return v
}

func num(m map[string]any, field string) float64 {
	switch n := m[field].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
