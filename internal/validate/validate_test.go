package validate

import (
	"strings"
	"testing"

	"monsterline/internal/domain"
)

func emberDoc() domain.Document {
	return domain.Document{
		"name":    "Ember",
		"element": "FIRE",
		"rank":    "RARE",
		"stats": map[string]any{
			"hp":  float64(420),
			"atk": float64(88),
			"def": float64(54),
			"vit": float64(61),
		},
		"skills": []any{
			map[string]any{
				"name":     "Flame Bite",
				"damage":   float64(120),
				"cooldown": float64(3),
				"lvlMax":   float64(40),
				"rank":     "RARE",
				"ratio": map[string]any{
					"stat":    "ATK",
					"percent": 1.2,
				},
			},
		},
	}
}

func TestValidDocument(t *testing.T) {
	res := Document(emberDoc())
	if !res.Valid {
		t.Fatalf("expected valid, got issues: %+v", res.Issues)
	}
}

func TestInvalidElement(t *testing.T) {
	doc := emberDoc()
	doc["element"] = "PLASMA"
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if len(res.Issues) != 1 {
		t.Fatalf("expected exactly one issue, got %+v", res.Issues)
	}
	issue := res.Issues[0]
	if issue.Field != "element" || issue.Kind != KindEnumInvalid {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestMissingFields(t *testing.T) {
	doc := emberDoc()
	delete(doc, "name")
	delete(doc, "stats")
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	fields := issueFields(res)
	for _, want := range []string{"name", "stats"} {
		if !fields[want] {
			t.Errorf("expected missing_field issue for %q, got %+v", want, res.Issues)
		}
	}
	for _, issue := range res.Issues {
		if issue.Kind != KindMissingField {
			t.Errorf("unexpected kind for %s: %s", issue.Field, issue.Kind)
		}
	}
}

func TestMissingStatFields(t *testing.T) {
	doc := emberDoc()
	stats := doc["stats"].(map[string]any)
	delete(stats, "vit")
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !issueFields(res)["stats.vit"] {
		t.Fatalf("expected issue for stats.vit, got %+v", res.Issues)
	}
}

func TestTypeMismatch(t *testing.T) {
	doc := emberDoc()
	doc["name"] = 42
	doc["stats"].(map[string]any)["hp"] = "high"
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	for _, issue := range res.Issues {
		if issue.Kind != KindTypeMismatch {
			t.Errorf("unexpected kind for %s: %s", issue.Field, issue.Kind)
		}
	}
	fields := issueFields(res)
	if !fields["name"] || !fields["stats.hp"] {
		t.Fatalf("expected issues for name and stats.hp, got %+v", res.Issues)
	}
}

func TestStatOutOfRange(t *testing.T) {
	doc := emberDoc()
	doc["stats"].(map[string]any)["hp"] = float64(2000)
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	issue := res.Issues[0]
	if issue.Field != "stats.hp" || issue.Kind != KindOutOfRange {
		t.Fatalf("unexpected issue: %+v", issue)
	}
}

func TestSkillRanges(t *testing.T) {
	doc := emberDoc()
	skill := doc["skills"].([]any)[0].(map[string]any)
	skill["damage"] = float64(900)
	skill["cooldown"] = float64(15)
	skill["ratio"].(map[string]any)["percent"] = 3.5
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	fields := issueFields(res)
	for _, want := range []string{"skills[0].damage", "skills[0].cooldown", "skills[0].ratio.percent"} {
		if !fields[want] {
			t.Errorf("expected issue for %s, got %+v", want, res.Issues)
		}
	}
}

func TestSkillEnumAndRatioStat(t *testing.T) {
	doc := emberDoc()
	skill := doc["skills"].([]any)[0].(map[string]any)
	skill["rank"] = "MYTHIC"
	skill["ratio"].(map[string]any)["stat"] = "SPD"
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	fields := issueFields(res)
	if !fields["skills[0].rank"] || !fields["skills[0].ratio.stat"] {
		t.Fatalf("expected enum issues, got %+v", res.Issues)
	}
	for _, issue := range res.Issues {
		if issue.Kind != KindEnumInvalid {
			t.Errorf("unexpected kind for %s: %s", issue.Field, issue.Kind)
		}
	}
}

func TestCardDescriptionLength(t *testing.T) {
	doc := emberDoc()
	doc["cardDescription"] = strings.Repeat("x", 201)
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	issue := res.Issues[0]
	if issue.Field != "cardDescription" || issue.Kind != KindOutOfRange {
		t.Fatalf("unexpected issue: %+v", issue)
	}

	doc["cardDescription"] = strings.Repeat("x", 200)
	if res := Document(doc); !res.Valid {
		t.Fatalf("200 chars should be allowed, got %+v", res.Issues)
	}
}

func TestSkillsMustBeList(t *testing.T) {
	doc := emberDoc()
	doc["skills"] = "none"
	res := Document(doc)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if res.Issues[0].Field != "skills" || res.Issues[0].Kind != KindTypeMismatch {
		t.Fatalf("unexpected issue: %+v", res.Issues[0])
	}
}

func TestDocumentWithoutSkillsIsValid(t *testing.T) {
	doc := emberDoc()
	delete(doc, "skills")
	if res := Document(doc); !res.Valid {
		t.Fatalf("skills are optional, got %+v", res.Issues)
	}
}

func issueFields(res Result) map[string]bool {
	fields := make(map[string]bool, len(res.Issues))
	for _, issue := range res.Issues {
		fields[issue.Field] = true
	}
	return fields
}
