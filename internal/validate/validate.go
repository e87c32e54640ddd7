package validate

import (
	"fmt"

	"monsterline/internal/domain"
)

// Issue kinds.
const (
	KindMissingField = "missing_field"
	KindTypeMismatch = "type_mismatch"
	KindEnumInvalid  = "enum_invalid"
	KindOutOfRange   = "value_out_of_range"
)

// Numeric limits for monster documents.
const (
	MinHP, MaxHP             = 50, 1000
	MinATK, MaxATK           = 10, 200
	MinDEF, MaxDEF           = 10, 200
	MinVIT, MaxVIT           = 10, 150
	MinDamage, MaxDamage     = 0, 500
	MinCooldown, MaxCooldown = 0, 10
	MinPercent, MaxPercent   = 0.1, 2.0
	MaxLvl                   = 100
	MaxCardDescriptionLen    = 200
)

// Result holds the outcome of validating one document.
type Result struct {
	Valid  bool
	Issues []domain.Issue
}

func (r *Result) add(field, kind, message string) {
	r.Issues = append(r.Issues, domain.Issue{Field: field, Kind: kind, Message: message})
}

// Document validates a raw monster document: required fields and types,
// enum membership, numeric ranges. Pure function, no I/O.
func Document(doc domain.Document) Result {
	var r Result
	checkStructure(doc, &r)
	checkEnums(doc, &r)
	checkRanges(doc, &r)
	r.Valid = len(r.Issues) == 0
	return r
}

func checkStructure(doc domain.Document, r *Result) {
	requireString(doc, "name", r)
	requireString(doc, "element", r)
	requireString(doc, "rank", r)

	stats, ok := doc["stats"]
	if !ok {
		r.add("stats", KindMissingField, "required field 'stats' is missing")
	} else if statsMap, ok := stats.(map[string]any); !ok {
		r.add("stats", KindTypeMismatch, fmt.Sprintf("expected object, got %T", stats))
	} else {
		for _, field := range []string{"hp", "atk", "def", "vit"} {
			v, ok := statsMap[field]
			if !ok {
				r.add("stats."+field, KindMissingField, fmt.Sprintf("required field '%s' is missing in stats", field))
				continue
			}
			if _, ok := asNumber(v); !ok {
				r.add("stats."+field, KindTypeMismatch, fmt.Sprintf("expected number, got %T", v))
			}
		}
	}

	skills, ok := doc["skills"]
	if !ok {
		return
	}
	list, ok := skills.([]any)
	if !ok {
		r.add("skills", KindTypeMismatch, fmt.Sprintf("expected list, got %T", skills))
		return
	}
	for i, raw := range list {
		prefix := fmt.Sprintf("skills[%d]", i)
		skill, ok := raw.(map[string]any)
		if !ok {
			r.add(prefix, KindTypeMismatch, fmt.Sprintf("skill must be an object, got %T", raw))
			continue
		}
		requireString(skill, "name", r, prefix)
		requireString(skill, "rank", r, prefix)
		for _, field := range []string{"damage", "cooldown", "lvlMax"} {
			v, ok := skill[field]
			if !ok {
				r.add(prefix+"."+field, KindMissingField, fmt.Sprintf("required field '%s' is missing", field))
				continue
			}
			if _, ok := asNumber(v); !ok {
				r.add(prefix+"."+field, KindTypeMismatch, fmt.Sprintf("expected number, got %T", v))
			}
		}
		ratio, ok := skill["ratio"]
		if !ok {
			r.add(prefix+".ratio", KindMissingField, "required field 'ratio' is missing")
			continue
		}
		ratioMap, ok := ratio.(map[string]any)
		if !ok {
			r.add(prefix+".ratio", KindTypeMismatch, fmt.Sprintf("expected object, got %T", ratio))
			continue
		}
		requireString(ratioMap, "stat", r, prefix+".ratio")
		if v, ok := ratioMap["percent"]; !ok {
			r.add(prefix+".ratio.percent", KindMissingField, "required field 'percent' is missing")
		} else if _, ok := asNumber(v); !ok {
			r.add(prefix+".ratio.percent", KindTypeMismatch, fmt.Sprintf("expected number, got %T", v))
		}
	}
}

func checkEnums(doc domain.Document, r *Result) {
	checkEnum(doc, "element", domain.Elements(), r)
	checkEnum(doc, "rank", domain.Ranks(), r)
	list, ok := doc["skills"].([]any)
	if !ok {
		return
	}
	for i, raw := range list {
		skill, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("skills[%d]", i)
		checkEnumAt(skill, "rank", prefix+".rank", domain.Ranks(), r)
		if ratio, ok := skill["ratio"].(map[string]any); ok {
			checkEnumAt(ratio, "stat", prefix+".ratio.stat", domain.Stats(), r)
		}
	}
}

func checkRanges(doc domain.Document, r *Result) {
	if stats, ok := doc["stats"].(map[string]any); ok {
		checkRange(stats, "hp", "stats.hp", MinHP, MaxHP, r)
		checkRange(stats, "atk", "stats.atk", MinATK, MaxATK, r)
		checkRange(stats, "def", "stats.def", MinDEF, MaxDEF, r)
		checkRange(stats, "vit", "stats.vit", MinVIT, MaxVIT, r)
	}
	if desc, ok := doc["cardDescription"].(string); ok && len(desc) > MaxCardDescriptionLen {
		r.add("cardDescription", KindOutOfRange,
			fmt.Sprintf("description too long (%d chars), max %d", len(desc), MaxCardDescriptionLen))
	}
	list, ok := doc["skills"].([]any)
	if !ok {
		return
	}
	for i, raw := range list {
		skill, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("skills[%d]", i)
		checkRange(skill, "damage", prefix+".damage", MinDamage, MaxDamage, r)
		checkRange(skill, "cooldown", prefix+".cooldown", MinCooldown, MaxCooldown, r)
		checkRange(skill, "lvlMax", prefix+".lvlMax", 1, MaxLvl, r)
		if ratio, ok := skill["ratio"].(map[string]any); ok {
			checkRange(ratio, "percent", prefix+".ratio.percent", MinPercent, MaxPercent, r)
		}
	}
}

func requireString(m map[string]any, field string, r *Result, prefix ...string) {
	path := field
	if len(prefix) > 0 {
		path = prefix[0] + "." + field
	}
	v, ok := m[field]
	if !ok {
		r.add(path, KindMissingField, fmt.Sprintf("required field '%s' is missing", field))
		return
	}
	if _, ok := v.(string); !ok {
		r.add(path, KindTypeMismatch, fmt.Sprintf("expected string, got %T", v))
	}
}

func checkEnum(m map[string]any, field string, allowed []string, r *Result) {
	checkEnumAt(m, field, field, allowed, r)
}

func checkEnumAt(m map[string]any, field, path string, allowed []string, r *Result) {
	v, ok := m[field].(string)
	if !ok {
		return // structure pass already reported missing/typed fields
	}
	for _, a := range allowed {
		if v == a {
			return
		}
	}
	r.add(path, KindEnumInvalid, fmt.Sprintf("invalid value %q, allowed: %v", v, allowed))
}

func checkRange(m map[string]any, field, path string, min, max float64, r *Result) {
	v, ok := m[field]
	if !ok {
		return
	}
	n, ok := asNumber(v)
	if !ok {
		return
	}
	if n < min || n > max {
		r.add(path, KindOutOfRange, fmt.Sprintf("value %v out of range [%v, %v]", n, min, max))
	}
}

// asNumber accepts the numeric types json.Unmarshal and callers produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
