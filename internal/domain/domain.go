package domain

// State is a monster's lifecycle state. The set is closed; transitions
// between states are governed by the state package.
type State string

const (
	StateGenerated     State = "GENERATED"
	StateDefective     State = "DEFECTIVE"
	StateCorrected     State = "CORRECTED"
	StatePendingReview State = "PENDING_REVIEW"
	StateApproved      State = "APPROVED"
	StateTransmitted   State = "TRANSMITTED"
	StateRejected      State = "REJECTED"
)

// States lists every lifecycle state in a stable order.
func States() []State {
	return []State{
		StateGenerated,
		StateDefective,
		StateCorrected,
		StatePendingReview,
		StateApproved,
		StateTransmitted,
		StateRejected,
	}
}

// ValidState reports whether s names a known lifecycle state.
func ValidState(s State) bool {
	for _, known := range States() {
		if s == known {
			return true
		}
	}
	return false
}

// Elements a monster may belong to.
const (
	ElementFire     = "FIRE"
	ElementWater    = "WATER"
	ElementWind     = "WIND"
	ElementEarth    = "EARTH"
	ElementLight    = "LIGHT"
	ElementDarkness = "DARKNESS"
)

// Ranks for monsters and skills.
const (
	RankCommon    = "COMMON"
	RankRare      = "RARE"
	RankEpic      = "EPIC"
	RankLegendary = "LEGENDARY"
)

// Stat dimensions a skill ratio may reference.
const (
	StatHP  = "HP"
	StatATK = "ATK"
	StatDEF = "DEF"
	StatVIT = "VIT"
)

func Elements() []string {
	return []string{ElementFire, ElementWater, ElementWind, ElementEarth, ElementLight, ElementDarkness}
}

func Ranks() []string {
	return []string{RankCommon, RankRare, RankEpic, RankLegendary}
}

func Stats() []string {
	return []string{StatHP, StatATK, StatDEF, StatVIT}
}

// Actors recorded on transition records.
const (
	ActorSystem = "system"
	ActorAdmin  = "admin"
	ActorUser   = "user"
)

// Document is the unstructured monster payload as generated. It holds
// arbitrary key/value data until the monster is structured; after that the
// canonical data lives in Card/Skill rows and the document is cleared.
type Document map[string]any

// Issue is a single validation finding on a document field.
type Issue struct {
	Field   string `json:"field"`
	Kind    string `json:"kind" enum:"missing_field,type_mismatch,enum_invalid,value_out_of_range"`
	Message string `json:"message"`
}

// Transition is one append-only audit entry on a monster's history.
// FromState is nil only on the very first record.
type Transition struct {
	ID        int64   `json:"id"`
	MonsterID string  `json:"monster_id"`
	FromState *State  `json:"from_state,omitempty"`
	ToState   State   `json:"to_state"`
	Timestamp string  `json:"timestamp" format:"date-time"`
	Actor     string  `json:"actor"`
	Note      *string `json:"note,omitempty"`
}

// Skill is a structured sub-item of a monster card. It exists only once the
// parent monster has been structured.
type Skill struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Damage       float64 `json:"damage"`
	Cooldown     int     `json:"cooldown"`
	LvlMax       int     `json:"lvlMax"`
	Rank         string  `json:"rank"`
	RatioStat    string  `json:"ratioStat"`
	RatioPercent float64 `json:"ratioPercent"`
}

// Card is the structured header created at the transition into
// PENDING_REVIEW. Shape is fixed after structuring; field values may still be
// edited until transmission.
type Card struct {
	Name              string  `json:"name"`
	Element           string  `json:"element"`
	Rank              string  `json:"rank"`
	HP                float64 `json:"hp"`
	ATK               float64 `json:"atk"`
	DEF               float64 `json:"def"`
	VIT               float64 `json:"vit"`
	CardDescription   string  `json:"cardDescription,omitempty"`
	VisualDescription string  `json:"visualDescription,omitempty"`
	ImageURL          string  `json:"imageUrl,omitempty"`
	Skills            []Skill `json:"skills,omitempty"`
}

// Monster is the lifecycle entity. Exactly one of Doc and Card is non-nil;
// which one depends on the lifecycle state (Doc before structuring, Card
// from PENDING_REVIEW on).
type Monster struct {
	ID    string `json:"id"`
	State State  `json:"state"`

	Doc  Document `json:"doc,omitempty"`
	Card *Card    `json:"card,omitempty"`

	GeneratedBy      string `json:"generated_by,omitempty"`
	GenerationPrompt string `json:"generation_prompt,omitempty"`

	IsValid          bool    `json:"is_valid"`
	ValidationIssues []Issue `json:"validation_issues,omitempty"`

	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewDate  *string `json:"review_date,omitempty" format:"date-time"`
	ReviewNotes *string `json:"review_notes,omitempty"`

	TransmittedAt        *string `json:"transmitted_at,omitempty" format:"date-time"`
	TransmissionAttempts int     `json:"transmission_attempts"`
	LastTransmissionErr  *string `json:"last_transmission_error,omitempty"`
	ExternalID           *string `json:"external_id,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`

	History []Transition `json:"history,omitempty"`
}

// Structured reports whether the monster carries its structured card.
func (m *Monster) Structured() bool {
	return m.Card != nil
}

// DisplayName returns the monster's name from whichever payload is populated.
func (m *Monster) DisplayName() string {
	if m.Card != nil {
		return m.Card.Name
	}
	if m.Doc != nil {
		if name, ok := m.Doc["name"].(string); ok {
			return name
		}
	}
	return "unknown"
}
