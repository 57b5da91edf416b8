// Package catalog holds the immutable personality, scenario and voice
// reference data the roleplay sessions are built from.
package catalog

import "sort"

const (
	// DefaultPersonalityID is used when a requested personality is unknown.
	DefaultPersonalityID = "entj_commander"
	// DefaultScenarioID is used when a requested scenario is unknown.
	DefaultScenarioID = "role_shift"
	// CustomScenarioID selects caller-supplied scenario text.
	CustomScenarioID = "custom"
)

// Category groups scenarios for display.
type Category string

const (
	CategoryAdaptability          Category = "Adaptability"
	CategoryEmotionalIntelligence Category = "Emotional Intelligence"
	CategoryCommunication         Category = "Communication"
)

// Categories in display order.
var Categories = []Category{CategoryAdaptability, CategoryEmotionalIntelligence, CategoryCommunication}

// Voice holds the primary TTS parameters for a personality.
type Voice struct {
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// Personality is a manager persona the LLM plays.
type Personality struct {
	ID             string
	Name           string
	Title          string
	Description    string
	Voice          Voice
	FallbackVoice  string
	PromptTemplate string
}

// Scenario is a narrative workplace situation injected into the prompt.
type Scenario struct {
	ID       string
	Category Category
	Name     string
	Context  string
}

// LibraryVoice is an entry of the selectable voice library.
type LibraryVoice struct {
	VoiceID     string `json:"voice_id"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
}

func managerVoice(id string) Voice {
	return Voice{
		VoiceID:         id,
		ModelID:         "eleven_multilingual_v2",
		Stability:       1.0,
		SimilarityBoost: 0.95,
		SpeakerBoost:    false,
	}
}

var personalities = map[string]Personality{
	"entj_commander": {
		ID:             "entj_commander",
		Name:           "Priya",
		Title:          "Strategic Director",
		Description:    "Blunt, action-driven, no-nonsense manager who values speed, clarity, and accountability.",
		Voice:          managerVoice("pGYsZruQzo8cpdFVZyJc"),
		FallbackVoice:  "nova",
		PromptTemplate: managerPrompt,
	},
	"istj_operator": {
		ID:             "istj_operator",
		Name:           "Harish",
		Title:          "Operations Manager",
		Description:    "Calm, structured, steady manager who values process, clarity, and disciplined execution.",
		Voice:          managerVoice("dFL9bzYmnpBkY6f0KZip"),
		FallbackVoice:  "onyx",
		PromptTemplate: managerPrompt,
	},
	"enfp_visionary": {
		ID:             "enfp_visionary",
		Name:           "Sunita",
		Title:          "Innovation Lead",
		Description:    "Warm, energetic, encouraging manager who leads with optimism, empathy, and motivation.",
		Voice:          managerVoice("XwkIUwRxNu9PpezCu4Vg"),
		FallbackVoice:  "nova",
		PromptTemplate: managerPrompt,
	},
	"esfj_caregiver": {
		ID:             "esfj_caregiver",
		Name:           "Ravi",
		Title:          "People Manager",
		Description:    "Caring, relational, emotionally supportive manager who prioritizes trust and team well-being.",
		Voice:          managerVoice("Sxk6njaoa7XLsAFT7WcN"),
		FallbackVoice:  "onyx",
		PromptTemplate: managerPrompt,
	},
}

var voiceLibrary = map[string]LibraryVoice{
	"Rachel": {VoiceID: "21m00Tcm4TlvDq8ikWAM", Gender: "female", Description: "Authoritative, professional female voice"},
	"Adam":   {VoiceID: "pNInz6obpgDQGcFmaJgB", Gender: "male", Description: "Steady, reliable male voice"},
	"Bella":  {VoiceID: "EXAVITQu4vr4xnSDxMaL", Gender: "female", Description: "Energetic, enthusiastic female voice"},
	"Josh":   {VoiceID: "TxGEqnHWrfWFTfGW9XjX", Gender: "male", Description: "Warm, friendly male voice"},
}

// LookupPersonality returns the personality with the given id.
func LookupPersonality(id string) (Personality, bool) {
	p, ok := personalities[id]
	return p, ok
}

// PersonalityOrDefault resolves id, falling back to DefaultPersonalityID.
func PersonalityOrDefault(id string) Personality {
	if p, ok := personalities[id]; ok {
		return p
	}
	return personalities[DefaultPersonalityID]
}

// LookupScenario returns the scenario with the given id.
func LookupScenario(id string) (Scenario, bool) {
	s, ok := scenarios[id]
	return s, ok
}

// ScenarioOrDefault resolves id, falling back to DefaultScenarioID.
func ScenarioOrDefault(id string) Scenario {
	if s, ok := scenarios[id]; ok {
		return s
	}
	return scenarios[DefaultScenarioID]
}

// PersonalityIDs returns all personality ids, sorted.
func PersonalityIDs() []string {
	ids := make([]string, 0, len(personalities))
	for id := range personalities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ScenariosIn returns the scenarios of a category in declaration order.
func ScenariosIn(c Category) []Scenario {
	var out []Scenario
	for _, id := range scenarioOrder {
		if s := scenarios[id]; s.Category == c {
			out = append(out, s)
		}
	}
	return out
}

// VoiceLibrary returns a copy of the selectable voice library.
func VoiceLibrary() map[string]LibraryVoice {
	out := make(map[string]LibraryVoice, len(voiceLibrary))
	for k, v := range voiceLibrary {
		out[k] = v
	}
	return out
}

// PersonalitySummary is the wire form of a personality.
type PersonalitySummary struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ScenarioSummary is the wire form of a scenario.
type ScenarioSummary struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

// Snapshot is the catalog as sent to clients in the config event.
type Snapshot struct {
	Personalities map[string]PersonalitySummary         `json:"personalities"`
	Scenarios     map[string]map[string]ScenarioSummary `json:"scenarios"`
	VoiceLibrary  map[string]LibraryVoice               `json:"voice_library"`
}

// NewSnapshot builds the client-facing catalog.
func NewSnapshot() Snapshot {
	snap := Snapshot{
		Personalities: make(map[string]PersonalitySummary, len(personalities)),
		Scenarios:     make(map[string]map[string]ScenarioSummary, len(Categories)),
		VoiceLibrary:  VoiceLibrary(),
	}
	for id, p := range personalities {
		snap.Personalities[id] = PersonalitySummary{Name: p.Name, Title: p.Title, Description: p.Description}
	}
	for _, c := range Categories {
		group := make(map[string]ScenarioSummary)
		for _, s := range ScenariosIn(c) {
			group[s.ID] = ScenarioSummary{Name: s.Name, Context: s.Context}
		}
		snap.Scenarios[string(c)] = group
	}
	return snap
}
