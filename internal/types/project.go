package types

import "github.com/google/uuid"

// ImageSize holds pixel dimensions for generated images.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Project identifies a book-in-progress. It is owned by the project store;
// the pipeline only reads it and requests updates through the store.
type Project struct {
	ID                uuid.UUID `json:"id"`
	Title             string    `json:"title"`
	AgeRange          string    `json:"age_range"`
	Setting           string    `json:"setting"`
	LearningObjective string    `json:"learning_objective"`
	CharacterIDs      []string  `json:"character_ids"`
	CurrentStage      Stage     `json:"current_stage"`
	IllustrationSize  ImageSize `json:"illustration_size"`
	CoverSize         ImageSize `json:"cover_size"`
}

// ProjectPatch describes a partial project update. Nil fields are left
// untouched by the store.
type ProjectPatch struct {
	Title        *string `json:"title,omitempty"`
	CurrentStage *Stage  `json:"current_stage,omitempty"`
}

// VisualDNA captures everything the image prompts need to draw a character
// consistently.
type VisualDNA struct {
	Appearance   string   `json:"appearance"`
	ModestyRules string   `json:"modesty_rules"`
	Palette      []string `json:"palette,omitempty"`
	PoseSheetURL string   `json:"pose_sheet_url,omitempty"`
	StyleHints   string   `json:"style_hints,omitempty"`
}

// Character is a read-only input to the pipeline.
type Character struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	Traits        []string  `json:"traits"`
	SpeakingStyle string    `json:"speaking_style"`
	VisualDNA     VisualDNA `json:"visual_dna"`
}

// KnowledgeBaseSummary is the trimmed list of project rules fed into prompts.
type KnowledgeBaseSummary struct {
	FaithRules        []string `json:"faith_rules"`
	VocabularyRules   []string `json:"vocabulary_rules"`
	IllustrationRules []string `json:"illustration_rules"`
}
