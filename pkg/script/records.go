// Package script defines the typed records the generation stack
// produces: story outlines, per-scene production packages and image
// assets. Each kind has a registered schema descriptor, so any
// generator text can be ingested into these structs regardless of how
// malformed it arrived.
package script

// SceneType classifies what a scene does inside the story arc.
type SceneType string

const (
	SceneHook         SceneType = "hook"
	SceneExplanation  SceneType = "explanation"
	SceneVisualDemo   SceneType = "visual_demo"
	SceneComparison   SceneType = "comparison"
	SceneStoryTelling SceneType = "story_telling"
	SceneConclusion   SceneType = "conclusion"
)

// TransitionType names the cut between two adjacent scenes.
type TransitionType string

const (
	TransitionFade     TransitionType = "fade"
	TransitionCut      TransitionType = "cut"
	TransitionDissolve TransitionType = "dissolve"
	TransitionSlide    TransitionType = "slide"
	TransitionWipe     TransitionType = "wipe"
	TransitionNone     TransitionType = "none"
)

// OverallStyle is the tone the whole video aims for.
type OverallStyle string

const (
	StyleEducational  OverallStyle = "educational"
	StyleEntertaining OverallStyle = "entertaining"
	StyleDocumentary  OverallStyle = "documentary"
	StyleStorytelling OverallStyle = "storytelling"
)

// StoryOutline is the top-level plan for a video: ordered scenes plus
// story-wide metadata.
type StoryOutline struct {
	Title        string         `json:"title"`
	OverallStyle OverallStyle   `json:"overall_style"`
	StorySummary string         `json:"story_summary"`
	Scenes       []OutlineScene `json:"scenes"`
}

// OutlineScene is one planned scene of the outline.
type OutlineScene struct {
	SceneNumber      int            `json:"scene_number"`
	SceneType        SceneType      `json:"scene_type"`
	Beats            []string       `json:"beats"`
	NeedsAnimation   bool           `json:"needs_animation"`
	TransitionToNext TransitionType `json:"transition_to_next"`
	SceneImportance  int            `json:"scene_importance"`
}

// ScenePackage is the full production bundle for one scene: narration,
// visuals, sound cues, captions and timing.
type ScenePackage struct {
	SceneNumber     int             `json:"scene_number"`
	NarrationScript []NarrationLine `json:"narration_script"`
	Visuals         []VisualFrame   `json:"visuals"`
	SFXCues         []SFXCue        `json:"sfx_cues"`
	OnScreenText    []Caption       `json:"on_screen_text"`
	TTS             TTSSettings     `json:"tts"`
	Timing          Timing          `json:"timing"`
	TransitionIn    TransitionType  `json:"transition_in"`
	TransitionOut   TransitionType  `json:"transition_out"`
}

// NarrationLine is one spoken line with its slot on the scene
// timeline.
type NarrationLine struct {
	Line         string `json:"line"`
	AtMS         int    `json:"at_ms"`
	DurationMS   int    `json:"duration_ms"`
	PauseAfterMS int    `json:"pause_after_ms"`
}

// SFXCue schedules one sound effect.
type SFXCue struct {
	Cue        string  `json:"cue"`
	AtMS       int     `json:"at_ms"`
	DurationMS int     `json:"duration_ms"`
	Volume     float64 `json:"volume"`
}

// VisualFrame describes one image the scene needs.
type VisualFrame struct {
	FrameID        string `json:"frame_id"`
	ShotType       string `json:"shot_type"`
	ImagePrompt    string `json:"image_prompt"`
	NegativePrompt string `json:"negative_prompt"`
	AspectRatio    string `json:"aspect_ratio"`
}

// Caption is text rendered on screen for a time window.
type Caption struct {
	Text       string `json:"text"`
	Style      string `json:"style"`
	AtMS       int    `json:"at_ms"`
	DurationMS int    `json:"duration_ms"`
}

// TTSSettings selects the speech-synthesis engine and voice for the
// scene's narration.
type TTSSettings struct {
	Engine   string  `json:"engine"`
	Voice    string  `json:"voice"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
}

// Timing carries the scene's total duration. Estimated is true until
// real narration audio has been measured.
type Timing struct {
	TotalMS   int  `json:"total_ms"`
	Estimated bool `json:"estimated"`
}

// ImageAsset is a single image-generation request derived from a
// visual frame.
type ImageAsset struct {
	FrameID        string  `json:"frame_id"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Seed           int     `json:"seed"`
	CFG            float64 `json:"cfg"`
	Steps          int     `json:"steps"`
	AspectRatio    string  `json:"aspect_ratio"`
}
