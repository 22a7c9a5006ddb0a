package script

import (
	"sync"

	"github.com/storyforge-ai/storyforge/pkg/schema"
)

const (
	KindStoryOutline schema.Kind = "story_outline"
	KindScenePackage schema.Kind = "scene_package"
	KindImageAsset   schema.Kind = "image_asset"
)

var (
	registerOnce sync.Once

	outlineDescriptor      *schema.Descriptor
	scenePackageDescriptor *schema.Descriptor
	imageAssetDescriptor   *schema.Descriptor
)

// RegisterSchemas registers the descriptors for every script record
// kind. Call it once at process start; it panics on a descriptor
// consistency bug, which can only be introduced by editing this file.
func RegisterSchemas() {
	registerOnce.Do(func() {
		outlineDescriptor = buildOutlineDescriptor()
		scenePackageDescriptor = buildScenePackageDescriptor()
		imageAssetDescriptor = buildImageAssetDescriptor()

		schema.MustRegister(outlineDescriptor)
		schema.MustRegister(scenePackageDescriptor)
		schema.MustRegister(imageAssetDescriptor)
	})
}

// OutlineDescriptor returns the registered story_outline descriptor.
func OutlineDescriptor() *schema.Descriptor {
	RegisterSchemas()
	return outlineDescriptor
}

// ScenePackageDescriptor returns the registered scene_package
// descriptor.
func ScenePackageDescriptor() *schema.Descriptor {
	RegisterSchemas()
	return scenePackageDescriptor
}

// ImageAssetDescriptor returns the registered image_asset descriptor.
func ImageAssetDescriptor() *schema.Descriptor {
	RegisterSchemas()
	return imageAssetDescriptor
}

func transitionField(name string, aliases ...string) schema.FieldSpec {
	return schema.FieldSpec{
		Name:    name,
		Type:    schema.TypeEnum,
		Aliases: aliases,
		Values: []string{
			string(TransitionFade), string(TransitionCut), string(TransitionDissolve),
			string(TransitionSlide), string(TransitionWipe), string(TransitionNone),
		},
		Synonyms: map[string]string{
			"fade_in":       string(TransitionFade),
			"fade_out":      string(TransitionFade),
			"fade_to_black": string(TransitionFade),
			"crossfade":     string(TransitionFade),
			"cut_to_black":  string(TransitionCut),
			"hard_cut":      string(TransitionCut),
			"slide_left":    string(TransitionSlide),
			"slide_right":   string(TransitionSlide),
			"no_transition": string(TransitionNone),
		},
		EnumFallback: string(TransitionFade),
		Default:      schema.Literal(string(TransitionFade)),
	}
}

func outlineSceneFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "scene_number", Type: schema.TypeInt, Required: true,
			Aliases: []string{"scene_id", "number", "id"},
			Min:     schema.Bound(1),
			Default: schema.Literal(1),
		},
		{
			Name: "scene_type", Type: schema.TypeEnum, Required: true,
			Aliases: []string{"type"},
			Values: []string{
				string(SceneHook), string(SceneExplanation), string(SceneVisualDemo),
				string(SceneComparison), string(SceneStoryTelling), string(SceneConclusion),
			},
			Synonyms: map[string]string{
				"intro":         string(SceneHook),
				"opening":       string(SceneHook),
				"demo":          string(SceneVisualDemo),
				"demonstration": string(SceneVisualDemo),
				"story":         string(SceneStoryTelling),
				"narrative":     string(SceneStoryTelling),
				"outro":         string(SceneConclusion),
				"summary":       string(SceneConclusion),
			},
			EnumFallback: string(SceneExplanation),
			Default:      schema.Literal(string(SceneExplanation)),
		},
		{
			Name: "beats", Type: schema.TypeList,
			Aliases: []string{"key_points", "points"},
			Elem:    &schema.FieldSpec{Name: "beat", Type: schema.TypeString, MinLen: 1, Default: schema.Literal("beat")},
		},
		{
			Name: "needs_animation", Type: schema.TypeBool,
			Aliases: []string{"animated"},
			Default: schema.Literal(false),
		},
		transitionField("transition_to_next", "transition", "next_transition"),
		{
			Name: "scene_importance", Type: schema.TypeInt,
			Aliases: []string{"importance"},
			Min:     schema.Bound(1), Max: schema.Bound(10),
			Default: schema.Literal(5),
		},
	}
}

func buildOutlineDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Kind: KindStoryOutline,
		Fields: []schema.FieldSpec{
			{
				Name: "title", Type: schema.TypeString, Required: true,
				Aliases: []string{"video_title", "name"},
				MinLen:  1,
				Default: schema.Literal("Untitled Story"),
			},
			{
				Name: "overall_style", Type: schema.TypeEnum,
				Aliases: []string{"style", "tone"},
				Values: []string{
					string(StyleEducational), string(StyleEntertaining),
					string(StyleDocumentary), string(StyleStorytelling),
				},
				Synonyms: map[string]string{
					"informative": string(StyleEducational),
					"fun":         string(StyleEntertaining),
					"narrative":   string(StyleStorytelling),
				},
				EnumFallback: string(StyleEducational),
				Default:      schema.Literal(string(StyleEducational)),
			},
			{
				Name: "story_summary", Type: schema.TypeString,
				Aliases:   []string{"summary", "description"},
				AbsorbRaw: true,
			},
			{
				Name: "scenes", Type: schema.TypeList, Required: true,
				Aliases: []string{"scene_list", "outline"},
				MinLen:  1,
				Elem: &schema.FieldSpec{
					Name: "scene", Type: schema.TypeObject,
					Fields: outlineSceneFields(),
				},
				Default: schema.Derived(skeletonScenes),
			},
		},
	}
}

// skeletonScenes is the derived default for a missing scene list: the
// minimal hook / explanation / conclusion arc.
func skeletonScenes(map[string]any) any {
	return []any{
		map[string]any{"scene_number": 1, "scene_type": string(SceneHook)},
		map[string]any{"scene_number": 2, "scene_type": string(SceneExplanation)},
		map[string]any{"scene_number": 3, "scene_type": string(SceneConclusion)},
	}
}

func narrationLineFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "line", Type: schema.TypeString, Required: true,
			Aliases:   []string{"text", "content", "narration"},
			MinLen:    1,
			AbsorbRaw: true,
			Default:   schema.Literal("..."),
		},
		{
			Name: "at_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"start_ms", "begin_ms"},
			Min:     schema.Bound(0),
			Default: schema.Literal(0),
		},
		{
			Name: "duration_ms", Type: schema.TypeInt, Required: true, Millis: true,
			Aliases: []string{"length_ms", "timing"},
			Min:     schema.Bound(1),
			Default: schema.Derived(func(siblings map[string]any) any {
				if line, ok := siblings["line"].(string); ok && line != "" {
					return float64(EstimateNarrationMs(line))
				}
				return float64(minNarrationMS)
			}, "line"),
		},
		{
			Name: "pause_after_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"pause"},
			Min:     schema.Bound(0),
			Default: schema.Literal(500),
		},
	}
}

func sfxCueFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "cue", Type: schema.TypeString, Required: true,
			Aliases: []string{"sfx_name", "effect", "sound_effect", "name"},
			MinLen:  1,
			Canon:   CanonicalCueName,
			Default: schema.Literal("SFX_GENERIC"),
		},
		{
			Name: "at_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"start_ms", "begin_ms"},
			Min:     schema.Bound(0),
			Default: schema.Literal(0),
		},
		{
			Name: "duration_ms", Type: schema.TypeInt, Required: true, Millis: true,
			Aliases: []string{"length_ms"},
			Min:     schema.Bound(100),
			Default: schema.Literal(1000),
		},
		{
			Name: "volume", Type: schema.TypeFloat,
			Aliases: []string{"level", "gain"},
			Min:     schema.Bound(0), Max: schema.Bound(1),
			Default: schema.Literal(0.5),
		},
	}
}

func visualFrameFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "frame_id", Type: schema.TypeString,
			Aliases: []string{"id"},
			Default: schema.Literal("1A"),
		},
		{
			Name: "shot_type", Type: schema.TypeString,
			Aliases: []string{"shot"},
			Default: schema.Literal("medium"),
		},
		{
			Name: "image_prompt", Type: schema.TypeString, Required: true,
			Aliases: []string{"prompt", "description"},
			MinLen:  1,
			Default: schema.Literal("abstract background"),
		},
		{
			Name: "negative_prompt", Type: schema.TypeString,
			Aliases: []string{"negative"},
		},
		{
			Name: "aspect_ratio", Type: schema.TypeString,
			Aliases: []string{"ratio"},
			Default: schema.Literal("16:9"),
		},
	}
}

func captionFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "text", Type: schema.TypeString, Required: true,
			Aliases: []string{"content", "caption"},
			MinLen:  1,
			Default: schema.Literal("..."),
		},
		{
			Name: "style", Type: schema.TypeString,
			Default: schema.Literal("normal"),
		},
		{
			Name: "at_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"start_ms"},
			Min:     schema.Bound(0),
			Default: schema.Literal(0),
		},
		{
			Name: "duration_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"length_ms"},
			Min:     schema.Bound(500),
			Default: schema.Literal(3000),
		},
	}
}

func ttsFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{Name: "engine", Type: schema.TypeString, Aliases: []string{"provider"}, Default: schema.Literal("lemonfox")},
		{Name: "voice", Type: schema.TypeString, Aliases: []string{"voice_name"}, Default: schema.Literal("sarah")},
		{Name: "language", Type: schema.TypeString, Aliases: []string{"lang", "locale"}, Default: schema.Literal("en-US")},
		{
			Name: "speed", Type: schema.TypeFloat,
			Aliases: []string{"rate"},
			Min:     schema.Bound(0.5), Max: schema.Bound(2.0),
			Default: schema.Literal(1.0),
		},
	}
}

func timingFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{
			Name: "total_ms", Type: schema.TypeInt, Millis: true,
			Aliases: []string{"total_duration_ms", "duration_ms"},
			Min:     schema.Bound(1),
			Default: schema.Literal(defaultSceneTotal),
		},
		{Name: "estimated", Type: schema.TypeBool, Default: schema.Literal(true)},
	}
}

func buildScenePackageDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Kind: KindScenePackage,
		Fields: []schema.FieldSpec{
			{
				Name: "scene_number", Type: schema.TypeInt, Required: true,
				Aliases: []string{"scene_id", "number", "id"},
				Min:     schema.Bound(1),
				Default: schema.Literal(1),
			},
			{
				Name: "narration_script", Type: schema.TypeList, Required: true,
				Aliases: []string{"narration", "script", "lines"},
				MinLen:  1,
				Elem: &schema.FieldSpec{
					Name: "narration_line", Type: schema.TypeObject,
					ScalarKey: "line",
					Fields:    narrationLineFields(),
				},
			},
			{
				Name: "visuals", Type: schema.TypeList,
				Aliases: []string{"frames", "shots"},
				Elem: &schema.FieldSpec{
					Name: "frame", Type: schema.TypeObject,
					ScalarKey: "image_prompt",
					Fields:    visualFrameFields(),
				},
			},
			{
				Name: "sfx_cues", Type: schema.TypeList,
				Aliases: []string{"sound_effects", "sfx", "effects"},
				Elem: &schema.FieldSpec{
					Name: "sfx_cue", Type: schema.TypeObject,
					ScalarKey: "cue",
					Fields:    sfxCueFields(),
				},
			},
			{
				Name: "on_screen_text", Type: schema.TypeList,
				Aliases: []string{"text_overlays", "overlays", "captions"},
				Elem: &schema.FieldSpec{
					Name: "caption", Type: schema.TypeObject,
					ScalarKey: "text",
					Fields:    captionFields(),
				},
			},
			{
				Name: "tts", Type: schema.TypeObject,
				Aliases:   []string{"tts_settings", "voice_settings"},
				ScalarKey: "voice",
				Fields:    ttsFields(),
			},
			{
				Name: "timing", Type: schema.TypeObject,
				Fields: timingFields(),
			},
			transitionField("transition_in", "intro_transition"),
			transitionField("transition_out", "outro_transition"),
		},
	}
}

func buildImageAssetDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Kind: KindImageAsset,
		Fields: []schema.FieldSpec{
			{
				Name: "frame_id", Type: schema.TypeString, Required: true,
				Aliases: []string{"id"},
				MinLen:  1,
				Default: schema.Literal("1A"),
			},
			{
				Name: "prompt", Type: schema.TypeString, Required: true,
				Aliases:   []string{"image_prompt", "description"},
				MinLen:    1,
				AbsorbRaw: true,
				Default:   schema.Literal("abstract gradient background"),
			},
			{
				Name: "negative_prompt", Type: schema.TypeString,
				Aliases: []string{"negative"},
			},
			{
				Name: "seed", Type: schema.TypeInt,
				Min:     schema.Bound(0),
				Default: schema.Literal(123456),
			},
			{
				Name: "cfg", Type: schema.TypeFloat,
				Aliases: []string{"cfg_scale", "guidance"},
				Min:     schema.Bound(1), Max: schema.Bound(30),
				Default: schema.Literal(7.5),
			},
			{
				Name: "steps", Type: schema.TypeInt,
				Aliases: []string{"num_steps"},
				Min:     schema.Bound(1), Max: schema.Bound(150),
				Default: schema.Literal(20),
			},
			{
				Name: "aspect_ratio", Type: schema.TypeString,
				Aliases: []string{"ratio", "ar"},
				Default: schema.Literal("16:9"),
			},
		},
	}
}
