// Package lemonfox synthesizes narration audio through the Lemonfox
// text-to-speech API, which speaks the OpenAI audio surface.
package lemonfox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/storyforge-ai/storyforge/pkg/logging"
	"github.com/storyforge-ai/storyforge/pkg/model"
	"github.com/storyforge-ai/storyforge/pkg/utils"
)

const (
	providerName           = "lemonfox"
	defaultBaseURL         = "https://api.lemonfox.ai/v1"
	defaultSpeechModelName = "tts-1"
	defaultVoiceName       = "sarah"

	minSpeechSpeed = 0.25
	maxSpeechSpeed = 4.0
)

type speechGenerator struct {
	client openai.Client
	opts   model.SpeechOptions
}

func NewSpeechGenerator(opts model.SpeechOptions) (model.SpeechGenerator, error) {
	if _, err := resolveSpeechResponseFormat(opts.Format); err != nil {
		return nil, utils.WrapIfNotNil(err)
	}
	if opts.Speed != 0 && (opts.Speed < minSpeechSpeed || opts.Speed > maxSpeechSpeed) {
		return nil, utils.WrapIfNotNil(
			fmt.Errorf("speech speed %.2f must be between %.2f and %.2f", opts.Speed, minSpeechSpeed, maxSpeechSpeed),
		)
	}

	return &speechGenerator{
		client: newAPIClient(opts),
		opts:   opts,
	}, nil
}

func (g *speechGenerator) Synthesize(ctx context.Context, text string) ([]byte, model.GenerationMetadata, error) {
	start := time.Now()
	modelName := resolveSpeechModelName(g.opts)
	meta := initMetadata(modelName)
	defer setLatencyMetadata(meta, start)

	log := logging.NewLogger(ctx)
	input := strings.TrimSpace(text)
	if input == "" {
		err := errors.New("speech text is required")
		log.Errorf("error: %v", err)
		return nil, meta, utils.WrapIfNotNil(err)
	}

	format, err := resolveSpeechResponseFormat(g.opts.Format)
	if err != nil {
		log.Errorf("error: %v", err)
		return nil, meta, utils.WrapIfNotNil(err)
	}

	voice := resolveVoiceName(g.opts)
	params := openai.AudioSpeechNewParams{
		Input:          input,
		Model:          openai.SpeechModel(modelName),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: format,
	}
	if g.opts.Speed != 0 {
		params.Speed = param.NewOpt(g.opts.Speed)
	}

	requestOpts := make([]option.RequestOption, 0, 1)
	if language := primaryLanguageSubtag(g.opts.Language); language != "" {
		requestOpts = append(requestOpts, option.WithJSONSet("language", language))
	}

	log.Infof(
		"speech_request model=%q voice=%q format=%q language=%q chars=%d",
		modelName,
		voice,
		format,
		primaryLanguageSubtag(g.opts.Language),
		len(input),
	)

	response, err := g.client.Audio.Speech.New(ctx, params, requestOpts...)
	if err != nil {
		log.Errorf("error: %v", err)
		return nil, meta, utils.WrapIfNotNil(err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	audio, err := io.ReadAll(response.Body)
	if err != nil {
		log.Errorf("error: %v", err)
		return nil, meta, utils.WrapIfNotNil(err)
	}
	if len(audio) == 0 {
		err = errors.New("speech response is empty")
		log.Errorf("error: %v", err)
		return nil, meta, utils.WrapIfNotNil(err)
	}

	applySpeechMetadata(meta, voice, string(format), len(audio))
	return audio, meta, nil
}

func newAPIClient(opts model.SpeechOptions) openai.Client {
	baseURL := strings.TrimSpace(opts.URL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	token := strings.TrimSpace(opts.AuthToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("LEMONFOX_KEY"))
	}

	requestOpts := make([]option.RequestOption, 0, 2)
	requestOpts = append(requestOpts, option.WithBaseURL(baseURL))
	if token != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(token))
	}

	return openai.NewClient(requestOpts...)
}

func resolveSpeechModelName(opts model.SpeechOptions) string {
	modelName := strings.TrimSpace(opts.Model)
	if modelName != "" {
		return modelName
	}
	return defaultSpeechModelName
}

func resolveVoiceName(opts model.SpeechOptions) string {
	voice := strings.TrimSpace(opts.Voice)
	if voice != "" {
		return voice
	}
	return defaultVoiceName
}

func resolveSpeechResponseFormat(format string) (openai.AudioSpeechNewParamsResponseFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "mp3":
		return openai.AudioSpeechNewParamsResponseFormatMP3, nil
	case "wav":
		return openai.AudioSpeechNewParamsResponseFormatWAV, nil
	case "opus":
		return openai.AudioSpeechNewParamsResponseFormatOpus, nil
	case "aac":
		return openai.AudioSpeechNewParamsResponseFormatAAC, nil
	case "flac":
		return openai.AudioSpeechNewParamsResponseFormatFLAC, nil
	case "pcm":
		return openai.AudioSpeechNewParamsResponseFormatPCM, nil
	default:
		return "", errors.New("unsupported speech format: " + format)
	}
}

// primaryLanguageSubtag reduces a BCP 47 tag to the code the API
// accepts, "en-US" becomes "en".
func primaryLanguageSubtag(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return ""
	}

	if idx := strings.IndexAny(language, "-_"); idx > 0 {
		language = language[:idx]
	}
	return strings.ToLower(language)
}

func initMetadata(modelName string) model.GenerationMetadata {
	if strings.TrimSpace(modelName) == "" {
		modelName = "unknown"
	}

	return model.GenerationMetadata{
		model.MetadataKeyProvider: providerName,
		model.MetadataKeyModel:    modelName,
	}
}

func setLatencyMetadata(meta model.GenerationMetadata, start time.Time) {
	if meta == nil {
		return
	}
	meta[model.MetadataKeyLatencyMs] = strconv.FormatInt(time.Since(start).Milliseconds(), 10)
}

func applySpeechMetadata(meta model.GenerationMetadata, voice string, format string, audioBytes int) {
	if meta == nil {
		return
	}

	meta[model.MetadataKeyVoice] = voice
	meta[model.MetadataKeyAudioFormat] = format
	meta[model.MetadataKeyAudioBytes] = strconv.Itoa(audioBytes)
}
