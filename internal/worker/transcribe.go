package worker

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"aer/internal/services"
)

// LanguageAuto lets the worker detect the spoken language.
const LanguageAuto = "auto"

// TranscribeParams mirrors the worker's transcribe parameters. Nil pointers
// leave the worker's own default in place.
type TranscribeParams struct {
	InputPath        string   `json:"input_path"`
	OutputDir        string   `json:"output_dir,omitempty"`
	ModelPath        string   `json:"model_path,omitempty"`
	VADModelPath     string   `json:"vad_model_path,omitempty"`
	WhisperPath      string   `json:"whisper_path,omitempty"`
	FFmpegPath       string   `json:"ffmpeg_path,omitempty"`
	VKICDFilenames   string   `json:"vk_icd_filenames,omitempty"`
	Threads          *int     `json:"threads,omitempty"`
	BeamSize         *int     `json:"beam_size,omitempty"`
	BestOf           *int     `json:"best_of,omitempty"`
	MaxLenChars      *int     `json:"max_len_chars,omitempty"`
	SplitOnWord      *bool    `json:"split_on_word,omitempty"`
	VADThreshold     *float64 `json:"vad_threshold,omitempty"`
	VADMinSpeechMS   *int     `json:"vad_min_speech_ms,omitempty"`
	VADMinSilenceMS  *int     `json:"vad_min_sil_ms,omitempty"`
	VADPadMS         *int     `json:"vad_pad_ms,omitempty"`
	NoSpeechThold    *float64 `json:"no_speech_thold,omitempty"`
	MaxContext       *int     `json:"max_context,omitempty"`
	DedupMergeGapSec *float64 `json:"dedup_merge_gap_sec,omitempty"`
	Translate        *bool    `json:"translate,omitempty"`
	Language         string   `json:"language,omitempty"`
	DryRun           bool     `json:"dry_run,omitempty"`
}

// Normalize trims paths, canonicalizes the language tag, and rejects values
// the worker would refuse.
func (p TranscribeParams) Normalize() (TranscribeParams, error) {
	p.InputPath = strings.TrimSpace(p.InputPath)
	if p.InputPath == "" {
		return p, services.Wrap(services.ErrValidation, "worker", "transcribe", "input_path is required", nil)
	}
	p.OutputDir = strings.TrimSpace(p.OutputDir)
	p.ModelPath = strings.TrimSpace(p.ModelPath)
	p.VADModelPath = strings.TrimSpace(p.VADModelPath)
	p.WhisperPath = strings.TrimSpace(p.WhisperPath)
	p.FFmpegPath = strings.TrimSpace(p.FFmpegPath)
	p.VKICDFilenames = strings.TrimSpace(p.VKICDFilenames)

	lang, err := CanonicalLanguage(p.Language)
	if err != nil {
		return p, err
	}
	p.Language = lang

	for name, v := range map[string]*int{
		"threads":           p.Threads,
		"beam_size":         p.BeamSize,
		"best_of":           p.BestOf,
		"max_len_chars":     p.MaxLenChars,
		"vad_min_speech_ms": p.VADMinSpeechMS,
		"vad_min_sil_ms":    p.VADMinSilenceMS,
		"vad_pad_ms":        p.VADPadMS,
		"max_context":       p.MaxContext,
	} {
		if v != nil && *v < 0 {
			return p, services.Wrap(services.ErrValidation, "worker", "transcribe", fmt.Sprintf("%s must not be negative", name), nil)
		}
	}
	for name, v := range map[string]*float64{
		"vad_threshold":   p.VADThreshold,
		"no_speech_thold": p.NoSpeechThold,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return p, services.Wrap(services.ErrValidation, "worker", "transcribe", fmt.Sprintf("%s must be between 0 and 1", name), nil)
		}
	}
	if p.DedupMergeGapSec != nil && *p.DedupMergeGapSec < 0 {
		return p, services.Wrap(services.ErrValidation, "worker", "transcribe", "dedup_merge_gap_sec must not be negative", nil)
	}
	return p, nil
}

// CanonicalLanguage returns "auto" for an empty or auto value, otherwise the
// canonical BCP-47 form of tag.
func CanonicalLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, LanguageAuto) {
		return LanguageAuto, nil
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "worker", "transcribe", fmt.Sprintf("invalid language %q", tag), err)
	}
	return parsed.String(), nil
}
