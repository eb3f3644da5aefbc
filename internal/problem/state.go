package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mind-engage/capa-engine/internal/capa"
)

// ShowAnswer is the declarative policy gating when the authoritative
// answer may be shown.
type ShowAnswer string

const (
	ShowAnswerAlways           ShowAnswer = "always"
	ShowAnswerAnswered         ShowAnswer = "answered"
	ShowAnswerAttempted        ShowAnswer = "attempted"
	ShowAnswerClosed           ShowAnswer = "closed"
	ShowAnswerFinished         ShowAnswer = "finished"
	ShowAnswerCorrectOrPastDue ShowAnswer = "correct_or_past_due"
	ShowAnswerPastDue          ShowAnswer = "past_due"
	ShowAnswerNever            ShowAnswer = "never"
)

// Settings are the authored, per-problem configuration knobs.
type Settings struct {
	DisplayName           string
	MaxAttempts           *int // nil means unlimited
	Due                   *time.Time
	GracePeriod           *time.Duration
	ShowAnswer            ShowAnswer
	ForceSaveButton       bool
	ShowResetButton       *bool // nil means platform default
	Rerandomize           capa.Rerandomize
	SubmissionWaitSeconds int
	Weight                *float64 // nil means per-input unit weighting
}

// DefaultDisplayName matches the authoring default for a bare problem.
const DefaultDisplayName = "Blank Advanced Problem"

// settingsJSON is the stored form of Settings.
type settingsJSON struct {
	DisplayName           string   `json:"display_name,omitempty"`
	MaxAttempts           *int     `json:"max_attempts,omitempty"`
	Due                   *string  `json:"due,omitempty"`         // RFC 3339
	GracePeriod           *string  `json:"graceperiod,omitempty"` // Go duration
	ShowAnswer            string   `json:"showanswer,omitempty"`
	ForceSaveButton       bool     `json:"force_save_button,omitempty"`
	ShowResetButton       *bool    `json:"show_reset_button,omitempty"`
	Rerandomize           *string  `json:"rerandomize,omitempty"`
	SubmissionWaitSeconds int      `json:"submission_wait_seconds,omitempty"`
	Weight                *float64 `json:"weight,omitempty"`
}

// ParseSettings decodes stored settings JSON, applying defaults and the
// legacy rerandomize coercions.
func ParseSettings(raw []byte, log *slog.Logger) (Settings, error) {
	var sj settingsJSON
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sj); err != nil {
			return Settings{}, fmt.Errorf("bad problem settings: %w", err)
		}
	}
	s := Settings{
		DisplayName:           sj.DisplayName,
		MaxAttempts:           sj.MaxAttempts,
		ForceSaveButton:       sj.ForceSaveButton,
		ShowResetButton:       sj.ShowResetButton,
		SubmissionWaitSeconds: sj.SubmissionWaitSeconds,
		Weight:                sj.Weight,
	}
	if s.DisplayName == "" {
		s.DisplayName = DefaultDisplayName
	}
	if s.SubmissionWaitSeconds < 0 {
		return Settings{}, fmt.Errorf("submission_wait_seconds must be >= 0, got %d", s.SubmissionWaitSeconds)
	}
	if s.MaxAttempts != nil && *s.MaxAttempts < 0 {
		return Settings{}, fmt.Errorf("max_attempts must be >= 0, got %d", *s.MaxAttempts)
	}
	if s.Weight != nil && *s.Weight < 0 {
		return Settings{}, fmt.Errorf("weight must be >= 0, got %v", *s.Weight)
	}
	if sj.Due != nil {
		t, err := time.Parse(time.RFC3339, *sj.Due)
		if err != nil {
			return Settings{}, fmt.Errorf("bad due date %q: %w", *sj.Due, err)
		}
		s.Due = &t
	}
	if sj.GracePeriod != nil {
		d, err := time.ParseDuration(*sj.GracePeriod)
		if err != nil {
			return Settings{}, fmt.Errorf("bad graceperiod %q: %w", *sj.GracePeriod, err)
		}
		s.GracePeriod = &d
	}
	s.ShowAnswer = ShowAnswer(sj.ShowAnswer)
	if s.ShowAnswer == "" {
		s.ShowAnswer = ShowAnswerFinished
	}
	if sj.Rerandomize == nil {
		s.Rerandomize = capa.RerandomizeNever
	} else {
		s.Rerandomize = coerceRerandomize(*sj.Rerandomize, log)
	}
	return s, nil
}

// coerceRerandomize maps legacy spellings onto the current enum. An empty
// string set explicitly means the historical TRUE, i.e. always. The
// historical "false" -> per_student mapping is surprising but load-bearing
// for old content, so it is kept and logged.
func coerceRerandomize(v string, log *slog.Logger) capa.Rerandomize {
	switch v {
	case "", "true", "always":
		return capa.RerandomizeAlways
	case "false":
		if log != nil {
			log.Warn("legacy rerandomize value coerced", "value", "false", "coerced_to", "per_student")
		}
		return capa.RerandomizePerStudent
	case "onreset", "on_reset":
		return capa.RerandomizeOnReset
	case "never":
		return capa.RerandomizeNever
	case "per_student":
		return capa.RerandomizePerStudent
	default:
		if log != nil {
			log.Warn("unknown rerandomize value, defaulting to never", "value", v)
		}
		return capa.RerandomizeNever
	}
}

// State is the persistence envelope the module owns for one learner.
type State struct {
	Attempts           int                       `json:"attempts"`
	Done               bool                      `json:"done"`
	Seed               *int                      `json:"seed,omitempty"`
	LastSubmissionTime *time.Time                `json:"last_submission_time,omitempty"`
	StudentAnswers     map[string]any            `json:"student_answers,omitempty"`
	CorrectMap         capa.CorrectMap           `json:"correct_map,omitempty"`
	InputState         map[string]map[string]any `json:"input_state,omitempty"`
}

// instanceState projects the envelope into the instance layer's snapshot.
func (s *State) instanceState(seed int) capa.InstanceState {
	return capa.InstanceState{
		Done:           s.Done,
		Seed:           seed,
		StudentAnswers: s.StudentAnswers,
		CorrectMap:     s.CorrectMap,
		InputState:     s.InputState,
	}
}
