package problem

import (
	"regexp"
	"time"

	"github.com/mind-engage/capa-engine/internal/capa"
)

// closeDate derives the effective deadline: due + graceperiod when both
// are set, else whichever exists.
func (s *Settings) closeDate() *time.Time {
	if s.Due == nil {
		return nil
	}
	t := *s.Due
	if s.GracePeriod != nil {
		t = t.Add(*s.GracePeriod)
	}
	return &t
}

// isPastDue reports whether now is past the effective deadline.
func (m *Module) isPastDue() bool {
	return m.closeDate != nil && m.rt.now().After(*m.closeDate)
}

// attemptsExhausted reports whether the attempt budget is used up.
// Unlimited when max_attempts is nil.
func (m *Module) attemptsExhausted() bool {
	return m.Settings.MaxAttempts != nil && m.State.Attempts >= *m.Settings.MaxAttempts
}

// closed: past due (after grace) or out of attempts.
func (m *Module) closed() bool {
	return m.isPastDue() || m.attemptsExhausted()
}

// isSurvey: max_attempts == 0 marks an ungraded survey problem; several
// gates relax for it.
func (m *Module) isSurvey() bool {
	return m.Settings.MaxAttempts != nil && *m.Settings.MaxAttempts == 0
}

func (m *Module) isRandomized() bool {
	return m.Settings.Rerandomize == capa.RerandomizeAlways ||
		m.Settings.Rerandomize == capa.RerandomizeOnReset
}

// awaitingReset: a submitted always-rerandomized problem must be reset
// before the next submit.
func (m *Module) awaitingReset() bool {
	return m.State.Done && m.Settings.Rerandomize == capa.RerandomizeAlways
}

// AnswerAvailable evaluates the showanswer policy; first match wins.
func (m *Module) AnswerAvailable() bool {
	sa := m.Settings.ShowAnswer
	if sa == ShowAnswerNever || sa == "" {
		return false
	}
	if m.rt.IsStaff {
		return true
	}
	switch sa {
	case ShowAnswerAttempted:
		return m.State.Attempts > 0
	case ShowAnswerAnswered:
		return m.State.Done
	case ShowAnswerClosed:
		return m.closed()
	case ShowAnswerFinished:
		return m.closed() || m.lcp.AllCorrect()
	case ShowAnswerCorrectOrPastDue:
		return m.lcp.AllCorrect() || m.isPastDue()
	case ShowAnswerPastDue:
		return m.isPastDue()
	case ShowAnswerAlways:
		return true
	default:
		return false
	}
}

// SubmitEnabled: unless closed, or submitted and awaiting rerandomization.
func (m *Module) SubmitEnabled() bool {
	return !(m.closed() || m.awaitingReset())
}

// ShouldShowResetButton applies the reset-visibility rules.
func (m *Module) ShouldShowResetButton() bool {
	if m.closed() && !m.isSurvey() {
		return false
	}
	if m.State.Done && m.isRandomized() {
		return true
	}
	return !m.lcp.AllCorrect() && m.showResetSetting()
}

func (m *Module) showResetSetting() bool {
	if m.Settings.ShowResetButton != nil {
		return *m.Settings.ShowResetButton
	}
	return m.rt.DefaultShowResetButton
}

// ShouldShowSaveButton applies the save-visibility rules. With unlimited
// attempts and no forced rerandomization the submit button has no
// consequences, so save adds nothing.
func (m *Module) ShouldShowSaveButton() bool {
	if m.Settings.ForceSaveButton {
		return !m.closed()
	}
	if m.Settings.MaxAttempts == nil && m.Settings.Rerandomize != capa.RerandomizeAlways {
		return false
	}
	if m.closed() && !m.isSurvey() {
		return false
	}
	return !m.awaitingReset()
}

// strippedTags are pedagogical-only markup removed from rendered HTML
// before it leaves the engine. solution covers stanzas nested inside
// passthrough markup; the parser already captures top-level ones.
var strippedTags = []string{
	"demandhint", "choicehint", "optionhint", "stringhint", "numerichint",
	"correcthint", "regexphint", "additional_answer", "stringequalhint",
	"compoundhint", "solution",
}

var stripRes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, 2*len(strippedTags))
	for _, tag := range strippedTags {
		out = append(out,
			regexp.MustCompile(`(?s)<`+tag+`(\s[^>]*)?>.*?</`+tag+`>`),
			regexp.MustCompile(`<`+tag+`(\s[^>]*)?/>`),
		)
	}
	return out
}()

// stripPedagogicalTags removes hint markup and its contents.
func stripPedagogicalTags(html string) string {
	for _, re := range stripRes {
		html = re.ReplaceAllString(html, "")
	}
	return html
}
