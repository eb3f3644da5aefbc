package capa

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GradeContext carries the per-call collaborators a grading pass needs.
// Responders that submit to an external grader append to QueueRequests; the
// caller is responsible for actually sending them.
type GradeContext struct {
	Now           time.Time
	NewQueueKey   func() string
	QueueRequests []QueueRequest
}

// QueueRequest is a pending submission to the external grading queue.
type QueueRequest struct {
	InputID   string
	QueueName string
	QueueKey  string
	Body      string // JSON payload for the grader
}

// Responder grades the inputs of one response element. Implementations are
// the closed set of supported response tags.
type Responder interface {
	Tag() string
	AnswerIDs() []string
	// Grade validates and scores the learner values for this responder's
	// inputs. Missing values grade as incorrect, not as errors.
	Grade(answers map[string]any, gctx *GradeContext) (CorrectMap, error)
	// ExplicitAnswers returns show-answer HTML keyed by answer id.
	ExplicitAnswers() map[string]string
	SupportsRescore() bool

	// Permutation capabilities, used for event unmasking.
	HasShuffle() bool
	HasAnswerPool() bool
	HasMask() bool
	UnmaskName(name string) string
	UnmaskOrder() []string
}

// baseResponder supplies the no-permutation defaults.
type baseResponder struct {
	tag       string
	answerIDs []string
}

func (b *baseResponder) Tag() string              { return b.tag }
func (b *baseResponder) AnswerIDs() []string      { return b.answerIDs }
func (b *baseResponder) SupportsRescore() bool    { return true }
func (b *baseResponder) HasShuffle() bool         { return false }
func (b *baseResponder) HasAnswerPool() bool      { return false }
func (b *baseResponder) HasMask() bool            { return false }
func (b *baseResponder) UnmaskName(n string) string { return n }
func (b *baseResponder) UnmaskOrder() []string    { return nil }

func answerString(answers map[string]any, id string) (string, bool) {
	v, ok := answers[id]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// --- stringresponse ---

type stringResponder struct {
	baseResponder
	answers         []string // primary + additional_answer
	caseInsensitive bool
	isRegexp        bool
	correctHint     string
}

func (r *stringResponder) Grade(answers map[string]any, _ *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given, _ := answerString(answers, id)
	correct, err := r.matches(given)
	if err != nil {
		return cmap, err
	}
	e := CorrectMapEntry{Correctness: Incorrect}
	if correct {
		e.Correctness = Correct
		e.Msg = r.correctHint
	}
	cmap.Set(id, e)
	return cmap, nil
}

func (r *stringResponder) matches(given string) (bool, error) {
	for _, want := range r.answers {
		if r.isRegexp {
			pat := want
			if r.caseInsensitive {
				pat = "(?i)" + pat
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				return false, &ResponseError{Msg: "invalid answer pattern", Err: err}
			}
			if re.MatchString(given) {
				return true, nil
			}
			continue
		}
		if r.caseInsensitive {
			if strings.EqualFold(strings.TrimSpace(given), strings.TrimSpace(want)) {
				return true, nil
			}
		} else if strings.TrimSpace(given) == strings.TrimSpace(want) {
			return true, nil
		}
	}
	return false, nil
}

func (r *stringResponder) ExplicitAnswers() map[string]string {
	if len(r.answers) == 0 {
		return map[string]string{}
	}
	return map[string]string{r.answerIDs[0]: html.EscapeString(r.answers[0])}
}

// --- numericalresponse ---

type numericalResponder struct {
	baseResponder
	answer    float64
	answerRaw string
	tolerance string // "" | absolute ("0.01") | percentage ("5%")
}

func (r *numericalResponder) Grade(answers map[string]any, _ *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given, ok := answerString(answers, id)
	if !ok || strings.TrimSpace(given) == "" {
		cmap.Set(id, CorrectMapEntry{Correctness: Incorrect})
		return cmap, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(given), 64)
	if err != nil {
		return cmap, &StudentInputError{Msg: fmt.Sprintf("Could not interpret '%s' as a number.", given)}
	}
	e := CorrectMapEntry{Correctness: Incorrect}
	if r.compare(v) {
		e.Correctness = Correct
	}
	cmap.Set(id, e)
	return cmap, nil
}

func (r *numericalResponder) compare(v float64) bool {
	diff := math.Abs(v - r.answer)
	tol := strings.TrimSpace(r.tolerance)
	switch {
	case tol == "":
		// no tolerance declared: exact up to float noise
		return diff <= 1e-12*math.Max(1, math.Abs(r.answer))
	case strings.HasSuffix(tol, "%"):
		pct, err := strconv.ParseFloat(strings.TrimSuffix(tol, "%"), 64)
		if err != nil {
			return false
		}
		return diff <= math.Abs(r.answer)*pct/100
	default:
		abs, err := strconv.ParseFloat(tol, 64)
		if err != nil {
			return false
		}
		return diff <= abs
	}
}

func (r *numericalResponder) ExplicitAnswers() map[string]string {
	return map[string]string{r.answerIDs[0]: html.EscapeString(r.answerRaw)}
}

// --- optionresponse ---

type optionResponder struct {
	baseResponder
	options []string
	correct string
}

func (r *optionResponder) Grade(answers map[string]any, _ *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given, _ := answerString(answers, id)
	e := CorrectMapEntry{Correctness: Incorrect}
	if given != "" && given == r.correct {
		e.Correctness = Correct
	}
	cmap.Set(id, e)
	return cmap, nil
}

func (r *optionResponder) ExplicitAnswers() map[string]string {
	return map[string]string{r.answerIDs[0]: html.EscapeString(r.correct)}
}

// --- multiplechoiceresponse (radio; shuffle / answer-pool / mask) ---

type multipleChoiceResponder struct {
	baseResponder
	choices    []Choice          // display order, possibly masked names
	unmask     map[string]string // masked name -> original name
	shuffled   bool
	answerPool bool
	masked     bool
}

func (r *multipleChoiceResponder) Grade(answers map[string]any, _ *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given, _ := answerString(answers, id)
	e := CorrectMapEntry{Correctness: Incorrect}
	for _, c := range r.choices {
		if c.Name == given && c.Correct {
			e.Correctness = Correct
			break
		}
	}
	cmap.Set(id, e)
	return cmap, nil
}

func (r *multipleChoiceResponder) ExplicitAnswers() map[string]string {
	for _, c := range r.choices {
		if c.Correct {
			return map[string]string{r.answerIDs[0]: c.Text}
		}
	}
	return map[string]string{}
}

func (r *multipleChoiceResponder) HasShuffle() bool    { return r.shuffled }
func (r *multipleChoiceResponder) HasAnswerPool() bool { return r.answerPool }
func (r *multipleChoiceResponder) HasMask() bool       { return r.masked }

func (r *multipleChoiceResponder) UnmaskName(name string) string {
	if orig, ok := r.unmask[name]; ok {
		return orig
	}
	return name
}

// UnmaskOrder reports the as-displayed choice order with original names.
func (r *multipleChoiceResponder) UnmaskOrder() []string {
	out := make([]string, len(r.choices))
	for i, c := range r.choices {
		out[i] = r.UnmaskName(c.Name)
	}
	return out
}

// --- choiceresponse (checkbox, all-or-nothing) ---

type checkboxResponder struct {
	baseResponder
	choices []Choice
}

func (r *checkboxResponder) Grade(answers map[string]any, _ *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given := toStringSlice(answers[id])
	want := map[string]bool{}
	for _, c := range r.choices {
		if c.Correct {
			want[c.Name] = true
		}
	}
	got := map[string]bool{}
	for _, g := range given {
		got[g] = true
	}
	correct := len(got) == len(want)
	if correct {
		for n := range want {
			if !got[n] {
				correct = false
				break
			}
		}
	}
	e := CorrectMapEntry{Correctness: Incorrect}
	if correct {
		e.Correctness = Correct
	}
	cmap.Set(id, e)
	return cmap, nil
}

func (r *checkboxResponder) ExplicitAnswers() map[string]string {
	var texts []string
	for _, c := range r.choices {
		if c.Correct {
			texts = append(texts, c.Text)
		}
	}
	return map[string]string{r.answerIDs[0]: strings.Join(texts, ", ")}
}

// --- coderesponse (external grading queue) ---

type codeResponder struct {
	baseResponder
	queueName     string
	graderPayload string
}

func (r *codeResponder) SupportsRescore() bool { return false }

func (r *codeResponder) Grade(answers map[string]any, gctx *GradeContext) (CorrectMap, error) {
	id := r.answerIDs[0]
	cmap := NewCorrectMap()
	given, _ := answerString(answers, id)
	if gctx == nil || gctx.NewQueueKey == nil {
		return cmap, &ResponseError{Msg: "external grading is not configured"}
	}
	key := gctx.NewQueueKey()
	body, err := json.Marshal(map[string]string{
		"student_response": given,
		"grader_payload":   r.graderPayload,
	})
	if err != nil {
		return cmap, &ResponseError{Msg: "could not encode grader payload", Err: err}
	}
	gctx.QueueRequests = append(gctx.QueueRequests, QueueRequest{
		InputID:   id,
		QueueName: r.queueName,
		QueueKey:  key,
		Body:      string(body),
	})
	cmap.Set(id, CorrectMapEntry{
		Correctness: Incomplete,
		Msg:         "Submitted. As soon as a response is returned, this message will be replaced by that feedback.",
		QueueState:  &QueueState{Key: key, Time: gctx.Now},
	})
	return cmap, nil
}

func (r *codeResponder) ExplicitAnswers() map[string]string { return map[string]string{} }

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
