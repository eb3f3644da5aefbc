// Package problem implements the problem module: the lifecycle owner that
// mediates every learner action against a capa problem instance, enforces
// submission policy, persists the state envelope and emits tracking events.
package problem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/capa-engine/internal/capa"
	"github.com/mind-engage/capa-engine/internal/progress"
	"github.com/mind-engage/capa-engine/internal/track"
	"github.com/mind-engage/capa-engine/internal/xqueue"
)

// Module owns the state envelope of one (learner, problem) pair. It is a
// transient projection: the service rebuilds it from the envelope on each
// request, mutates it in memory and writes it back in one step.
type Module struct {
	rt       *Runtime
	Location string
	Settings Settings
	State    State

	lcp       *capa.Problem
	closeDate *time.Time
	xmlSource []byte

	// events and pendingGrade are buffered until the state write succeeds,
	// so a failed write cannot leave orphaned events.
	events       []track.Event
	pendingGrade *track.GradeRecord

	// set when the stored envelope was unreadable and had to be discarded
	stateReset       bool
	stateResetReport string

	dirty bool
}

// markStateReset flags that the persisted envelope was unreadable and the
// problem restarted fresh. Marks the module dirty so the reset is written
// back, and keeps the salvaged-answer report for the render warning.
func (m *Module) markStateReset(report string) {
	m.stateReset = true
	m.stateResetReport = report
	m.dirty = true
}

// NewModule builds the module for one learner request. The seed is chosen
// here when the envelope has none yet; the choice marks the module dirty so
// the seed is persisted exactly once.
func NewModule(rt *Runtime, location string, problemXML []byte, settings Settings, state State) (*Module, error) {
	m := &Module{
		rt:        rt,
		Location:  location,
		Settings:  settings,
		State:     state,
		closeDate: settings.closeDate(),
		xmlSource: problemXML,
	}

	if m.State.Seed == nil {
		seed := m.chooseSeed()
		m.State.Seed = &seed
		m.dirty = true
	}

	def, err := capa.ParseDefinition(problemXML, location, *m.State.Seed)
	if err != nil {
		if !rt.Debug {
			return nil, fmt.Errorf("problem %s: %w", location, err)
		}
		// debug mode: surrogate a dummy problem that renders the error and
		// keeps the original state recoverable
		def = capa.DummyDefinition(location, *m.State.Seed, err.Error())
	}
	m.lcp = capa.NewProblem(def, m.State.instanceState(*m.State.Seed))
	return m, nil
}

// chooseSeed resolves the seed source: a runtime-injected seed wins only
// when the envelope has never been materialized; otherwise policy decides.
func (m *Module) chooseSeed() int {
	if m.rt.Seed != nil {
		return *m.rt.Seed
	}
	return capa.ChooseSeed(m.Settings.Rerandomize, m.rt.AnonymousSeed, m.Location)
}

// Dirty reports whether the envelope changed and must be written back.
func (m *Module) Dirty() bool { return m.dirty }

// Instance exposes the underlying problem instance; tests and the service
// read from it, mutation stays inside the module.
func (m *Module) Instance() *capa.Problem { return m.lcp }

// syncState mirrors the instance state back into the envelope.
func (m *Module) syncState() {
	ist := m.lcp.GetState()
	m.State.Done = ist.Done
	m.State.StudentAnswers = ist.StudentAnswers
	m.State.CorrectMap = ist.CorrectMap
	m.State.InputState = ist.InputState
	seed := ist.Seed
	m.State.Seed = &seed
	m.dirty = true
}

func (m *Module) emit(typ string, data map[string]any) {
	m.events = append(m.events, track.Event{
		Type:   typ,
		UserID: m.rt.UserID,
		Key:    m.Location,
		Data:   data,
	})
}

func (m *Module) publishGrade(value, max float64) {
	m.pendingGrade = &track.GradeRecord{
		UserID:    m.rt.UserID,
		ProblemID: m.Location,
		Value:     value,
		Max:       max,
	}
}

// FlushEvents publishes the buffered grade and events. The service calls
// this only after a successful state write.
func (m *Module) FlushEvents(ctx context.Context) error {
	if m.pendingGrade != nil && m.rt.Grades != nil {
		g := m.pendingGrade
		if err := m.rt.Grades.PublishGrade(ctx, g.UserID, g.ProblemID, g.Value, g.Max); err != nil {
			return fmt.Errorf("publish grade: %w", err)
		}
		m.pendingGrade = nil
	}
	if m.rt.Tracker != nil {
		for _, e := range m.events {
			if err := m.rt.Tracker.Emit(ctx, e); err != nil {
				return fmt.Errorf("emit %s: %w", e.Type, err)
			}
		}
	}
	m.events = nil
	return nil
}

// stateEventDict is the state snapshot events carry.
func (m *Module) stateEventDict() map[string]any {
	ist := m.lcp.GetState()
	sa := make(map[string]any, len(ist.StudentAnswers))
	for k, v := range ist.StudentAnswers {
		sa[k] = v
	}
	return map[string]any{
		"seed":            ist.Seed,
		"done":            ist.Done,
		"student_answers": sa,
		"correct_map":     ist.CorrectMap.ToDict(),
		"input_state":     ist.InputState,
	}
}

// SubmitResult is the submit operation's payload: the aggregate success
// tag (or a user message) plus the re-rendered problem HTML.
type SubmitResult struct {
	Success  string `json:"success"`
	Contents string `json:"contents"`
}

// SubmitProblem grades a submission. Policy gates run in order: closed,
// needs-reset, queue cooldown, submission cooldown. The first two emit a
// problem_check_fail event and return *NotFoundError; the cooldowns return
// a user message without an event.
func (m *Module) SubmitProblem(ctx context.Context, data url.Values) (*SubmitResult, error) {
	answers, err := MakeDictOfResponses(data)
	if err != nil {
		return nil, err
	}
	eventState := m.stateEventDict()

	if m.closed() {
		m.emit(EventProblemCheckFail, map[string]any{
			"failure": "closed", "state": eventState, "problem_id": m.Location, "answers": answers,
		})
		return nil, &NotFoundError{Msg: m.rt.tr("Problem is closed.")}
	}
	if m.awaitingReset() {
		m.emit(EventProblemCheckFail, map[string]any{
			"failure": "unreset", "state": eventState, "problem_id": m.Location, "answers": answers,
		})
		return nil, &NotFoundError{Msg: m.rt.tr("Problem must be reset before it can be submitted again.")}
	}
	now := m.rt.now()
	if m.rt.Queue != nil && m.lcp.IsQueued() {
		waittime := m.rt.Queue.Waittime()
		if elapsed := now.Sub(m.lcp.RecentmostQueueTime()); elapsed < waittime {
			remaining := int(math.Ceil((waittime - elapsed).Seconds()))
			return &SubmitResult{Success: fmt.Sprintf(
				m.rt.tr("You must wait at least %s between submissions."), humanizeSeconds(remaining))}, nil
		}
	}
	if wait := m.Settings.SubmissionWaitSeconds; wait > 0 && m.State.LastSubmissionTime != nil {
		elapsed := now.Sub(*m.State.LastSubmissionTime)
		if elapsed < time.Duration(wait)*time.Second {
			remaining := int(math.Ceil((time.Duration(wait)*time.Second - elapsed).Seconds()))
			return &SubmitResult{Success: fmt.Sprintf(
				m.rt.tr("You must wait at least %s between submissions. %s remaining."),
				humanizeSeconds(wait), humanizeSeconds(remaining))}, nil
		}
	}

	snapshot := m.lcp.GetState()
	cmap, err := m.lcp.GradeAnswers(answers, now, uuid.NewString)
	if err != nil {
		// learner-input and responder failures keep the saved answers but
		// do not consume an attempt
		m.syncState()
		return &SubmitResult{Success: m.gradeErrorMessage(err)}, nil
	}

	// deliver external-grader submissions before committing the attempt
	if queued := m.lcp.PendingQueueRequests(); len(queued) > 0 {
		if err := m.sendQueueRequests(ctx, queued); err != nil {
			restored := capa.NewProblem(m.lcp.Def, snapshot)
			restored.StudentAnswers = m.lcp.StudentAnswers
			m.lcp = restored
			m.syncState()
			return &SubmitResult{Success: m.rt.tr(
				"Unable to deliver your submission to the grader. Please try again later.")}, nil
		}
	}

	m.State.Attempts++
	m.State.LastSubmissionTime = &now
	m.syncState()

	score, total := m.lcp.GetScore()
	m.publishGrade(score, total)

	success := "incorrect"
	if allEntriesCorrect(cmap) {
		success = "correct"
	}

	eventData := map[string]any{
		"state":       eventState,
		"problem_id":  m.Location,
		"answers":     answers,
		"grade":       score,
		"max_grade":   total,
		"correct_map": cmap.ToDict(),
		"success":     success,
		"attempts":    m.State.Attempts,
		"submission":  m.submissionMetadata(answers, cmap),
	}
	unmaskEvent(m.lcp.Def.Responders, eventData)
	m.emit(EventProblemCheck, eventData)

	return &SubmitResult{Success: success, Contents: m.RenderHTML()}, nil
}

func allEntriesCorrect(cmap capa.CorrectMap) bool {
	if cmap.Len() == 0 {
		return false
	}
	for _, id := range cmap.IDs() {
		if !cmap.IsCorrect(id) {
			return false
		}
	}
	return true
}

func (m *Module) gradeErrorMessage(err error) string {
	var sie *capa.StudentInputError
	msg := m.rt.tr("Error: unable to process your answer.")
	if errors.As(err, &sie) {
		msg = m.rt.tr(sie.Msg)
	}
	if m.rt.IsStaff {
		msg += " [" + err.Error() + "]"
	}
	return msg
}

func (m *Module) sendQueueRequests(ctx context.Context, reqs []capa.QueueRequest) error {
	if m.rt.Queue == nil {
		return fmt.Errorf("no grading queue configured")
	}
	for _, qr := range reqs {
		header := xqueue.Header{
			LmsCallbackURL: fmt.Sprintf("%s/api/xqueue/%s/%s/update",
				strings.TrimSuffix(m.rt.CallbackBaseURL, "/"), m.rt.UserID, url.PathEscape(m.Location)),
			LmsKey:    qr.QueueKey,
			QueueName: qr.QueueName,
		}
		code, qmsg, err := m.rt.Queue.Send(ctx, header, qr.Body)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("queue rejected submission: %s", qmsg)
		}
	}
	return nil
}

// SaveResult is the save operation's payload.
type SaveResult struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	HTML    string `json:"html,omitempty"`
}

// SaveProblem stores the answers without grading. Allowed when not closed
// (survey problems save regardless) and not awaiting reset.
func (m *Module) SaveProblem(data url.Values) (*SaveResult, error) {
	answers, err := MakeDictOfResponses(data)
	if err != nil {
		return nil, err
	}
	eventData := map[string]any{"state": m.stateEventDict(), "problem_id": m.Location, "answers": answers}

	if m.closed() && !m.isSurvey() {
		eventData["failure"] = "closed"
		unmaskEvent(m.lcp.Def.Responders, eventData)
		m.emit(EventSaveFail, eventData)
		return &SaveResult{Success: false, Msg: m.rt.tr("Problem is closed.")}, nil
	}
	if m.awaitingReset() {
		eventData["failure"] = "done"
		unmaskEvent(m.lcp.Def.Responders, eventData)
		m.emit(EventSaveFail, eventData)
		return &SaveResult{Success: false, Msg: m.rt.tr("Problem needs to be reset prior to save.")}, nil
	}

	for id, v := range answers {
		if m.lcp.Def.HasInput(id) {
			m.lcp.StudentAnswers[id] = v
		}
	}
	m.syncState()

	unmaskEvent(m.lcp.Def.Responders, eventData)
	m.emit(EventSaveSuccess, eventData)
	msg := m.rt.tr("Your answers have been saved.")
	if !m.Settings.ForceSaveButton {
		msg = m.rt.tr("Your answers have been saved but not graded. Click 'Submit' to grade them.")
	}
	return &SaveResult{Success: true, Msg: msg}, nil
}

// ResetResult is the reset operation's payload.
type ResetResult struct {
	Success bool   `json:"success"`
	HTML    string `json:"html,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

// ResetProblem clears learner state and, when the policy rerandomizes,
// picks a fresh seed. Requires an open, already-submitted problem. The
// recorded grade is re-published at zero.
func (m *Module) ResetProblem() (*ResetResult, error) {
	// the old mask mapping dies with the reseed, so the snapshot must be
	// unmasked with the pre-reset responders
	oldState := m.stateEventDict()
	if sa, ok := oldState["student_answers"].(map[string]any); ok {
		unmaskAnswerMap(m.lcp.Def.Responders, sa)
	}
	eventData := map[string]any{"old_state": oldState, "problem_id": m.Location}

	if m.closed() {
		eventData["failure"] = "closed"
		m.emit(EventResetProblemFail, eventData)
		return &ResetResult{Success: false, Msg: m.rt.tr("Problem is closed.")}, nil
	}
	if !m.State.Done {
		eventData["failure"] = "not_done"
		m.emit(EventResetProblemFail, eventData)
		return &ResetResult{Success: false, Msg: m.rt.tr("You must submit an answer before you can select Reset.")}, nil
	}

	seed := *m.State.Seed
	if m.isRandomized() {
		seed = capa.ChooseSeed(m.Settings.Rerandomize, m.rt.AnonymousSeed, m.Location)
	}
	def, err := capa.ParseDefinition(m.problemXML(), m.Location, seed)
	if err != nil {
		return nil, fmt.Errorf("problem %s: %w", m.Location, err)
	}
	m.lcp = capa.NewProblem(def, capa.InstanceState{Seed: seed})
	m.State.Done = false
	m.State.Seed = &seed
	m.syncState()

	_, total := m.lcp.GetScore()
	m.publishGrade(0, total)

	eventData["new_state"] = m.stateEventDict()
	unmaskEvent(m.lcp.Def.Responders, eventData)
	m.emit(EventResetProblem, eventData)
	return &ResetResult{Success: true, HTML: m.RenderHTML()}, nil
}

// GetAnswer reveals the answer key when the showanswer policy allows it.
func (m *Module) GetAnswer() (map[string]string, error) {
	if !m.AnswerAvailable() {
		return nil, &NotFoundError{Msg: m.rt.tr("The answer is not available.")}
	}
	answers := m.lcp.GetQuestionAnswers()
	for id, a := range answers {
		answers[id] = m.rt.rewriteHTML(a)
	}
	m.emit(EventShowAnswer, map[string]any{"problem_id": m.Location})
	return answers, nil
}

// HintResult is the demand-hint payload.
type HintResult struct {
	Success              bool   `json:"success"`
	HintIndex            int    `json:"hint_index"`
	ShouldEnableNextHint bool   `json:"should_enable_next_hint"`
	Msg                  string `json:"msg"`
}

// GetDemandHint reveals hints up to the requested index; the index wraps
// modulo the hint count.
func (m *Module) GetDemandHint(hintIndex int) (*HintResult, error) {
	hints := m.lcp.Def.DemandHints
	n := len(hints)
	if n == 0 {
		return nil, &NotFoundError{Msg: m.rt.tr("This problem has no hints.")}
	}
	idx := ((hintIndex % n) + n) % n

	var b strings.Builder
	b.WriteString(`<ol class="hints">`)
	for i := 0; i <= idx; i++ {
		fmt.Fprintf(&b, `<li class="hint-text">%s %s</li>`,
			fmt.Sprintf(m.rt.tr("Hint (%d of %d):"), i+1, n), hints[i])
	}
	b.WriteString(`</ol>`)

	m.emit(EventDemandHint, map[string]any{
		"module_id":  m.Location,
		"hint_index": idx,
		"hint_len":   n,
		"hint_text":  hints[idx],
	})
	return &HintResult{
		Success:              true,
		HintIndex:            idx,
		ShouldEnableNextHint: idx+1 < n,
		Msg:                  b.String(),
	}, nil
}

// UpdateScore merges an external grader result and republishes the grade.
// A queuekey that matches no pending slot is a no-op, which makes repeated
// callbacks idempotent.
func (m *Module) UpdateScore(message []byte, queueKey string) error {
	applied, err := m.lcp.UpdateScore(message, queueKey)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	m.syncState()
	score, total := m.lcp.GetScore()
	m.publishGrade(score, total)
	return nil
}

// HandleUngradedResponse stores grader feedback without changing the
// score.
func (m *Module) HandleUngradedResponse(message []byte, queueKey string) error {
	applied, err := m.lcp.UngradedResponse(message, queueKey)
	if err != nil {
		return err
	}
	if applied {
		m.syncState()
	}
	return nil
}

// RescoreResult is the rescore payload.
type RescoreResult struct {
	Success  string  `json:"success"`
	NewScore float64 `json:"new_score"`
	NewTotal float64 `json:"new_total"`
}

// RescoreProblem re-grades the stored answers against the (possibly
// changed) answer key. Attempts and done are untouched.
func (m *Module) RescoreProblem() (*RescoreResult, error) {
	eventData := map[string]any{"problem_id": m.Location, "state": m.stateEventDict()}
	if !m.lcp.Def.SupportsRescore() {
		eventData["failure"] = "unsupported"
		m.emit(EventProblemRescoreFail, eventData)
		return nil, ErrRescoreUnsupported
	}
	if !m.State.Done {
		eventData["failure"] = "unanswered"
		m.emit(EventProblemRescoreFail, eventData)
		return nil, &NotFoundError{Msg: m.rt.tr("Problem must be answered before it can be graded again.")}
	}

	origScore, origTotal := m.lcp.GetScore()
	cmap, err := m.lcp.RescoreExistingAnswers(m.rt.now())
	if err != nil {
		eventData["failure"] = "grading"
		eventData["error"] = err.Error()
		m.emit(EventProblemRescoreFail, eventData)
		return nil, err
	}
	m.syncState()
	newScore, newTotal := m.lcp.GetScore()
	m.publishGrade(newScore, newTotal)

	success := "incorrect"
	if allEntriesCorrect(cmap) {
		success = "correct"
	}
	eventData["orig_score"] = origScore
	eventData["orig_total"] = origTotal
	eventData["new_score"] = newScore
	eventData["new_total"] = newTotal
	eventData["correct_map"] = cmap.ToDict()
	eventData["success"] = success
	eventData["attempts"] = m.State.Attempts
	unmaskEvent(m.lcp.Def.Responders, eventData)
	m.emit(EventProblemRescore, eventData)

	return &RescoreResult{Success: success, NewScore: newScore, NewTotal: newTotal}, nil
}

// HandleInputAjax passes an input-specific call through to the instance
// and keeps any induced state change.
func (m *Module) HandleInputAjax(inputID, dispatch string, data map[string]any) (map[string]any, error) {
	out, err := m.lcp.HandleInputAjax(inputID, dispatch, data)
	if err != nil {
		return nil, err
	}
	m.syncState()
	return out, nil
}

// GetProgress scales the raw score by the problem weight. A zero weight
// removes the problem from progress; nil weight keeps per-input points.
func (m *Module) GetProgress() (*progress.Progress, error) {
	score, total := m.lcp.GetScore()
	if total <= 0 {
		return nil, nil
	}
	if w := m.Settings.Weight; w != nil {
		if *w == 0 {
			return nil, nil
		}
		score = score * *w / total
		total = *w
	}
	p, err := progress.New(score, total)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RenderHTML renders the problem, strips pedagogical-only markup, applies
// the collaborator URL rewriters and wraps the result in the problem div.
func (m *Module) RenderHTML() string {
	html := m.lcp.GetHTML()
	html = stripPedagogicalTags(html)
	html = m.rt.rewriteHTML(html)
	if m.stateReset {
		html = m.stateResetWarning() + html
	}
	return fmt.Sprintf(`<div id="problem_%s" class="problem" data-url="%s">%s</div>`,
		htmlID(m.Location), m.Location, html)
}

// stateResetWarning is the inline notice shown after an unreadable
// envelope forced a restart, listing whatever answers could be salvaged.
func (m *Module) stateResetWarning() string {
	var b strings.Builder
	b.WriteString(`<div class="capa_reset"><h3>`)
	b.WriteString(m.rt.tr("Warning: The problem has been reset to its initial state."))
	b.WriteString(`</h3><p>`)
	b.WriteString(m.rt.tr("The problem's previous state could not be read."))
	b.WriteString(`</p>`)
	if m.stateResetReport != "" {
		fmt.Fprintf(&b, `<p>%s %s</p>`, m.rt.tr("Your answers were:"), m.stateResetReport)
	}
	b.WriteString(`</div>`)
	return b.String()
}

// RenderResult is the render payload: HTML plus the button state the
// frontend needs.
type RenderResult struct {
	HTML            string `json:"html"`
	DisplayName     string `json:"display_name"`
	Attempts        int    `json:"attempts"`
	MaxAttempts     *int   `json:"max_attempts,omitempty"`
	SubmitEnabled   bool   `json:"submit_enabled"`
	ShowSaveButton  bool   `json:"show_save_button"`
	ShowResetButton bool   `json:"show_reset_button"`
	AnswerAvailable bool   `json:"answer_available"`
	DemandHints     int    `json:"demand_hints"`
	Progress        string `json:"progress,omitempty"`
}

// Render builds the full render payload.
func (m *Module) Render() *RenderResult {
	rr := &RenderResult{
		HTML:            m.RenderHTML(),
		DisplayName:     m.Settings.DisplayName,
		Attempts:        m.State.Attempts,
		MaxAttempts:     m.Settings.MaxAttempts,
		SubmitEnabled:   m.SubmitEnabled(),
		ShowSaveButton:  m.ShouldShowSaveButton(),
		ShowResetButton: m.ShouldShowResetButton(),
		AnswerAvailable: m.AnswerAvailable(),
		DemandHints:     len(m.lcp.Def.DemandHints),
	}
	if p, err := m.GetProgress(); err == nil && p != nil {
		rr.Progress = p.String()
	}
	return rr
}

func (m *Module) problemXML() []byte { return m.xmlSource }

func htmlID(location string) string {
	return nonAlnum.ReplaceAllString(location, "_")
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// humanizeSeconds renders a second count the way learners read it:
// "30 seconds", "1 minute", "1 minute and 30 seconds".
func humanizeSeconds(n int) string {
	minutes, seconds := n/60, n%60
	var parts []string
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || minutes == 0 {
		parts = append(parts, plural(seconds, "second"))
	}
	return strings.Join(parts, " and ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
