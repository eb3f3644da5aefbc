package capa

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

// InstanceState is the serializable slice of a Problem that persists
// between requests.
type InstanceState struct {
	Done           bool                      `json:"done"`
	Seed           int                       `json:"seed"`
	StudentAnswers map[string]any            `json:"student_answers"`
	CorrectMap     CorrectMap                `json:"correct_map"`
	InputState     map[string]map[string]any `json:"input_state"`
}

// Problem is the transient per-learner runtime built from a definition
// plus a state snapshot. All operations are in-memory; callers own
// persistence and queue I/O.
type Problem struct {
	Def *Definition

	Done           bool
	Seed           int
	StudentAnswers map[string]any
	CorrectMap     CorrectMap
	InputState     map[string]map[string]any

	// pendingQueue accumulates external-grader submissions produced by the
	// latest grading pass.
	pendingQueue []QueueRequest
}

// NewProblem builds a Problem from a definition and a state snapshot.
// State keys not declared by the definition are dropped, keeping the
// subset invariant.
func NewProblem(def *Definition, state InstanceState) *Problem {
	p := &Problem{
		Def:            def,
		Done:           state.Done,
		Seed:           def.Seed,
		StudentAnswers: map[string]any{},
		CorrectMap:     NewCorrectMap(),
		InputState:     map[string]map[string]any{},
	}
	for id, v := range state.StudentAnswers {
		if def.HasInput(id) {
			p.StudentAnswers[id] = v
		}
	}
	for _, id := range state.CorrectMap.IDs() {
		if def.HasInput(id) {
			e, _ := state.CorrectMap.Get(id)
			p.CorrectMap.Set(id, e)
		}
	}
	for id, st := range state.InputState {
		if def.HasInput(id) {
			p.InputState[id] = st
		}
	}
	// every declared input gets an input-state slot
	for _, f := range def.Inputs {
		if _, ok := p.InputState[f.ID]; !ok {
			p.InputState[f.ID] = map[string]any{}
		}
	}
	return p
}

// GetState snapshots the serializable envelope.
func (p *Problem) GetState() InstanceState {
	return InstanceState{
		Done:           p.Done,
		Seed:           p.Seed,
		StudentAnswers: p.StudentAnswers,
		CorrectMap:     p.CorrectMap,
		InputState:     p.InputState,
	}
}

// GetHTML renders the problem with current per-input state.
func (p *Problem) GetHTML() string {
	var b strings.Builder
	for _, n := range p.Def.nodes {
		if n.inputID == "" {
			b.WriteString(n.raw)
			continue
		}
		f, ok := p.Def.InputByID(n.inputID)
		if !ok {
			continue
		}
		entry, _ := p.CorrectMap.Get(n.inputID)
		b.WriteString(f.RenderHTML(p.StudentAnswers[n.inputID], entry, p.Done))
	}
	return b.String()
}

// GradeAnswers records answers and runs every responder, replacing the
// correct map. Sets done. Queue submissions produced by externally graded
// responses are retrievable via PendingQueueRequests.
func (p *Problem) GradeAnswers(answers map[string]any, now time.Time, newQueueKey func() string) (CorrectMap, error) {
	for id, v := range answers {
		if p.Def.HasInput(id) {
			p.StudentAnswers[id] = v
		}
	}
	cmap, queued, err := p.gradeStored(now, newQueueKey)
	if err != nil {
		return cmap, err
	}
	p.CorrectMap = cmap
	p.pendingQueue = queued
	p.Done = true
	return cmap, nil
}

// RescoreExistingAnswers re-grades the stored answers without touching
// them. Requires a completed problem and a rescorable definition.
func (p *Problem) RescoreExistingAnswers(now time.Time) (CorrectMap, error) {
	if !p.Done {
		return NewCorrectMap(), &ProblemError{Msg: "cannot rescore: problem has not been answered"}
	}
	if !p.Def.SupportsRescore() {
		return NewCorrectMap(), &ProblemError{Msg: "problem definition does not support rescoring"}
	}
	cmap, _, err := p.gradeStored(now, nil)
	if err != nil {
		return cmap, err
	}
	p.CorrectMap = cmap
	return cmap, nil
}

func (p *Problem) gradeStored(now time.Time, newQueueKey func() string) (CorrectMap, []QueueRequest, error) {
	gctx := &GradeContext{Now: now, NewQueueKey: newQueueKey}
	cmap := NewCorrectMap()
	for _, r := range p.Def.Responders {
		rmap, err := r.Grade(p.StudentAnswers, gctx)
		if err != nil {
			return cmap, nil, err
		}
		cmap.Update(rmap)
	}
	return cmap, gctx.QueueRequests, nil
}

// PendingQueueRequests returns and clears submissions the latest grading
// pass produced for the external queue.
func (p *Problem) PendingQueueRequests() []QueueRequest {
	q := p.pendingQueue
	p.pendingQueue = nil
	return q
}

// GraderMessage is the payload an external grader posts back.
type GraderMessage struct {
	Correct bool    `json:"correct"`
	Score   float64 `json:"score"`
	Msg     string  `json:"msg"`
}

// UpdateScore merges an asynchronous grader result into the correct map,
// provided queuekey matches a pending slot. A stale or repeated key is
// reported as no-op (false).
func (p *Problem) UpdateScore(message []byte, queueKey string) (bool, error) {
	var gm GraderMessage
	if err := json.Unmarshal(message, &gm); err != nil {
		return false, fmt.Errorf("bad grader message: %w", err)
	}
	for _, id := range p.CorrectMap.IDs() {
		if !p.CorrectMap.MatchesQueueKey(id, queueKey) {
			continue
		}
		corr := Incorrect
		if gm.Correct {
			corr = Correct
		}
		npoints := gm.Score
		p.CorrectMap.Set(id, CorrectMapEntry{
			Correctness: corr,
			NPoints:     &npoints,
			Msg:         gm.Msg,
		})
		return true, nil
	}
	return false, nil
}

// UngradedResponse stores grader feedback for a pending input without
// changing its score, keeping the queue slot open.
func (p *Problem) UngradedResponse(message []byte, queueKey string) (bool, error) {
	var gm GraderMessage
	if err := json.Unmarshal(message, &gm); err != nil {
		return false, fmt.Errorf("bad grader message: %w", err)
	}
	for _, id := range p.CorrectMap.IDs() {
		if !p.CorrectMap.MatchesQueueKey(id, queueKey) {
			continue
		}
		e, _ := p.CorrectMap.Get(id)
		e.Msg = gm.Msg
		p.CorrectMap.Set(id, e)
		return true, nil
	}
	return false, nil
}

// IsQueued reports whether any input awaits an external grader.
func (p *Problem) IsQueued() bool { return p.CorrectMap.IsQueued() }

// RecentmostQueueTime is the newest pending queue timestamp.
func (p *Problem) RecentmostQueueTime() time.Time { return p.CorrectMap.RecentmostQueueTime() }

// GetScore sums awarded points over every declared answer id.
func (p *Problem) GetScore() (score, total float64) {
	for _, r := range p.Def.Responders {
		for _, id := range r.AnswerIDs() {
			total++
			if p.CorrectMap.Has(id) {
				score += p.CorrectMap.GetNPoints(id)
			}
		}
	}
	return score, total
}

// GetMaxScore is the number of declared answer ids, one point each.
func (p *Problem) GetMaxScore() float64 {
	var total float64
	for _, r := range p.Def.Responders {
		total += float64(len(r.AnswerIDs()))
	}
	return total
}

// AllCorrect reports whether every graded input is (at least partially)
// correct. An empty correct map is never all-correct.
func (p *Problem) AllCorrect() bool {
	if p.CorrectMap.Len() == 0 {
		return false
	}
	for _, id := range p.CorrectMap.IDs() {
		if !p.CorrectMap.IsCorrect(id) {
			return false
		}
	}
	return true
}

// GetQuestionAnswers collects show-answer HTML for every answer id,
// including solution texts.
func (p *Problem) GetQuestionAnswers() map[string]string {
	out := map[string]string{}
	for _, r := range p.Def.Responders {
		for id, a := range r.ExplicitAnswers() {
			out[id] = a
		}
	}
	for key, sol := range p.Def.Solutions {
		out[key] = sol
	}
	return out
}

// HandleInputAjax delegates an ajax call to the owning input type and
// returns its response dict.
func (p *Problem) HandleInputAjax(inputID, dispatch string, data map[string]any) (map[string]any, error) {
	f, ok := p.Def.InputByID(inputID)
	if !ok {
		return nil, &ProblemError{Msg: fmt.Sprintf("unknown input %q", inputID)}
	}
	st := p.InputState[inputID]
	if st == nil {
		st = map[string]any{}
		p.InputState[inputID] = st
	}
	return f.HandleAJAX(dispatch, data, st)
}

// CorruptionReport lists the student answers salvaged from an unreadable
// state envelope, excluding dynamath scratchpad entries. The caller embeds
// the result in its recovery warning.
func CorruptionReport(answers map[string]any) string {
	var parts []string
	for id, v := range answers {
		if strings.Contains(id, "dynamath") {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", id, v))
	}
	return html.EscapeString(strings.Join(parts, ", "))
}
