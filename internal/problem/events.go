package problem

import (
	"strconv"

	"github.com/mind-engage/capa-engine/internal/capa"
)

// Event names the engine emits. The list is closed; nothing else reaches
// the tracker.
const (
	EventProblemCheck       = "problem_check"
	EventProblemCheckFail   = "problem_check_fail"
	EventProblemRescore     = "problem_rescore"
	EventProblemRescoreFail = "problem_rescore_fail"
	EventSaveSuccess        = "save_problem_success"
	EventSaveFail           = "save_problem_fail"
	EventResetProblem       = "reset_problem"
	EventResetProblemFail   = "reset_problem_fail"
	EventShowAnswer         = "showanswer"
	EventDemandHint         = "edx.problem.hint.demandhint_displayed"
)

// unmaskValue maps masked choice names back to their originals in a single
// answer value (string or list).
func unmaskValue(r capa.Responder, v any) any {
	switch t := v.(type) {
	case string:
		return r.UnmaskName(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = r.UnmaskName(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			if s, ok := e.(string); ok {
				out[i] = r.UnmaskName(s)
			} else {
				out[i] = e
			}
		}
		return out
	default:
		return v
	}
}

// unmaskAnswerMap rewrites the values of one answers subtree in place.
func unmaskAnswerMap(responders []capa.Responder, answers map[string]any) {
	for _, r := range responders {
		if !r.HasMask() {
			continue
		}
		for _, id := range r.AnswerIDs() {
			if v, ok := answers[id]; ok {
				answers[id] = unmaskValue(r, v)
			}
		}
	}
}

// unmaskEvent walks every responder and replaces masked choice names in
// the event's answers, state.student_answers and old_state.student_answers
// subtrees; responders with a shuffle or answer-pool permutation get a
// permutation record keyed by input id.
func unmaskEvent(responders []capa.Responder, data map[string]any) {
	if answers, ok := data["answers"].(map[string]any); ok {
		unmaskAnswerMap(responders, answers)
	}
	for _, stateKey := range []string{"state", "old_state", "new_state"} {
		state, ok := data[stateKey].(map[string]any)
		if !ok {
			continue
		}
		if sa, ok := state["student_answers"].(map[string]any); ok {
			unmaskAnswerMap(responders, sa)
		}
	}

	perm := map[string]any{}
	for _, r := range responders {
		mode := ""
		switch {
		case r.HasShuffle():
			mode = "shuffle"
		case r.HasAnswerPool():
			mode = "answerpool"
		default:
			continue
		}
		for _, id := range r.AnswerIDs() {
			perm[id] = []any{mode, r.UnmaskOrder()}
		}
	}
	if len(perm) > 0 {
		data["permutation"] = perm
	}
}

// submissionMetadata builds the per-input submission record: prompt label,
// raw (unmasked) answer, response and input tags, correctness, variant and
// group label.
func (m *Module) submissionMetadata(answers map[string]any, cmap capa.CorrectMap) map[string]any {
	out := map[string]any{}
	for _, r := range m.lcp.Def.Responders {
		for _, id := range r.AnswerIDs() {
			f, ok := m.lcp.Def.InputByID(id)
			if !ok {
				continue
			}
			variant := ""
			if m.Settings.Rerandomize != capa.RerandomizeNever {
				variant = strconv.Itoa(m.lcp.Seed)
			}
			answer := answers[id]
			if r.HasMask() {
				answer = unmaskValue(r, answer)
			}
			entry := map[string]any{
				"question":      f.Label,
				"answer":        answer,
				"response_type": r.Tag(),
				"input_type":    f.Tag,
				"correct":       cmap.IsCorrect(id),
				"variant":       variant,
			}
			if f.GroupLabel != "" {
				entry["group_label"] = f.GroupLabel
			}
			out[id] = entry
		}
	}
	return out
}
