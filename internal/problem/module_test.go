package problem_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/capa-engine/internal/capa"
	"github.com/mind-engage/capa-engine/internal/problem"
	"github.com/mind-engage/capa-engine/internal/track"
)

const colorXML = `<problem>
  <p>What color is the sky?</p>
  <stringresponse answer="blue" type="ci">
    <textline/>
  </stringresponse>
  <demandhint>
    <hint>A</hint>
    <hint>B</hint>
  </demandhint>
</problem>`

// fakeClock is a settable clock shared by one test.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T, settings string, opts ...problem.ServiceOption) (*problem.Service, *problem.MemoryStore, *track.MemoryTracker, *fakeClock) {
	t.Helper()
	store := problem.NewMemoryStore()
	tracker := track.NewMemoryTracker()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]problem.ServiceOption{problem.WithClock(clock.now)}, opts...)
	svc := problem.NewService(store, tracker, tracker, opts...)
	if err := svc.UpsertProblem(context.Background(), problem.SourceRecord{
		ID:       "p1",
		XML:      []byte(colorXML),
		Settings: []byte(settings),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return svc, store, tracker, clock
}

func learner() problem.Identity {
	seed := 42
	return problem.Identity{UserID: "u1", AnonymousSeed: &seed}
}

func answerForm(v string) url.Values {
	return url.Values{"input_p1_2_1": {v}}
}

func TestSubmitCorrectAnswer(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"max_attempts": 3}`)
	ctx := context.Background()

	res, err := svc.Submit(ctx, learner(), "p1", answerForm("Blue"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Success != "correct" {
		t.Fatalf("success = %q, want correct", res.Success)
	}
	if !strings.Contains(res.Contents, "problem_p1") {
		t.Fatalf("contents missing problem wrapper: %s", res.Contents)
	}

	checks := tracker.ByType(problem.EventProblemCheck)
	if len(checks) != 1 {
		t.Fatalf("expected 1 problem_check event, got %d", len(checks))
	}
	ev := checks[0]
	if ev.UserID != "u1" || ev.Key != "p1" {
		t.Fatalf("event routing = %s/%s", ev.UserID, ev.Key)
	}
	if ev.Data["attempts"] != 1 {
		t.Fatalf("event attempts = %v", ev.Data["attempts"])
	}
	if ev.Data["grade"] != 1.0 || ev.Data["max_grade"] != 1.0 {
		t.Fatalf("event grade = %v/%v", ev.Data["grade"], ev.Data["max_grade"])
	}

	if len(tracker.Grades) != 1 {
		t.Fatalf("expected 1 grade publication, got %d", len(tracker.Grades))
	}
	g := tracker.Grades[0]
	if g.Value != 1 || g.Max != 1 {
		t.Fatalf("published grade = %v/%v", g.Value, g.Max)
	}

	// State survives a rebuild.
	rr, err := svc.Render(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rr.Attempts != 1 {
		t.Fatalf("persisted attempts = %d", rr.Attempts)
	}
	if rr.Progress != "1/1" {
		t.Fatalf("progress = %q, want 1/1", rr.Progress)
	}
}

func TestSubmitClosedAfterMaxAttempts(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"max_attempts": 1}`)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("green")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if !problem.IsNotFound(err) {
		t.Fatalf("expected not-found denial, got %v", err)
	}
	if err.Error() != "Problem is closed." {
		t.Fatalf("denial message = %q", err.Error())
	}

	fails := tracker.ByType(problem.EventProblemCheckFail)
	if len(fails) != 1 {
		t.Fatalf("expected 1 problem_check_fail, got %d", len(fails))
	}
	if fails[0].Data["failure"] != "closed" {
		t.Fatalf("failure = %v", fails[0].Data["failure"])
	}
}

func TestSubmitPastDue(t *testing.T) {
	svc, _, tracker, clock := newService(t,
		`{"due": "2024-05-01T12:30:00Z", "graceperiod": "10m"}`)
	ctx := context.Background()

	// Inside the grace window submissions still land.
	clock.advance(35 * time.Minute)
	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("blue")); err != nil {
		t.Fatalf("submit inside grace: %v", err)
	}

	clock.advance(10 * time.Minute)
	_, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if !problem.IsNotFound(err) {
		t.Fatalf("expected closed after grace, got %v", err)
	}
	if len(tracker.ByType(problem.EventProblemCheckFail)) != 1 {
		t.Fatalf("expected a fail event")
	}
}

func TestSubmitCooldownMessage(t *testing.T) {
	svc, _, tracker, clock := newService(t, `{"submission_wait_seconds": 60}`)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("red")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	clock.advance(30 * time.Second)
	res, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if err != nil {
		t.Fatalf("cooldown submit: %v", err)
	}
	want := "You must wait at least 1 minute between submissions. 30 seconds remaining."
	if res.Success != want {
		t.Fatalf("cooldown message = %q, want %q", res.Success, want)
	}
	// No attempt consumed, no extra check event.
	if got := len(tracker.ByType(problem.EventProblemCheck)); got != 1 {
		t.Fatalf("check events = %d, want 1", got)
	}

	clock.advance(31 * time.Second)
	res, err = svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if err != nil {
		t.Fatalf("post-cooldown submit: %v", err)
	}
	if res.Success != "correct" {
		t.Fatalf("post-cooldown success = %q", res.Success)
	}
}

func TestRerandomizeAlwaysRequiresReset(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"rerandomize": "always"}`)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("blue")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if !problem.IsNotFound(err) {
		t.Fatalf("expected unreset denial, got %v", err)
	}
	if err.Error() != "Problem must be reset before it can be submitted again." {
		t.Fatalf("denial message = %q", err.Error())
	}
	fails := tracker.ByType(problem.EventProblemCheckFail)
	if len(fails) != 1 || fails[0].Data["failure"] != "unreset" {
		t.Fatalf("unexpected fail events: %+v", fails)
	}

	rres, err := svc.Reset(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !rres.Success {
		t.Fatalf("reset refused: %q", rres.Msg)
	}

	resets := tracker.ByType(problem.EventResetProblem)
	if len(resets) != 1 {
		t.Fatalf("expected 1 reset_problem event, got %d", len(resets))
	}
	if _, ok := resets[0].Data["old_state"]; !ok {
		t.Fatalf("reset event missing old_state")
	}
	if _, ok := resets[0].Data["new_state"]; !ok {
		t.Fatalf("reset event missing new_state")
	}

	// Reset zeroes the published grade.
	last := tracker.Grades[len(tracker.Grades)-1]
	if last.Value != 0 {
		t.Fatalf("grade after reset = %v, want 0", last.Value)
	}

	// And submission works again.
	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("blue")); err != nil {
		t.Fatalf("submit after reset: %v", err)
	}
}

func TestResetRequiresSubmission(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{}`)
	res, err := svc.Reset(context.Background(), learner(), "p1")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.Success {
		t.Fatalf("reset of an unanswered problem must refuse")
	}
	if res.Msg != "You must submit an answer before you can select Reset." {
		t.Fatalf("refusal message = %q", res.Msg)
	}
	fails := tracker.ByType(problem.EventResetProblemFail)
	if len(fails) != 1 || fails[0].Data["failure"] != "not_done" {
		t.Fatalf("unexpected fail events: %+v", fails)
	}
}

func TestSaveProblem(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"max_attempts": 5}`)
	ctx := context.Background()

	res, err := svc.Save(ctx, learner(), "p1", answerForm("blu"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !res.Success {
		t.Fatalf("save refused: %q", res.Msg)
	}
	if res.Msg != "Your answers have been saved but not graded. Click 'Submit' to grade them." {
		t.Fatalf("save message = %q", res.Msg)
	}
	if len(tracker.ByType(problem.EventSaveSuccess)) != 1 {
		t.Fatalf("expected save_problem_success event")
	}

	// Saved answer shows up in the rendered input.
	rr, err := svc.Render(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(rr.HTML, `value="blu"`) {
		t.Fatalf("saved answer not rendered: %s", rr.HTML)
	}
	if rr.Attempts != 0 {
		t.Fatalf("save must not consume attempts; got %d", rr.Attempts)
	}
}

func TestSaveAfterDoneNeedsReset(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"rerandomize": "always"}`)
	ctx := context.Background()
	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("blue")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := svc.Save(ctx, learner(), "p1", answerForm("red"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if res.Success {
		t.Fatalf("save must refuse while awaiting reset")
	}
	fails := tracker.ByType(problem.EventSaveFail)
	if len(fails) != 1 || fails[0].Data["failure"] != "done" {
		t.Fatalf("unexpected fail events: %+v", fails)
	}
}

func TestDemandHintWraps(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{}`)
	ctx := context.Background()

	h, err := svc.Hint(ctx, learner(), "p1", 0)
	if err != nil {
		t.Fatalf("hint: %v", err)
	}
	if !strings.Contains(h.Msg, "Hint (1 of 2): A") {
		t.Fatalf("first hint = %q", h.Msg)
	}
	if strings.Contains(h.Msg, "Hint (2 of 2)") {
		t.Fatalf("first hint leaked the second: %q", h.Msg)
	}
	if !h.ShouldEnableNextHint {
		t.Fatalf("expected next hint available")
	}

	h, err = svc.Hint(ctx, learner(), "p1", 1)
	if err != nil {
		t.Fatalf("hint 1: %v", err)
	}
	if !strings.Contains(h.Msg, "Hint (1 of 2): A") || !strings.Contains(h.Msg, "Hint (2 of 2): B") {
		t.Fatalf("cumulative hints = %q", h.Msg)
	}
	if h.ShouldEnableNextHint {
		t.Fatalf("last hint must disable next")
	}

	// Index wraps modulo the hint count.
	h, err = svc.Hint(ctx, learner(), "p1", 2)
	if err != nil {
		t.Fatalf("hint 2: %v", err)
	}
	if h.HintIndex != 0 {
		t.Fatalf("wrapped index = %d, want 0", h.HintIndex)
	}

	evs := tracker.ByType(problem.EventDemandHint)
	if len(evs) != 3 {
		t.Fatalf("expected 3 demandhint events, got %d", len(evs))
	}
	if evs[0].Data["hint_text"] != "A" || evs[0].Data["hint_len"] != 2 {
		t.Fatalf("hint event data = %+v", evs[0].Data)
	}
}

func TestShowAnswerPolicy(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{"showanswer": "attempted"}`)
	ctx := context.Background()

	_, err := svc.ShowAnswer(ctx, learner(), "p1")
	if !problem.IsNotFound(err) {
		t.Fatalf("expected answer denial before attempt, got %v", err)
	}
	if err.Error() != "The answer is not available." {
		t.Fatalf("denial message = %q", err.Error())
	}

	// Staff sees the answer regardless.
	staff := problem.Identity{UserID: "staff1", IsStaff: true}
	answers, err := svc.ShowAnswer(ctx, staff, "p1")
	if err != nil {
		t.Fatalf("staff show answer: %v", err)
	}
	if answers["p1_2_1"] != "blue" {
		t.Fatalf("staff answer = %q", answers["p1_2_1"])
	}

	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("red")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	answers, err = svc.ShowAnswer(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("show answer after attempt: %v", err)
	}
	if answers["p1_2_1"] != "blue" {
		t.Fatalf("answer = %q", answers["p1_2_1"])
	}
	if len(tracker.ByType(problem.EventShowAnswer)) != 2 {
		t.Fatalf("expected 2 showanswer events")
	}
}

func TestRescoreAfterKeyChange(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{}`)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("azure")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tracker.Grades[len(tracker.Grades)-1].Value != 0 {
		t.Fatalf("expected zero grade for wrong answer")
	}

	// Author fixes the key to accept azure as well.
	fixed := strings.Replace(colorXML, `answer="blue"`, `answer="azure"`, 1)
	if err := svc.UpsertProblem(ctx, problem.SourceRecord{ID: "p1", XML: []byte(fixed), Settings: []byte(`{}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res, err := svc.Rescore(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if res.Success != "correct" || res.NewScore != 1 || res.NewTotal != 1 {
		t.Fatalf("rescore result = %+v", res)
	}

	evs := tracker.ByType(problem.EventProblemRescore)
	if len(evs) != 1 {
		t.Fatalf("expected 1 problem_rescore event, got %d", len(evs))
	}
	if evs[0].Data["orig_score"] != 0.0 || evs[0].Data["new_score"] != 1.0 {
		t.Fatalf("rescore event = %+v", evs[0].Data)
	}

	last := tracker.Grades[len(tracker.Grades)-1]
	if last.Value != 1 {
		t.Fatalf("republished grade = %v", last.Value)
	}
}

func TestRescoreUnanswered(t *testing.T) {
	svc, _, tracker, _ := newService(t, `{}`)
	_, err := svc.Rescore(context.Background(), learner(), "p1")
	if !problem.IsNotFound(err) {
		t.Fatalf("expected denial, got %v", err)
	}
	fails := tracker.ByType(problem.EventProblemRescoreFail)
	if len(fails) != 1 || fails[0].Data["failure"] != "unanswered" {
		t.Fatalf("unexpected fail events: %+v", fails)
	}
}

func TestPerStudentSeedStableAcrossRequests(t *testing.T) {
	svc, store, _, _ := newService(t, `{"rerandomize": "per_student"}`)
	ctx := context.Background()

	if _, err := svc.Render(ctx, learner(), "p1"); err != nil {
		t.Fatalf("render: %v", err)
	}
	st1, ok, err := store.GetState(ctx, "u1", "p1")
	if err != nil || !ok {
		t.Fatalf("state not materialized: ok=%v err=%v", ok, err)
	}
	if st1.Seed == nil {
		t.Fatalf("seed not persisted")
	}

	if _, err := svc.Render(ctx, learner(), "p1"); err != nil {
		t.Fatalf("second render: %v", err)
	}
	st2, _, _ := store.GetState(ctx, "u1", "p1")
	if *st1.Seed != *st2.Seed {
		t.Fatalf("seed drifted: %d vs %d", *st1.Seed, *st2.Seed)
	}
}

func TestDeleteStateRequiresStaff(t *testing.T) {
	svc, store, _, _ := newService(t, `{}`)
	ctx := context.Background()
	if _, err := svc.Submit(ctx, learner(), "p1", answerForm("blue")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := svc.DeleteState(ctx, learner(), "u1", "p1"); err == nil {
		t.Fatalf("non-staff delete must be denied")
	}

	staff := problem.Identity{UserID: "staff1", IsStaff: true}
	if err := svc.DeleteState(ctx, staff, "u1", "p1"); err != nil {
		t.Fatalf("staff delete: %v", err)
	}
	_, ok, err := store.GetState(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if ok {
		t.Fatalf("state should be gone")
	}
}

// failingStore forces PutState to fail so the event-buffering contract is
// observable: no state write, no events.
type failingStore struct {
	*problem.MemoryStore
}

func (f *failingStore) PutState(context.Context, string, string, problem.State) error {
	return fmt.Errorf("disk full")
}

func TestEventsHeldUntilStateWrite(t *testing.T) {
	store := &failingStore{MemoryStore: problem.NewMemoryStore()}
	tracker := track.NewMemoryTracker()
	svc := problem.NewService(store, tracker, tracker)
	ctx := context.Background()
	if err := svc.UpsertProblem(ctx, problem.SourceRecord{ID: "p1", XML: []byte(colorXML), Settings: []byte(`{}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	_, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if err == nil {
		t.Fatalf("expected submit to surface the write failure")
	}
	if len(tracker.Events) != 0 {
		t.Fatalf("events leaked past a failed state write: %+v", tracker.Events)
	}
	if len(tracker.Grades) != 0 {
		t.Fatalf("grade leaked past a failed state write")
	}
}

func TestUnknownProblemIsNotFound(t *testing.T) {
	svc, _, _, _ := newService(t, `{}`)
	_, err := svc.Render(context.Background(), learner(), "nope")
	if !problem.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStaffSeesGradeErrorDetail(t *testing.T) {
	numXML := `<problem><numericalresponse answer="4"><textline/></numericalresponse></problem>`
	store := problem.NewMemoryStore()
	tracker := track.NewMemoryTracker()
	svc := problem.NewService(store, tracker, tracker)
	ctx := context.Background()
	if err := svc.UpsertProblem(ctx, problem.SourceRecord{ID: "n1", XML: []byte(numXML), Settings: []byte(`{}`)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res, err := svc.Submit(ctx, learner(), "n1", url.Values{"input_n1_2_1": {"four"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(res.Success, "Could not interpret 'four' as a number.") {
		t.Fatalf("learner message = %q", res.Success)
	}
	if strings.Contains(res.Success, "[") {
		t.Fatalf("learner must not see the raw error: %q", res.Success)
	}

	staff := problem.Identity{UserID: "s1", IsStaff: true}
	res, err = svc.Submit(ctx, staff, "n1", url.Values{"input_n1_2_1": {"four"}})
	if err != nil {
		t.Fatalf("staff submit: %v", err)
	}
	if !strings.Contains(res.Success, "[") {
		t.Fatalf("staff should see the raw error appended: %q", res.Success)
	}
}

func TestResetEventUnmasksWithPreResetMapping(t *testing.T) {
	maskXML := `<problem>
	  <multiplechoiceresponse>
	    <choicegroup masked="true">
	      <choice correct="true" name="alpha">Alpha</choice>
	      <choice correct="false" name="beta">Beta</choice>
	      <choice correct="false" name="gamma">Gamma</choice>
	      <choice correct="false" name="delta">Delta</choice>
	      <choice correct="false" name="epsilon">Epsilon</choice>
	    </choicegroup>
	  </multiplechoiceresponse>
	</problem>`
	store := problem.NewMemoryStore()
	tracker := track.NewMemoryTracker()
	svc := problem.NewService(store, tracker, tracker)
	ctx := context.Background()
	if err := svc.UpsertProblem(ctx, problem.SourceRecord{
		ID:       "p1",
		XML:      []byte(maskXML),
		Settings: []byte(`{"rerandomize": "always"}`),
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// What mask_0 meant under the seed the submissions run with.
	oldDef, err := capa.ParseDefinition([]byte(maskXML), "p1", 7)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := oldDef.Responders[0].UnmaskName("mask_0")
	if strings.HasPrefix(want, "mask_") {
		t.Fatalf("unmask did not resolve mask_0: %q", want)
	}

	// Reset rerolls the seed, so a single run can land on a permutation
	// that hides a stale mapping. Several independent learners make a
	// coincidental match across every run vanishingly unlikely.
	for i := 0; i < 8; i++ {
		user := problem.Identity{UserID: fmt.Sprintf("m%d", i)}
		seed := 7
		if err := store.PutState(ctx, user.UserID, "p1", problem.State{Seed: &seed}); err != nil {
			t.Fatalf("seed state: %v", err)
		}
		if _, err := svc.Submit(ctx, user, "p1", url.Values{"input_p1_2_1": {"mask_0"}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if _, err := svc.Reset(ctx, user, "p1"); err != nil {
			t.Fatalf("reset: %v", err)
		}

		for _, ev := range tracker.ByType(problem.EventResetProblem) {
			if ev.UserID != user.UserID {
				continue
			}
			old, ok := ev.Data["old_state"].(map[string]any)
			if !ok {
				t.Fatalf("reset event missing old_state: %+v", ev.Data)
			}
			sa, ok := old["student_answers"].(map[string]any)
			if !ok {
				t.Fatalf("old_state missing student_answers: %+v", old)
			}
			if got := sa["p1_2_1"]; got != want {
				t.Fatalf("old_state answer = %v, want %q", got, want)
			}
		}
	}
}

func TestUnreadableStateResetsWithWarning(t *testing.T) {
	svc, store, _, _ := newService(t, `{"max_attempts": 3}`)
	ctx := context.Background()
	store.SeedRawState("u1", "p1", []byte(`{"attempts": "two", "student_answers": {"p1_2_1": "blu"}}`))

	rr, err := svc.Render(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(rr.HTML, "capa_reset") {
		t.Fatalf("missing reset warning: %s", rr.HTML)
	}
	if !strings.Contains(rr.HTML, "p1_2_1=blu") {
		t.Fatalf("missing salvaged answers: %s", rr.HTML)
	}
	if rr.Attempts != 0 {
		t.Fatalf("attempts = %d, want fresh state", rr.Attempts)
	}

	// The replacement envelope is persisted, so the next build reads
	// cleanly and renders without the warning.
	st, ok, err := store.GetState(ctx, "u1", "p1")
	if err != nil || !ok {
		t.Fatalf("state after recovery: ok=%v err=%v", ok, err)
	}
	if st.Attempts != 0 || st.Done {
		t.Fatalf("recovered state not fresh: %+v", st)
	}
	rr, err = svc.Render(ctx, learner(), "p1")
	if err != nil {
		t.Fatalf("second render: %v", err)
	}
	if strings.Contains(rr.HTML, "capa_reset") {
		t.Fatalf("warning should not survive recovery: %s", rr.HTML)
	}

	res, err := svc.Submit(ctx, learner(), "p1", answerForm("blue"))
	if err != nil {
		t.Fatalf("submit after recovery: %v", err)
	}
	if res.Success != "correct" {
		t.Fatalf("success = %q, want correct", res.Success)
	}
}
