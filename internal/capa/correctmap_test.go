package capa_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mind-engage/capa-engine/internal/capa"
)

func TestCorrectMapNPointsDefaults(t *testing.T) {
	cm := capa.NewCorrectMap()
	cm.Set("p_2_1", capa.CorrectMapEntry{Correctness: capa.Correct})
	cm.Set("p_3_1", capa.CorrectMapEntry{Correctness: capa.Incorrect})
	three := 3.0
	cm.Set("p_4_1", capa.CorrectMapEntry{Correctness: capa.Correct, NPoints: &three})

	if got := cm.GetNPoints("p_2_1"); got != 1 {
		t.Fatalf("correct entry without npoints must score 1; got %v", got)
	}
	if got := cm.GetNPoints("p_3_1"); got != 0 {
		t.Fatalf("incorrect entry without npoints must score 0; got %v", got)
	}
	if got := cm.GetNPoints("p_4_1"); got != 3 {
		t.Fatalf("explicit npoints must win; got %v", got)
	}
	if got := cm.GetNPoints("missing"); got != 0 {
		t.Fatalf("unknown id must score 0; got %v", got)
	}
}

func TestCorrectMapPartiallyCorrectCountsAsCorrect(t *testing.T) {
	cm := capa.NewCorrectMap()
	cm.Set("p_2_1", capa.CorrectMapEntry{Correctness: capa.PartiallyCorrect})
	if !cm.IsCorrect("p_2_1") {
		t.Fatalf("partially-correct must satisfy IsCorrect")
	}
	if got := cm.GetNPoints("p_2_1"); got != 1 {
		t.Fatalf("partially-correct without npoints must score the full point; got %v", got)
	}
	half := 0.5
	cm.Set("p_2_1", capa.CorrectMapEntry{Correctness: capa.PartiallyCorrect, NPoints: &half})
	if got := cm.GetNPoints("p_2_1"); got != 0.5 {
		t.Fatalf("partial npoints must be honored; got %v", got)
	}
}

func TestCorrectMapQueueState(t *testing.T) {
	cm := capa.NewCorrectMap()
	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)
	cm.Set("p_2_1", capa.CorrectMapEntry{
		Correctness: capa.Incomplete,
		QueueState:  &capa.QueueState{Key: "k1", Time: t1},
	})
	cm.Set("p_3_1", capa.CorrectMapEntry{
		Correctness: capa.Incomplete,
		QueueState:  &capa.QueueState{Key: "k2", Time: t2},
	})
	if !cm.IsQueued() {
		t.Fatalf("expected queued map")
	}
	if got := cm.RecentmostQueueTime(); !got.Equal(t2) {
		t.Fatalf("recentmost queue time = %v, want %v", got, t2)
	}
	if !cm.MatchesQueueKey("p_2_1", "k1") {
		t.Fatalf("expected k1 to match p_2_1")
	}
	if cm.MatchesQueueKey("p_2_1", "k2") {
		t.Fatalf("k2 must not match p_2_1")
	}
	if cm.MatchesQueueKey("p_4_1", "k1") {
		t.Fatalf("unknown id must not match")
	}
}

func TestCorrectMapJSONRoundTrip(t *testing.T) {
	cm := capa.NewCorrectMap()
	pts := 2.0
	cm.Set("p_2_1", capa.CorrectMapEntry{
		Correctness: capa.Correct,
		NPoints:     &pts,
		Msg:         "Nice.",
	})
	raw, err := json.Marshal(cm)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back capa.CorrectMap
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	e, ok := back.Get("p_2_1")
	if !ok {
		t.Fatalf("entry lost in round trip")
	}
	if e.Correctness != capa.Correct || e.NPoints == nil || *e.NPoints != 2 || e.Msg != "Nice." {
		t.Fatalf("entry mangled: %+v", e)
	}
}

func TestCorrectMapUpdate(t *testing.T) {
	a := capa.NewCorrectMap()
	a.Set("p_2_1", capa.CorrectMapEntry{Correctness: capa.Incorrect})
	a.Set("p_3_1", capa.CorrectMapEntry{Correctness: capa.Correct})

	b := capa.NewCorrectMap()
	b.Set("p_2_1", capa.CorrectMapEntry{Correctness: capa.Correct})

	a.Update(b)
	if !a.IsCorrect("p_2_1") {
		t.Fatalf("update must overwrite p_2_1")
	}
	if !a.IsCorrect("p_3_1") {
		t.Fatalf("update must keep untouched entries")
	}
}
