package capa

import (
	"encoding/json"
	"time"
)

// Correctness values a grading pass can assign to an input.
const (
	Correct          = "correct"
	Incorrect        = "incorrect"
	PartiallyCorrect = "partially-correct"
	// Incomplete marks an answer that is queued at an external grader or
	// otherwise not yet graded.
	Incomplete = "incomplete"
)

// QueueState tracks a pending external-grader submission for one input.
type QueueState struct {
	Key  string    `json:"key"`
	Time time.Time `json:"time"`
}

// CorrectMapEntry is the per-input record produced by a grading pass.
type CorrectMapEntry struct {
	Correctness string      `json:"correctness"`
	NPoints     *float64    `json:"npoints,omitempty"`
	Msg         string      `json:"msg,omitempty"`
	Hint        string      `json:"hint,omitempty"`
	HintMode    string      `json:"hintmode,omitempty"` // "on_request" | "always"
	QueueState  *QueueState `json:"queuestate,omitempty"`
}

// CorrectMap maps input ids to their grading records.
type CorrectMap struct {
	entries map[string]CorrectMapEntry
}

func NewCorrectMap() CorrectMap {
	return CorrectMap{entries: map[string]CorrectMapEntry{}}
}

func (c *CorrectMap) ensure() {
	if c.entries == nil {
		c.entries = map[string]CorrectMapEntry{}
	}
}

func (c *CorrectMap) Set(id string, e CorrectMapEntry) {
	c.ensure()
	c.entries[id] = e
}

func (c CorrectMap) Get(id string) (CorrectMapEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

func (c CorrectMap) Has(id string) bool {
	_, ok := c.entries[id]
	return ok
}

func (c CorrectMap) IDs() []string {
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

func (c CorrectMap) Len() int { return len(c.entries) }

// IsCorrect reports whether the input is fully or partially correct.
func (c CorrectMap) IsCorrect(id string) bool {
	corr := c.GetCorrectness(id)
	return corr == Correct || corr == PartiallyCorrect
}

func (c CorrectMap) GetCorrectness(id string) string {
	if e, ok := c.entries[id]; ok {
		return e.Correctness
	}
	return ""
}

// GetNPoints returns the points awarded for the input: the explicit npoints
// when set, the full point when the answer counts as correct (IsCorrect,
// so partially-correct included), and zero otherwise.
func (c CorrectMap) GetNPoints(id string) float64 {
	e, ok := c.entries[id]
	if !ok {
		return 0
	}
	if e.NPoints != nil {
		return *e.NPoints
	}
	if c.IsCorrect(id) {
		return 1
	}
	return 0
}

func (c CorrectMap) GetMsg(id string) string {
	return c.entries[id].Msg
}

// IsQueued reports whether any input is awaiting an external grader.
func (c CorrectMap) IsQueued() bool {
	for _, e := range c.entries {
		if e.QueueState != nil {
			return true
		}
	}
	return false
}

// RecentmostQueueTime returns the newest pending queue timestamp, zero when
// nothing is queued.
func (c CorrectMap) RecentmostQueueTime() time.Time {
	var newest time.Time
	for _, e := range c.entries {
		if e.QueueState != nil && e.QueueState.Time.After(newest) {
			newest = e.QueueState.Time
		}
	}
	return newest
}

// MatchesQueueKey reports whether the given input's pending queuekey equals
// key. A missing entry or missing queuestate never matches.
func (c CorrectMap) MatchesQueueKey(id, key string) bool {
	e, ok := c.entries[id]
	if !ok || e.QueueState == nil {
		return false
	}
	return e.QueueState.Key == key
}

// Update merges other into c, overwriting per-id records.
func (c *CorrectMap) Update(other CorrectMap) {
	c.ensure()
	for id, e := range other.entries {
		c.entries[id] = e
	}
}

// ToDict returns a JSON-shaped projection of the map for event payloads and
// the persistence envelope.
func (c CorrectMap) ToDict() map[string]any {
	out := make(map[string]any, len(c.entries))
	for id, e := range c.entries {
		b, _ := json.Marshal(e)
		var m map[string]any
		_ = json.Unmarshal(b, &m)
		out[id] = m
	}
	return out
}

func (c CorrectMap) MarshalJSON() ([]byte, error) {
	c.ensure()
	return json.Marshal(c.entries)
}

func (c *CorrectMap) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &c.entries)
}
