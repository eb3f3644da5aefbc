package problem

import (
	"time"

	"github.com/mind-engage/capa-engine/internal/track"
	"github.com/mind-engage/capa-engine/internal/xqueue"
)

// Runtime is the collaborator record the surrounding platform configures
// once and hands to every module it builds: identity, clock, event sinks,
// URL rewriters, i18n and the grading queue. Nil function fields fall back
// to identity/no-op behavior so tests can supply only what they assert on.
type Runtime struct {
	UserID  string
	IsStaff bool
	Debug   bool

	Now func() time.Time

	Tracker track.Tracker
	Grades  track.GradePublisher

	// Translate localizes learner-facing strings; identity when nil.
	Translate func(string) string

	// URL rewriters applied to rendered HTML: static assets, cross-course
	// links, jump-to-id links.
	ReplaceURLs         func(string) string
	ReplaceCourseURLs   func(string) string
	ReplaceJumpToIDURLs func(string) string

	Queue           *xqueue.Client
	CallbackBaseURL string

	// AnonymousSeed is the per-learner seed feeding per_student
	// randomization.
	AnonymousSeed *int
	// Seed mirrors the seed some hosts inject at runtime. The persisted
	// state seed is authoritative; this one only breaks ties when the state
	// has never been materialized.
	Seed *int

	// DefaultShowResetButton is the platform-wide default for problems
	// that do not set show_reset_button themselves.
	DefaultShowResetButton bool
}

func (rt *Runtime) now() time.Time {
	if rt.Now != nil {
		return rt.Now()
	}
	return time.Now()
}

func (rt *Runtime) tr(s string) string {
	if rt.Translate != nil {
		return rt.Translate(s)
	}
	return s
}

func (rt *Runtime) rewriteHTML(s string) string {
	for _, f := range []func(string) string{rt.ReplaceURLs, rt.ReplaceCourseURLs, rt.ReplaceJumpToIDURLs} {
		if f != nil {
			s = f(s)
		}
	}
	return s
}
