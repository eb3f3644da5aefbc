package problem

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/mind-engage/capa-engine/internal/capa"
	"github.com/mind-engage/capa-engine/internal/policy"
	"github.com/mind-engage/capa-engine/internal/track"
	"github.com/mind-engage/capa-engine/internal/xqueue"
)

// Identity is what the surrounding platform knows about the caller.
type Identity struct {
	UserID        string
	IsStaff       bool
	AnonymousSeed *int
}

// Service rebuilds a transient module from the persisted envelope for each
// request, dispatches one operation, writes the envelope back and only
// then flushes the buffered events.
type Service struct {
	store   Store
	tracker track.Tracker
	grades  track.GradePublisher
	queue   *xqueue.Client

	callbackBaseURL        string
	defaultShowResetButton bool
	debug                  bool

	now          func() time.Time
	log          *slog.Logger
	coursePolicy *policy.CoursePolicy

	translate           func(string) string
	replaceURLs         func(string) string
	replaceCourseURLs   func(string) string
	replaceJumpToIDURLs func(string) string
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

func WithQueue(q *xqueue.Client, callbackBaseURL string) ServiceOption {
	return func(s *Service) { s.queue = q; s.callbackBaseURL = callbackBaseURL }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func WithDefaultShowResetButton(v bool) ServiceOption {
	return func(s *Service) { s.defaultShowResetButton = v }
}

func WithDebug(v bool) ServiceOption {
	return func(s *Service) { s.debug = v }
}

func WithTranslator(tr func(string) string) ServiceOption {
	return func(s *Service) { s.translate = tr }
}

func WithURLRewriters(assets, course, jumpToID func(string) string) ServiceOption {
	return func(s *Service) {
		s.replaceURLs = assets
		s.replaceCourseURLs = course
		s.replaceJumpToIDURLs = jumpToID
	}
}

func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithCoursePolicy overlays course-level setting overrides on every
// problem the service builds.
func WithCoursePolicy(p *policy.CoursePolicy) ServiceOption {
	return func(s *Service) { s.coursePolicy = p }
}

func NewService(store Store, tracker track.Tracker, grades track.GradePublisher, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		tracker: tracker,
		grades:  grades,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// UpsertProblem stores a problem source, validating its settings.
func (s *Service) UpsertProblem(ctx context.Context, rec SourceRecord) error {
	if _, err := ParseSettings(rec.Settings, s.log); err != nil {
		return err
	}
	return s.store.PutProblem(ctx, rec)
}

// build loads the source and envelope and assembles the transient module.
func (s *Service) build(ctx context.Context, id Identity, problemID string) (*Module, error) {
	rec, err := s.store.GetProblem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if s.coursePolicy != nil {
		if rec.Settings, err = s.coursePolicy.Merge(problemID, rec.Settings); err != nil {
			return nil, err
		}
	}
	settings, err := ParseSettings(rec.Settings, s.log)
	if err != nil {
		return nil, err
	}
	state, _, err := s.store.GetState(ctx, id.UserID, problemID)
	var corrupt *CorruptStateError
	if errors.As(err, &corrupt) {
		s.log.Warn("unreadable state envelope, resetting",
			"user", id.UserID, "problem", problemID, "err", corrupt.Err)
		state = State{}
	} else if err != nil {
		return nil, err
	}
	rt := &Runtime{
		UserID:                 id.UserID,
		IsStaff:                id.IsStaff,
		Debug:                  s.debug,
		Now:                    s.now,
		Tracker:                s.tracker,
		Grades:                 s.grades,
		Translate:              s.translate,
		ReplaceURLs:            s.replaceURLs,
		ReplaceCourseURLs:      s.replaceCourseURLs,
		ReplaceJumpToIDURLs:    s.replaceJumpToIDURLs,
		Queue:                  s.queue,
		CallbackBaseURL:        s.callbackBaseURL,
		AnonymousSeed:          id.AnonymousSeed,
		DefaultShowResetButton: s.defaultShowResetButton,
	}
	m, err := NewModule(rt, problemID, rec.XML, settings, state)
	if err != nil {
		return nil, err
	}
	if corrupt != nil {
		m.markStateReset(capa.CorruptionReport(corrupt.SalvagedAnswers()))
	}
	return m, nil
}

// finish writes the envelope back when it changed, then flushes buffered
// events. Events are dropped if the write fails.
func (s *Service) finish(ctx context.Context, id Identity, problemID string, m *Module) error {
	if m.Dirty() {
		if err := s.store.PutState(ctx, id.UserID, problemID, m.State); err != nil {
			return err
		}
	}
	if err := m.FlushEvents(ctx); err != nil {
		s.log.Error("event flush failed", "problem", problemID, "err", err)
	}
	return nil
}

// Render renders the problem for display.
func (s *Service) Render(ctx context.Context, id Identity, problemID string) (*RenderResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	rr := m.Render()
	if err := s.finish(ctx, id, problemID, m); err != nil {
		return nil, err
	}
	return rr, nil
}

// Submit grades a submission. Policy denials come back as *NotFoundError
// with their fail event still recorded.
func (s *Service) Submit(ctx context.Context, id Identity, problemID string, data url.Values) (*SubmitResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.SubmitProblem(ctx, data)
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

func (s *Service) Save(ctx context.Context, id Identity, problemID string, data url.Values) (*SaveResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.SaveProblem(data)
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

func (s *Service) Reset(ctx context.Context, id Identity, problemID string) (*ResetResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.ResetProblem()
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

func (s *Service) ShowAnswer(ctx context.Context, id Identity, problemID string) (map[string]string, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	answers, opErr := m.GetAnswer()
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return answers, opErr
}

func (s *Service) Hint(ctx context.Context, id Identity, problemID string, hintIndex int) (*HintResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.GetDemandHint(hintIndex)
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

func (s *Service) InputAjax(ctx context.Context, id Identity, problemID, inputID, dispatch string, data map[string]any) (map[string]any, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.HandleInputAjax(inputID, dispatch, data)
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

// UpdateScore applies an external grader callback and republishes the
// grade.
func (s *Service) UpdateScore(ctx context.Context, id Identity, problemID string, message []byte, queueKey string) error {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return err
	}
	if err := m.UpdateScore(message, queueKey); err != nil {
		return err
	}
	return s.finish(ctx, id, problemID, m)
}

// UngradedResponse applies grader feedback without score changes.
func (s *Service) UngradedResponse(ctx context.Context, id Identity, problemID string, message []byte, queueKey string) error {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return err
	}
	if err := m.HandleUngradedResponse(message, queueKey); err != nil {
		return err
	}
	return s.finish(ctx, id, problemID, m)
}

// Rescore re-grades stored answers; staff only at the transport layer.
func (s *Service) Rescore(ctx context.Context, id Identity, problemID string) (*RescoreResult, error) {
	m, err := s.build(ctx, id, problemID)
	if err != nil {
		return nil, err
	}
	res, opErr := m.RescoreProblem()
	if ferr := s.finish(ctx, id, problemID, m); ferr != nil {
		return nil, ferr
	}
	return res, opErr
}

// DeleteState destroys a learner's envelope; privileged course reset.
func (s *Service) DeleteState(ctx context.Context, caller Identity, targetUserID, problemID string) error {
	if !caller.IsStaff {
		return &NotFoundError{Msg: "state reset requires staff access"}
	}
	return s.store.DeleteState(ctx, targetUserID, problemID)
}

// IsNotFound reports whether err is a policy denial / missing resource.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
