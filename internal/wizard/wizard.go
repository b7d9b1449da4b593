package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/internal/utils"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

const DefaultRedirectDelay = 3 * time.Second

const (
	loadFallback    = "Failed to load event details. Please try again."
	submitFallback  = "Registration failed. Please try again."
	sessionExpired  = "Your session has expired. Please log in again."
	successFallback = "Registration successful!"
)

type API interface {
	Get(ctx context.Context, path string, q any, auth bool) (json.RawMessage, error)
	PostMultipart(ctx context.Context, path string, form *gateway.Multipart, auth bool) (json.RawMessage, error)
}

// Profile is the session as seen by the wizard.
type Profile interface {
	Authenticated(ctx context.Context) bool
	User(ctx context.Context) (*domain.User, error)
	Logout(ctx context.Context) error
}

// Redirector performs the navigation that follows a successful registration.
type Redirector interface {
	Schedule(ctx context.Context, target string, after time.Duration)
}

type RedirectorFunc func(ctx context.Context, target string, after time.Duration)

func (f RedirectorFunc) Schedule(ctx context.Context, target string, after time.Duration) {
	f(ctx, target, after)
}

type Options struct {
	Slug          string
	ReturnPath    string
	RedirectDelay time.Duration
	Now           func() time.Time
}

// Wizard is one registration flow for one event.
type Wizard struct {
	api        API
	profile    Profile
	redirector Redirector
	opts       Options

	mu            sync.Mutex
	phase         Phase
	event         domain.Event
	fields        []domain.FormField
	fallback      bool
	closedReason  string
	current       int
	total         int
	draft         Draft
	readOnly      map[string]bool
	paymentMethod string
	errMsg        string
	submitting    bool
	loading       bool
	message       string
	redirectTo    string
}

func New(api API, profile Profile, redirector Redirector, opts Options) *Wizard {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReturnPath == "" {
		opts.ReturnPath = "/events/" + url.PathEscape(opts.Slug) + "/register"
	}
	return &Wizard{
		api:        api,
		profile:    profile,
		redirector: redirector,
		opts:       opts,
		phase:      PhaseNew,
		draft:      Draft{},
		readOnly:   map[string]bool{},
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Load fetches the event and its form, then opens step 1 or the closed state.
// A failed load leaves the wizard unloaded so Load can be called again.
func (w *Wizard) Load(ctx context.Context) error {
	if !w.profile.Authenticated(ctx) {
		return w.loginRequired()
	}

	w.mu.Lock()
	if w.loading || w.submitting {
		w.mu.Unlock()
		return ErrBusy
	}
	if w.phase != PhaseNew {
		w.mu.Unlock()
		return nil
	}
	w.loading = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.loading = false
		w.mu.Unlock()
	}()

	slug := url.PathEscape(w.opts.Slug)
	var (
		event  domain.Event
		fields []domain.FormField
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := w.api.Get(gctx, "/user/events/"+slug, nil, false)
		if err != nil {
			return err
		}
		env, err := gateway.Decode[envelope[domain.Event]](raw)
		if err != nil {
			return err
		}
		event = env.Data
		return nil
	})
	g.Go(func() error {
		raw, err := w.api.Get(gctx, "/user/events/form/"+slug, nil, false)
		if err != nil {
			return err
		}
		fields, err = decodeFields(raw)
		return err
	})

	if err := g.Wait(); err != nil {
		w.mu.Lock()
		w.errMsg = gateway.Message(err, loadFallback)
		w.mu.Unlock()
		logger.ErrorContext(ctx, "Failed to load registration", "slug", w.opts.Slug, "error", err)
		return err
	}

	user, err := w.profile.User(ctx)
	if err != nil && !errors.Is(err, session.ErrNotAuthenticated) {
		logger.WarnContext(ctx, "Could not read profile for prefill", "error", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.event = event
	w.errMsg = ""
	w.total = ComputeTotalSteps(event)

	if reason := event.ClosedReason(w.opts.Now()); reason != "" {
		w.phase = PhaseClosed
		w.closedReason = reason
		logger.InfoContext(ctx, "Registration closed", "slug", w.opts.Slug, "reason", reason)
		return nil
	}

	w.fields = normalizeFields(fields)
	if len(w.fields) == 0 {
		w.fields = FallbackFields()
		w.fallback = true
	}
	w.prefill(user)
	w.phase = PhaseActive
	w.current = 1

	logger.InfoContext(ctx, "Registration loaded",
		"slug", w.opts.Slug,
		"total_steps", w.total,
		"fields", len(w.fields),
		"fallback", w.fallback,
	)
	return nil
}

// prefill copies matching profile attributes into the draft and locks them.
// Caller holds mu.
func (w *Wizard) prefill(user *domain.User) {
	if user == nil {
		return
	}
	values := map[string]string{
		"name":  utils.NormalizeString(user.Name),
		"email": utils.NormalizeEmail(user.Email),
		"phone": utils.NormalizePhone(user.Phone),
	}
	for _, name := range profileFields {
		if values[name] == "" || w.field(name) == nil {
			continue
		}
		w.draft[name] = values[name]
		w.readOnly[name] = true
	}
}

func (w *Wizard) field(name string) *domain.FormField {
	for i := range w.fields {
		if w.fields[i].Name == name {
			return &w.fields[i]
		}
	}
	return nil
}

// active checks that step actions are allowed. Caller holds mu.
func (w *Wizard) active() error {
	switch w.phase {
	case PhaseNew:
		return ErrNotLoaded
	case PhaseClosed:
		return ErrClosed
	case PhaseSucceeded:
		return ErrFinished
	}
	return nil
}

// SetField stores user input for a details field.
func (w *Wizard) SetField(name string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active(); err != nil {
		return err
	}
	if StepAt(w.current, w.total) != StepDetails {
		return ErrWrongStep
	}
	f := w.field(name)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if w.readOnly[name] {
		return fmt.Errorf("%w: %s", ErrReadOnly, name)
	}
	v, err := coerce(*f, value)
	if err != nil {
		return fmt.Errorf("%w: %s", err, name)
	}
	w.draft[name] = v
	return nil
}

// AttachFile sets the file for a file-type field.
func (w *Wizard) AttachFile(name string, file FileRef) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active(); err != nil {
		return err
	}
	if StepAt(w.current, w.total) != StepDetails {
		return ErrWrongStep
	}
	f := w.field(name)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if f.Type != domain.FieldFile {
		return fmt.Errorf("%w: %s", ErrInvalidValue, name)
	}
	if file.Size == 0 {
		file.Size = len(file.Data)
	}
	w.draft[name] = file
	return nil
}

// Next validates the current step and advances. A *ValidationError leaves the
// step unchanged.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active(); err != nil {
		return err
	}
	if w.current >= w.total {
		return ErrWrongStep
	}
	if StepAt(w.current, w.total) == StepDetails {
		if verr := validateDetails(w.fields, w.draft, w.fallback); verr != nil {
			w.errMsg = verr.Message
			return verr
		}
	}
	w.errMsg = ""
	w.current++
	return nil
}

// Back always clears the error and keeps entered values.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active(); err != nil {
		return err
	}
	w.errMsg = ""
	if w.current <= 1 {
		return ErrFirstStep
	}
	w.current--
	return nil
}

func (w *Wizard) SelectPayment(method string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.active(); err != nil {
		return err
	}
	if StepAt(w.current, w.total) != StepPayment {
		return ErrWrongStep
	}
	if !contains(PaymentMethods, method) {
		return fmt.Errorf("%w: %s", ErrPaymentMethod, method)
	}
	w.paymentMethod = method
	return nil
}

// Submit sends the whole draft as one multipart request. Only the confirm
// step may submit and only one submission runs at a time.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if err := w.active(); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.submitting {
		w.mu.Unlock()
		return ErrBusy
	}
	if StepAt(w.current, w.total) != StepConfirm {
		w.mu.Unlock()
		return ErrNotFinalStep
	}
	// the draft may have been edited around validation through Back; recheck
	if verr := validateDetails(w.fields, w.draft, w.fallback); verr != nil {
		w.errMsg = verr.Message
		w.mu.Unlock()
		return verr
	}
	form := w.buildForm()
	w.submitting = true
	w.errMsg = ""
	w.mu.Unlock()

	raw, err := w.api.PostMultipart(ctx, "/user/events/register/"+url.PathEscape(w.opts.Slug), form, true)
	var res envelope[json.RawMessage]
	if err == nil {
		res, err = gateway.Decode[envelope[json.RawMessage]](raw)
	}

	if err != nil {
		return w.submitFailed(ctx, err)
	}

	target := "/events/" + url.PathEscape(w.opts.Slug)

	w.mu.Lock()
	w.submitting = false
	w.phase = PhaseSucceeded
	w.message = utils.FirstNonEmpty(res.Message, successFallback)
	w.redirectTo = target
	w.draft = Draft{}
	w.mu.Unlock()

	logger.InfoContext(ctx, "Registration submitted", "slug", w.opts.Slug)
	if w.redirector != nil {
		w.redirector.Schedule(ctx, target, w.opts.RedirectDelay)
	}
	return nil
}

func (w *Wizard) submitFailed(ctx context.Context, err error) error {
	if gateway.IsUnauthorized(err) {
		if logoutErr := w.profile.Logout(ctx); logoutErr != nil {
			logger.ErrorContext(ctx, "Failed to clear credential after 401", "error", logoutErr)
		}
		redirect := session.LoginRedirect(w.opts.ReturnPath)

		w.mu.Lock()
		w.submitting = false
		w.errMsg = sessionExpired
		w.redirectTo = redirect
		w.mu.Unlock()

		logger.WarnContext(ctx, "Registration rejected: session expired", "slug", w.opts.Slug)
		return &session.LoginRequiredError{RedirectTo: redirect}
	}

	w.mu.Lock()
	w.submitting = false
	w.errMsg = gateway.Message(err, submitFallback)
	w.mu.Unlock()

	logger.WarnContext(ctx, "Registration failed", "slug", w.opts.Slug, "error", err)
	return err
}

// buildForm encodes the draft in field order. Caller holds mu.
func (w *Wizard) buildForm() *gateway.Multipart {
	form := gateway.NewMultipart()
	for _, f := range w.fields {
		switch v := w.draft[f.Name].(type) {
		case string:
			form.Field(f.Name, utils.NormalizeString(v))
		case bool:
			form.Field(f.Name, strconv.FormatBool(v))
		case FileRef:
			form.File(f.Name, v.Filename, v.ContentType, v.Data)
		}
	}
	if w.event.RequiresPayment() && w.paymentMethod != "" {
		form.Field("paymentMethod", w.paymentMethod)
	}
	return form
}

// Discard drops the draft when the user navigates away.
func (w *Wizard) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draft = Draft{}
	w.paymentMethod = ""
	w.errMsg = ""
}

func (w *Wizard) loginRequired() error {
	redirect := session.LoginRedirect(w.opts.ReturnPath)
	w.mu.Lock()
	w.redirectTo = redirect
	w.mu.Unlock()
	return &session.LoginRequiredError{RedirectTo: redirect}
}

func decodeFields(raw json.RawMessage) ([]domain.FormField, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var asList envelope[[]domain.FormField]
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList.Data, nil
	}
	env, err := gateway.Decode[envelope[struct {
		Fields []domain.FormField `json:"fields"`
	}]](raw)
	if err != nil {
		return nil, err
	}
	return env.Data.Fields, nil
}

func normalizeFields(in []domain.FormField) []domain.FormField {
	out := make([]domain.FormField, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, f := range in {
		f.Name = utils.NormalizeString(f.Name)
		if f.Name == "" || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		t, ok := domain.ParseFieldType(string(f.Type))
		if !ok {
			t = domain.FieldText
		}
		f.Type = t
		out = append(out, f)
	}
	return out
}
