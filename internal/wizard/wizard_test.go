package wizard_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/internal/wizard"
)

// ---------- Fakes ----------

type fakeProfile struct {
	mu      sync.Mutex
	authed  bool
	user    *domain.User
	logouts int
}

func (f *fakeProfile) Authenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeProfile) User(context.Context) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authed {
		return nil, session.ErrNotAuthenticated
	}
	return f.user, nil
}

func (f *fakeProfile) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authed = false
	f.logouts++
	return nil
}

func (f *fakeProfile) Token(ctx context.Context) (string, error) {
	if f.Authenticated(ctx) {
		return "test-token", nil
	}
	return "", nil
}

type scheduled struct {
	target string
	after  time.Duration
}

type fakeRedirector struct {
	mu    sync.Mutex
	calls []scheduled
}

func (f *fakeRedirector) Schedule(_ context.Context, target string, after time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{target, after})
}

type apiServer struct {
	*httptest.Server
	submits atomic.Int32

	mu       sync.Mutex
	form     map[string]string
	files    map[string]string
	auth     string
	status   int
	response string
}

func newAPIServer(t *testing.T, event, schema string) *apiServer {
	t.Helper()
	s := &apiServer{status: http.StatusCreated, response: `{"success":true,"message":"Registered!"}`}
	mux := http.NewServeMux()
	mux.HandleFunc("/user/events/form/techfest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(schema))
	})
	mux.HandleFunc("/user/events/techfest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(event))
	})
	mux.HandleFunc("/user/events/register/techfest", func(w http.ResponseWriter, r *http.Request) {
		s.submits.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		s.form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			s.form[k] = v[0]
		}
		s.files = map[string]string{}
		for k, v := range r.MultipartForm.File {
			s.files[k] = v[0].Filename
		}
		status, body := s.status, s.response
		s.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) respond(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.response = status, body
}

type setup struct {
	wiz        *wizard.Wizard
	profile    *fakeProfile
	redirector *fakeRedirector
}

func newWizard(srv *apiServer, user *domain.User) setup {
	profile := &fakeProfile{authed: true, user: user}
	redirector := &fakeRedirector{}
	gw := gateway.New(srv.URL, 0, profile)
	wiz := wizard.New(gw, profile, redirector, wizard.Options{Slug: "techfest"})
	return setup{wiz: wiz, profile: profile, redirector: redirector}
}

const (
	freeEvent  = `{"success":true,"data":{"_id":"e1","slug":"techfest","title":"TechFest","registration":{"fee":0}}}`
	paidEvent  = `{"success":true,"data":{"_id":"e1","slug":"techfest","title":"TechFest","registration":{"fee":199,"currency":"INR"}}}`
	emptyForm  = `{"success":true,"data":[]}`
	customForm = `{"success":true,"data":{"fields":[
		{"name":"name","label":"Full Name","type":"text","required":true},
		{"name":"college","label":"College","type":"select","required":true,"options":["RVCE","BMS"]},
		{"name":"year","label":"Year","type":"number"},
		{"name":"agree","label":"I agree","type":"checkbox","required":true},
		{"name":"resume","label":"Resume","type":"FILE"}
	]}}`
)

// ---------- Tests ----------

func TestComputeTotalSteps(t *testing.T) {
	assert.Equal(t, 2, wizard.ComputeTotalSteps(domain.Event{}))
	assert.Equal(t, 3, wizard.ComputeTotalSteps(domain.Event{Registration: domain.Registration{Fee: 50}}))
}

func TestStepAt(t *testing.T) {
	tests := []struct {
		n, total int
		want     wizard.Step
	}{
		{1, 2, wizard.StepDetails},
		{2, 2, wizard.StepConfirm},
		{1, 3, wizard.StepDetails},
		{2, 3, wizard.StepPayment},
		{3, 3, wizard.StepConfirm},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wizard.StepAt(tt.n, tt.total), "step %d of %d", tt.n, tt.total)
	}
}

func TestLoad_RequiresSession(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	s := newWizard(srv, nil)
	s.profile.authed = false

	err := s.wiz.Load(context.Background())

	var lre *session.LoginRequiredError
	require.ErrorAs(t, err, &lre)
	assert.Equal(t, "/login?redirect=%2Fevents%2Ftechfest%2Fregister", lre.RedirectTo)
	assert.Equal(t, wizard.PhaseNew, s.wiz.Snapshot().Phase)
}

func TestLoad_PaidEventHasThreeSteps(t *testing.T) {
	srv := newAPIServer(t, paidEvent, emptyForm)
	s := newWizard(srv, nil)

	require.NoError(t, s.wiz.Load(context.Background()))

	snap := s.wiz.Snapshot()
	assert.Equal(t, wizard.PhaseActive, snap.Phase)
	assert.Equal(t, 3, snap.TotalSteps)
	assert.Equal(t, 1, snap.CurrentStep)
	assert.Equal(t, wizard.StepDetails, snap.Step)
	assert.True(t, snap.Fallback)
}

func TestLoad_ClosedEvent(t *testing.T) {
	closed := `{"success":true,"data":{"slug":"techfest","registration":{"fee":0,"isOpen":false}}}`
	srv := newAPIServer(t, closed, emptyForm)
	s := newWizard(srv, nil)

	require.NoError(t, s.wiz.Load(context.Background()))

	snap := s.wiz.Snapshot()
	assert.Equal(t, wizard.PhaseClosed, snap.Phase)
	assert.Equal(t, "Registration for this event is closed.", snap.ClosedReason)
	assert.ErrorIs(t, s.wiz.Next(), wizard.ErrClosed)
	assert.ErrorIs(t, s.wiz.Submit(context.Background()), wizard.ErrClosed)
	assert.Zero(t, srv.submits.Load())
}

func TestLoad_FailureCanBeRetried(t *testing.T) {
	mux := http.NewServeMux()
	var fail atomic.Bool
	fail.Store(true)
	mux.HandleFunc("/user/events/techfest", func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Event not found"}`))
			return
		}
		w.Write([]byte(freeEvent))
	})
	mux.HandleFunc("/user/events/form/techfest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emptyForm))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	profile := &fakeProfile{authed: true}
	wiz := wizard.New(gateway.New(srv.URL, 0, profile), profile, nil, wizard.Options{Slug: "techfest"})

	require.Error(t, wiz.Load(context.Background()))
	assert.Equal(t, "Event not found", wiz.Snapshot().Error)

	fail.Store(false)
	require.NoError(t, wiz.Load(context.Background()))
	assert.Equal(t, wizard.PhaseActive, wiz.Snapshot().Phase)
	assert.Empty(t, wiz.Snapshot().Error)
}

func TestPrefill_ProfileFieldsAreReadOnly(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	s := newWizard(srv, &domain.User{Name: " Asha Rao ", Email: "ASHA@Example.com"})

	require.NoError(t, s.wiz.Load(context.Background()))

	err := s.wiz.SetField("email", "other@example.com")
	assert.ErrorIs(t, err, wizard.ErrReadOnly)

	fields := s.wiz.Snapshot().Fields
	require.Len(t, fields, 3)
	assert.Equal(t, "Asha Rao", fields[0].Value)
	assert.True(t, fields[0].ReadOnly)
	assert.Equal(t, "asha@example.com", fields[1].Value)
	assert.False(t, fields[2].ReadOnly, "phone was not in the profile")
	assert.NoError(t, s.wiz.SetField("phone", "9876543210"))
}

func TestScenarioC_FallbackSchemaRejectsBadEmail(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	s := newWizard(srv, &domain.User{Name: "Asha"})
	require.NoError(t, s.wiz.Load(context.Background()))

	require.NoError(t, s.wiz.SetField("email", "not-an-email"))
	err := s.wiz.Next()

	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
	assert.Equal(t, "Please enter a valid email address", s.wiz.Snapshot().Error)
	assert.Equal(t, 1, s.wiz.Snapshot().CurrentStep)
}

func TestNext_RequiredFieldsBlockAdvance(t *testing.T) {
	srv := newAPIServer(t, freeEvent, customForm)
	s := newWizard(srv, &domain.User{Name: "Asha"})
	require.NoError(t, s.wiz.Load(context.Background()))

	err := s.wiz.Next()
	var verr *wizard.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "College is required", verr.Message)

	require.NoError(t, s.wiz.SetField("college", "MIT"))
	require.ErrorAs(t, s.wiz.Next(), &verr)
	assert.Equal(t, "Please choose a valid option for College", verr.Message)

	require.NoError(t, s.wiz.SetField("college", "RVCE"))
	require.ErrorAs(t, s.wiz.Next(), &verr)
	assert.Equal(t, "I agree is required", verr.Message)

	require.NoError(t, s.wiz.SetField("agree", true))
	require.NoError(t, s.wiz.SetField("year", "third"))
	require.ErrorAs(t, s.wiz.Next(), &verr)
	assert.Equal(t, "Year must be a number", verr.Message)

	require.NoError(t, s.wiz.SetField("year", float64(3)))
	require.NoError(t, s.wiz.Next())
	assert.Equal(t, wizard.StepConfirm, s.wiz.Snapshot().Step)
	assert.Empty(t, s.wiz.Snapshot().Error)
}

func TestSetField_Errors(t *testing.T) {
	srv := newAPIServer(t, freeEvent, customForm)
	s := newWizard(srv, nil)

	assert.ErrorIs(t, s.wiz.SetField("name", "x"), wizard.ErrNotLoaded)

	require.NoError(t, s.wiz.Load(context.Background()))
	assert.ErrorIs(t, s.wiz.SetField("unknown", "x"), wizard.ErrUnknownField)
	assert.ErrorIs(t, s.wiz.SetField("agree", "maybe"), wizard.ErrInvalidValue)
	assert.ErrorIs(t, s.wiz.SetField("resume", "cv.pdf"), wizard.ErrInvalidValue)
	assert.ErrorIs(t, s.wiz.AttachFile("name", wizard.FileRef{Filename: "a.txt"}), wizard.ErrInvalidValue)
}

func TestBackAndNext_PreserveDraft(t *testing.T) {
	srv := newAPIServer(t, paidEvent, emptyForm)
	s := newWizard(srv, nil)
	require.NoError(t, s.wiz.Load(context.Background()))

	require.NoError(t, s.wiz.SetField("name", "Asha"))
	require.NoError(t, s.wiz.SetField("email", "asha@example.com"))
	require.NoError(t, s.wiz.SetField("phone", "98765"))
	require.NoError(t, s.wiz.Next())
	require.NoError(t, s.wiz.SelectPayment("upi"))
	require.NoError(t, s.wiz.Next())
	assert.Equal(t, 3, s.wiz.Snapshot().CurrentStep)

	require.NoError(t, s.wiz.Back())
	require.NoError(t, s.wiz.Back())
	assert.ErrorIs(t, s.wiz.Back(), wizard.ErrFirstStep)

	snap := s.wiz.Snapshot()
	assert.Equal(t, "Asha", snap.Fields[0].Value)
	assert.Equal(t, "asha@example.com", snap.Fields[1].Value)
	assert.Equal(t, "98765", snap.Fields[2].Value)
	assert.Equal(t, "upi", snap.PaymentMethod)

	require.NoError(t, s.wiz.Next())
	require.NoError(t, s.wiz.Next())
	assert.Equal(t, wizard.StepConfirm, s.wiz.Snapshot().Step)
}

func TestBack_ClearsError(t *testing.T) {
	srv := newAPIServer(t, paidEvent, emptyForm)
	s := newWizard(srv, nil)
	require.NoError(t, s.wiz.Load(context.Background()))

	require.Error(t, s.wiz.Next())
	require.NotEmpty(t, s.wiz.Snapshot().Error)

	assert.ErrorIs(t, s.wiz.Back(), wizard.ErrFirstStep)
	assert.Empty(t, s.wiz.Snapshot().Error)
}

func TestSelectPayment(t *testing.T) {
	srv := newAPIServer(t, paidEvent, emptyForm)
	s := newWizard(srv, &domain.User{Name: "Asha", Email: "asha@example.com"})
	require.NoError(t, s.wiz.Load(context.Background()))

	assert.ErrorIs(t, s.wiz.SelectPayment("upi"), wizard.ErrWrongStep)
	require.NoError(t, s.wiz.Next())
	assert.Equal(t, wizard.StepPayment, s.wiz.Snapshot().Step)
	assert.ErrorIs(t, s.wiz.SelectPayment("bitcoin"), wizard.ErrPaymentMethod)
	assert.NoError(t, s.wiz.SelectPayment("card"))
}

func TestSubmit_OnlyFromConfirmStep(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	s := newWizard(srv, &domain.User{Name: "Asha", Email: "asha@example.com"})
	require.NoError(t, s.wiz.Load(context.Background()))

	assert.ErrorIs(t, s.wiz.Submit(context.Background()), wizard.ErrNotFinalStep)
	assert.Zero(t, srv.submits.Load())
}

func TestSubmit_SuccessSendsMultipartAndRedirects(t *testing.T) {
	srv := newAPIServer(t, paidEvent, customForm)
	s := newWizard(srv, &domain.User{Name: "Asha"})
	ctx := context.Background()
	require.NoError(t, s.wiz.Load(ctx))

	require.NoError(t, s.wiz.SetField("college", "BMS"))
	require.NoError(t, s.wiz.SetField("agree", "true"))
	require.NoError(t, s.wiz.AttachFile("resume", wizard.FileRef{Filename: "cv.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}))
	require.NoError(t, s.wiz.Next())
	require.NoError(t, s.wiz.SelectPayment("cash"))
	require.NoError(t, s.wiz.Next())

	summary := s.wiz.Summary()
	require.Len(t, summary, 6)
	assert.Equal(t, "Yes", summary[3].Value)
	assert.Equal(t, "cv.pdf (4 bytes)", summary[4].Value)
	assert.Equal(t, "199.00 INR", summary[5].Value)

	require.NoError(t, s.wiz.Submit(ctx))

	assert.Equal(t, int32(1), srv.submits.Load())
	assert.Equal(t, "Bearer test-token", srv.auth)
	assert.Equal(t, map[string]string{
		"name":          "Asha",
		"college":       "BMS",
		"agree":         "true",
		"paymentMethod": "cash",
	}, srv.form)
	assert.Equal(t, map[string]string{"resume": "cv.pdf"}, srv.files)

	snap := s.wiz.Snapshot()
	assert.Equal(t, wizard.PhaseSucceeded, snap.Phase)
	assert.Equal(t, "Registered!", snap.Message)
	assert.Equal(t, "/events/techfest", snap.RedirectTo)
	require.Len(t, s.redirector.calls, 1)
	assert.Equal(t, scheduled{"/events/techfest", wizard.DefaultRedirectDelay}, s.redirector.calls[0])

	assert.ErrorIs(t, s.wiz.Submit(ctx), wizard.ErrFinished)
	assert.Equal(t, int32(1), srv.submits.Load())
}

func TestSubmit_ServerErrorKeepsDraft(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	srv.respond(http.StatusConflict, `{"message":"Already registered for this event"}`)
	s := newWizard(srv, &domain.User{Name: "Asha", Email: "asha@example.com"})
	ctx := context.Background()
	require.NoError(t, s.wiz.Load(ctx))
	require.NoError(t, s.wiz.Next())

	err := s.wiz.Submit(ctx)

	assert.Equal(t, http.StatusConflict, gateway.StatusOf(err))
	snap := s.wiz.Snapshot()
	assert.Equal(t, wizard.PhaseActive, snap.Phase)
	assert.Equal(t, "Already registered for this event", snap.Error)
	assert.Equal(t, "Asha", snap.Fields[0].Value)
	assert.False(t, snap.Submitting)
	assert.Empty(t, s.redirector.calls)
}

func TestSubmit_UnauthorizedClearsSession(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	srv.respond(http.StatusUnauthorized, `{"message":"jwt expired"}`)
	s := newWizard(srv, &domain.User{Name: "Asha", Email: "asha@example.com"})
	ctx := context.Background()
	require.NoError(t, s.wiz.Load(ctx))
	require.NoError(t, s.wiz.Next())

	err := s.wiz.Submit(ctx)

	var lre *session.LoginRequiredError
	require.True(t, errors.As(err, &lre))
	assert.Equal(t, "/login?redirect=%2Fevents%2Ftechfest%2Fregister", lre.RedirectTo)
	assert.Equal(t, 1, s.profile.logouts)
	assert.False(t, s.profile.Authenticated(ctx))
	assert.Equal(t, lre.RedirectTo, s.wiz.Snapshot().RedirectTo)
}

func TestSubmit_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/user/events/techfest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(freeEvent))
	})
	mux.HandleFunc("/user/events/form/techfest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emptyForm))
	})
	mux.HandleFunc("/user/events/register/techfest", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"success":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	profile := &fakeProfile{authed: true, user: &domain.User{Name: "Asha", Email: "asha@example.com"}}
	wiz := wizard.New(gateway.New(srv.URL, 0, profile), profile, nil, wizard.Options{Slug: "techfest"})
	ctx := context.Background()
	require.NoError(t, wiz.Load(ctx))
	require.NoError(t, wiz.Next())

	done := make(chan error, 1)
	go func() { done <- wiz.Submit(ctx) }()

	require.Eventually(t, func() bool { return wiz.Snapshot().Submitting }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, wiz.Submit(ctx), wizard.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "Registration successful!", wiz.Snapshot().Message)
}

func TestDiscard_DropsDraft(t *testing.T) {
	srv := newAPIServer(t, freeEvent, emptyForm)
	s := newWizard(srv, nil)
	require.NoError(t, s.wiz.Load(context.Background()))
	require.NoError(t, s.wiz.SetField("name", "Asha"))

	s.wiz.Discard()

	assert.Nil(t, s.wiz.Snapshot().Fields[0].Value)
}
