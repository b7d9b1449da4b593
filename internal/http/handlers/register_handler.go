package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/chapterhub/internal/flows"
	"github.com/diagnosis/chapterhub/internal/http/response"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/internal/wizard"
	"github.com/diagnosis/chapterhub/pkg/events"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

const maxUploadSize = 10 << 20

type RegisterHandler struct {
	API           wizard.API
	Profile       wizard.Profile
	Bus           events.Publisher
	Flows         *flows.Registry[*wizard.Wizard]
	RedirectDelay time.Duration
}

func NewRegisterHandler(api wizard.API, profile wizard.Profile, bus events.Publisher, reg *flows.Registry[*wizard.Wizard], redirectDelay time.Duration) *RegisterHandler {
	return &RegisterHandler{API: api, Profile: profile, Bus: bus, Flows: reg, RedirectDelay: redirectDelay}
}

func (h *RegisterHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{slug}", h.start)
	r.Route("/flows/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/fields", h.setFields)
		r.Put("/files/{field}", h.attachFile)
		r.Post("/next", h.next)
		r.Post("/back", h.back)
		r.Post("/payment", h.payment)
		r.Post("/submit", h.submit)
		r.Delete("/", h.discard)
	})
	return r
}

type wizardView struct {
	ID string `json:"id"`
	wizard.Snapshot
}

func (h *RegisterHandler) start(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		response.BadRequest(w, "event slug is required")
		return
	}

	var id string
	redirector := wizard.RedirectorFunc(func(ctx context.Context, target string, after time.Duration) {
		h.publish(ctx, events.RegistrationRedirected, events.RegistrationEvent{
			FlowID:     id,
			EventSlug:  slug,
			RedirectTo: target,
			At:         time.Now().UTC().Add(after),
		})
	})
	wiz := wizard.New(h.API, h.Profile, redirector, wizard.Options{
		Slug:          slug,
		ReturnPath:    r.URL.Query().Get("return"),
		RedirectDelay: h.RedirectDelay,
	})

	if err := wiz.Load(r.Context()); err != nil {
		writeWizardError(w, err)
		return
	}
	id = h.Flows.Add(wiz)
	logger.InfoContext(logger.WithFlow(r.Context(), id), "Registration flow created", "slug", slug)

	response.WriteJSON(w, http.StatusCreated, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) flow(w http.ResponseWriter, r *http.Request) (string, *wizard.Wizard, bool) {
	id := chi.URLParam(r, "id")
	wiz, ok := h.Flows.Get(id)
	if !ok {
		response.NotFound(w, "registration flow not found")
		return "", nil, false
	}
	return id, wiz, true
}

func (h *RegisterHandler) get(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) setFields(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	var in map[string]any
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}

	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := wiz.SetField(name, in[name]); err != nil {
			writeWizardError(w, err)
			return
		}
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) attachFile(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		response.BadRequest(w, "file is missing or too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(w, "failed to read file")
		return
	}
	ref := wizard.FileRef{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        len(data),
		Data:        data,
	}
	if err := wiz.AttachFile(chi.URLParam(r, "field"), ref); err != nil {
		writeWizardError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) next(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	if err := wiz.Next(); err != nil {
		writeWizardError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) back(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	if err := wiz.Back(); err != nil && !errors.Is(err, wizard.ErrFirstStep) {
		writeWizardError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) payment(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	var in struct {
		Method string `json:"method"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}
	if err := wiz.SelectPayment(in.Method); err != nil {
		writeWizardError(w, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: wiz.Snapshot()})
}

func (h *RegisterHandler) submit(w http.ResponseWriter, r *http.Request) {
	id, wiz, ok := h.flow(w, r)
	if !ok {
		return
	}
	ctx := logger.WithFlow(r.Context(), id)
	if err := wiz.Submit(ctx); err != nil {
		writeWizardError(w, err)
		return
	}

	snap := wiz.Snapshot()
	h.publish(ctx, events.RegistrationSubmitted, events.RegistrationEvent{
		FlowID:     id,
		EventSlug:  snapshotSlug(snap),
		RedirectTo: snap.RedirectTo,
		At:         time.Now().UTC(),
	})
	response.WriteJSON(w, http.StatusOK, wizardView{ID: id, Snapshot: snap})
}

func (h *RegisterHandler) discard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wiz, ok := h.Flows.Get(id)
	if !ok {
		response.NotFound(w, "registration flow not found")
		return
	}
	wiz.Discard()
	h.Flows.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RegisterHandler) publish(ctx context.Context, subject string, data any) {
	if h.Bus == nil {
		return
	}
	if err := h.Bus.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}

func snapshotSlug(s wizard.Snapshot) string {
	if s.Event == nil {
		return ""
	}
	return s.Event.Slug
}

func writeWizardError(w http.ResponseWriter, err error) {
	var (
		verr *wizard.ValidationError
		lre  *session.LoginRequiredError
	)
	switch {
	case errors.As(err, &lre):
		response.LoginRequired(w, lre.RedirectTo)
	case errors.As(err, &verr):
		response.WriteErrorWithDetails(w, http.StatusUnprocessableEntity, verr.Message, response.CodeValidation, verr.Field)
	case errors.Is(err, wizard.ErrUnknownField),
		errors.Is(err, wizard.ErrReadOnly),
		errors.Is(err, wizard.ErrInvalidValue),
		errors.Is(err, wizard.ErrPaymentMethod):
		response.BadRequest(w, err.Error())
	case errors.Is(err, wizard.ErrNotLoaded),
		errors.Is(err, wizard.ErrClosed),
		errors.Is(err, wizard.ErrFinished),
		errors.Is(err, wizard.ErrBusy),
		errors.Is(err, wizard.ErrFirstStep),
		errors.Is(err, wizard.ErrNotFinalStep),
		errors.Is(err, wizard.ErrWrongStep):
		response.Conflict(w, err.Error())
	default:
		response.FromGateway(w, err)
	}
}
