package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/chapterhub/internal/checkin"
	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/flows"
	"github.com/diagnosis/chapterhub/internal/geo"
	"github.com/diagnosis/chapterhub/internal/http/response"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/pkg/events"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

// CheckInFlow is one mounted check-in screen. Relay is nil when readings come
// from a fixed provider.
type CheckInFlow struct {
	Controller *checkin.Controller
	Relay      *geo.Relay
}

type CheckInConfig struct {
	GeoTimeout  time.Duration
	MaxAccuracy float64
	// Static replaces the browser relay with a fixed fix when set.
	Static *domain.LocationReading
}

type CheckInHandler struct {
	API   checkin.API
	Creds checkin.Credentials
	Bus   events.Publisher
	Flows *flows.Registry[*CheckInFlow]
	Cfg   CheckInConfig
}

func NewCheckInHandler(api checkin.API, creds checkin.Credentials, bus events.Publisher, reg *flows.Registry[*CheckInFlow], cfg CheckInConfig) *CheckInHandler {
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = geo.DefaultTimeout
	}
	return &CheckInHandler{API: api, Creds: creds, Bus: bus, Flows: reg, Cfg: cfg}
}

func (h *CheckInHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/flows", h.create)
	r.Route("/flows/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/location", h.location)
		r.Post("/submit", h.submit)
		r.Post("/retry", h.retry)
		r.Post("/scan-another", h.scanAnother)
		r.Delete("/", h.remove)
	})
	return r
}

type checkInView struct {
	ID string `json:"id"`
	checkin.Snapshot
}

func (h *CheckInHandler) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token      string `json:"token"`
		ReturnPath string `json:"return_path"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}
	if in.ReturnPath == "" {
		in.ReturnPath = "/checkin"
		if in.Token != "" {
			in.ReturnPath += "?" + url.Values{"token": {in.Token}}.Encode()
		}
	}

	if !h.Creds.Authenticated(r.Context()) {
		response.LoginRequired(w, session.LoginRedirect(in.ReturnPath))
		return
	}

	flow := &CheckInFlow{}
	var provider geo.Provider
	if h.Cfg.Static != nil {
		provider = geo.Static{Reading: *h.Cfg.Static}
	} else {
		flow.Relay = geo.NewRelay()
		provider = flow.Relay
	}

	var id string
	celebrate := checkin.CelebratorFunc(func(ctx context.Context, o checkin.Outcome) {
		h.publish(ctx, events.CheckInSucceeded, events.CheckInEvent{
			FlowID:    id,
			Source:    string(o.Source),
			Message:   o.Message,
			Latitude:  o.Reading.Latitude,
			Longitude: o.Reading.Longitude,
			Accuracy:  o.Reading.AccuracyMeters,
			At:        time.Now().UTC(),
		})
	})
	flow.Controller = checkin.New(h.API, geo.NewService(provider, h.Cfg.GeoTimeout), h.Creds, celebrate, checkin.Options{
		URLToken:    in.Token,
		ReturnPath:  in.ReturnPath,
		MaxAccuracy: h.Cfg.MaxAccuracy,
	})
	id = h.Flows.Add(flow)

	ctx := logger.WithFlow(detach(r.Context()), id)
	logger.InfoContext(ctx, "Check-in flow created", "auto", in.Token != "")
	go func() {
		if err := flow.Controller.Mount(ctx); err != nil {
			logger.WarnContext(ctx, "Check-in mount failed", "error", err)
		}
	}()

	response.WriteJSON(w, http.StatusAccepted, checkInView{ID: id, Snapshot: flow.Controller.Snapshot()})
}

func (h *CheckInHandler) flow(w http.ResponseWriter, r *http.Request) (string, *CheckInFlow, bool) {
	id := chi.URLParam(r, "id")
	flow, ok := h.Flows.Get(id)
	if !ok {
		response.NotFound(w, "check-in flow not found")
		return "", nil, false
	}
	return id, flow, true
}

func (h *CheckInHandler) get(w http.ResponseWriter, r *http.Request) {
	id, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	response.WriteJSON(w, http.StatusOK, checkInView{ID: id, Snapshot: flow.Controller.Snapshot()})
}

// location relays the browser's fix (or its failure) to the controller and
// waits for the resulting state, including an automatic scan.
func (h *CheckInHandler) location(w http.ResponseWriter, r *http.Request) {
	id, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	if flow.Relay == nil {
		response.Conflict(w, "location is provided by the server for this flow")
		return
	}

	var in struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Accuracy  float64  `json:"accuracy"`
		Error     string   `json:"error"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}

	var deliver func() bool
	switch {
	case in.Error != "":
		kind, ok := geo.ParseKind(in.Error)
		if !ok {
			response.BadRequest(w, "unknown location error")
			return
		}
		deliver = func() bool { return flow.Relay.Fail(kind) }
	case in.Latitude != nil && in.Longitude != nil:
		reading := domain.LocationReading{Latitude: *in.Latitude, Longitude: *in.Longitude, AccuracyMeters: in.Accuracy}
		deliver = func() bool { return flow.Relay.Offer(reading) }
	default:
		response.BadRequest(w, "latitude and longitude are required")
		return
	}

	switch flow.Controller.Snapshot().State {
	case checkin.Succeeded:
		writeCheckInError(w, checkin.ErrFinished)
		return
	case checkin.Scanning:
		writeCheckInError(w, checkin.ErrBusy)
		return
	case checkin.AcquiringLocation:
		// mount or scan-another already asked for a fix
	default:
		ctx := logger.WithFlow(detach(r.Context()), id)
		go func() {
			if err := flow.Controller.RefreshLocation(ctx); err != nil && !errors.Is(err, checkin.ErrBusy) {
				logger.DebugContext(ctx, "Location refresh skipped", "error", err)
			}
		}()
	}

	// the fix is only handed to a request that is waiting for it
	if !await(r.Context(), h.Cfg.GeoTimeout, flow.Relay.Waiting) || !deliver() {
		response.Conflict(w, "no location request is pending for this flow")
		return
	}

	await(r.Context(), h.Cfg.GeoTimeout, func() bool { return settled(flow.Controller.Snapshot().State) })
	h.writeSnapshot(w, id, flow)
}

func (h *CheckInHandler) submit(w http.ResponseWriter, r *http.Request) {
	id, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	var in struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		response.BadRequest(w, "invalid input")
		return
	}

	ctx := logger.WithFlow(r.Context(), id)
	if err := flow.Controller.SubmitManual(ctx, in.Token); err != nil {
		writeCheckInError(w, err)
		return
	}
	h.afterAttempt(ctx, id, flow)
	h.writeSnapshot(w, id, flow)
}

func (h *CheckInHandler) retry(w http.ResponseWriter, r *http.Request) {
	id, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	ctx := logger.WithFlow(r.Context(), id)
	if err := flow.Controller.Retry(ctx); err != nil {
		writeCheckInError(w, err)
		return
	}
	h.afterAttempt(ctx, id, flow)
	h.writeSnapshot(w, id, flow)
}

// scanAnother resets a finished flow; the new location arrives through
// /location unless the provider is static.
func (h *CheckInHandler) scanAnother(w http.ResponseWriter, r *http.Request) {
	id, flow, ok := h.flow(w, r)
	if !ok {
		return
	}
	var in struct {
		Token string `json:"token"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			response.BadRequest(w, "invalid input")
			return
		}
	}
	if st := flow.Controller.Snapshot().State; st != checkin.Succeeded && st != checkin.Failed {
		writeCheckInError(w, checkin.ErrNoResult)
		return
	}

	ctx := logger.WithFlow(detach(r.Context()), id)
	go func() {
		if err := flow.Controller.ScanAnother(ctx, in.Token); err != nil {
			logger.DebugContext(ctx, "Scan another skipped", "error", err)
		}
	}()

	await(r.Context(), time.Second, func() bool { return flow.Controller.Snapshot().State != checkin.Succeeded && flow.Controller.Snapshot().State != checkin.Failed })
	response.WriteJSON(w, http.StatusAccepted, checkInView{ID: id, Snapshot: flow.Controller.Snapshot()})
}

func (h *CheckInHandler) remove(w http.ResponseWriter, r *http.Request) {
	if !h.Flows.Delete(chi.URLParam(r, "id")) {
		response.NotFound(w, "check-in flow not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckInHandler) afterAttempt(ctx context.Context, id string, flow *CheckInFlow) {
	snap := flow.Controller.Snapshot()
	if snap.State != checkin.Failed {
		return
	}
	ev := events.CheckInEvent{FlowID: id, Source: string(snap.Mode), Message: snap.Message, At: time.Now().UTC()}
	if snap.Location != nil {
		ev.Latitude, ev.Longitude, ev.Accuracy = snap.Location.Latitude, snap.Location.Longitude, snap.Location.AccuracyMeters
	}
	h.publish(ctx, events.CheckInFailed, ev)
}

func (h *CheckInHandler) publish(ctx context.Context, subject string, data any) {
	if h.Bus == nil {
		return
	}
	if err := h.Bus.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}

// writeSnapshot answers 401 with the login redirect when the API rejected the
// credential mid-flow.
func (h *CheckInHandler) writeSnapshot(w http.ResponseWriter, id string, flow *CheckInFlow) {
	snap := flow.Controller.Snapshot()
	if snap.RedirectTo != "" {
		response.WriteJSON(w, http.StatusUnauthorized, struct {
			response.ErrorResponse
			Flow checkInView `json:"flow"`
		}{
			ErrorResponse: response.ErrorResponse{Error: snap.Message, Code: response.CodeLoginRequired, Redirect: snap.RedirectTo},
			Flow:          checkInView{ID: id, Snapshot: snap},
		})
		return
	}
	response.WriteJSON(w, http.StatusOK, checkInView{ID: id, Snapshot: snap})
}

func settled(s checkin.State) bool {
	return s != checkin.Idle && s != checkin.AcquiringLocation && s != checkin.Scanning
}

func writeCheckInError(w http.ResponseWriter, err error) {
	var lre *session.LoginRequiredError
	switch {
	case errors.As(err, &lre):
		response.LoginRequired(w, lre.RedirectTo)
	case errors.Is(err, checkin.ErrEmptyToken):
		response.BadRequest(w, "Please enter a check-in code")
	case errors.Is(err, checkin.ErrBusy),
		errors.Is(err, checkin.ErrNoLocation),
		errors.Is(err, checkin.ErrNotFailed),
		errors.Is(err, checkin.ErrNotMounted),
		errors.Is(err, checkin.ErrNoResult),
		errors.Is(err, checkin.ErrFinished):
		response.Conflict(w, err.Error())
	default:
		response.FromGateway(w, err)
	}
}
