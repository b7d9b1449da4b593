package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/diagnosis/chapterhub/internal/domain"
	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/geo"
	"github.com/diagnosis/chapterhub/internal/session"
	"github.com/diagnosis/chapterhub/internal/utils"
	"github.com/diagnosis/chapterhub/pkg/logger"
)

const attendancePath = "/events/qr/attendance"

// API is the slice of the gateway the controller calls.
type API interface {
	Post(ctx context.Context, path string, body any, auth bool) (json.RawMessage, error)
}

type Locator interface {
	RequestLocation(ctx context.Context) (domain.LocationReading, error)
}

type Credentials interface {
	Authenticated(ctx context.Context) bool
	Logout(ctx context.Context) error
}

// Celebrator receives successful check-ins. It has no effect on the flow.
type Celebrator interface {
	Celebrate(ctx context.Context, outcome Outcome)
}

type CelebratorFunc func(ctx context.Context, outcome Outcome)

func (f CelebratorFunc) Celebrate(ctx context.Context, outcome Outcome) { f(ctx, outcome) }

type Options struct {
	// URLToken is the token carried by the scanned link; empty means manual entry.
	URLToken   string
	ReturnPath string
	// MaxAccuracy defaults to DefaultMaxAccuracy.
	MaxAccuracy float64
}

// Controller drives one mounted check-in screen. It is safe for concurrent use;
// overlapping location or submission requests are rejected with ErrBusy.
type Controller struct {
	api        API
	locator    Locator
	creds      Credentials
	celebrator Celebrator

	returnPath  string
	maxAccuracy float64

	mu            sync.Mutex
	mounted       bool
	state         State
	urlToken      string
	reading       *domain.LocationReading
	locErr        *geo.Failure
	token         string
	source        domain.TokenSource
	tokenConsumed bool
	autoScanned   bool
	message       string
	redirectTo    string
	attempts      int
}

func New(api API, locator Locator, creds Credentials, celebrator Celebrator, opts Options) *Controller {
	if opts.MaxAccuracy <= 0 {
		opts.MaxAccuracy = DefaultMaxAccuracy
	}
	return &Controller{
		api:         api,
		locator:     locator,
		creds:       creds,
		celebrator:  celebrator,
		returnPath:  opts.ReturnPath,
		maxAccuracy: opts.MaxAccuracy,
		state:       Idle,
		urlToken:    strings.TrimSpace(opts.URLToken),
	}
}

// Mount runs the entry guard and the initial location request. Calling it
// again on a mounted controller does nothing.
func (c *Controller) Mount(ctx context.Context) error {
	if !c.creds.Authenticated(ctx) {
		redirect := session.LoginRedirect(c.returnPath)
		c.mu.Lock()
		c.redirectTo = redirect
		c.mu.Unlock()
		return &session.LoginRequiredError{RedirectTo: redirect}
	}

	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return nil
	}
	c.mounted = true
	c.mu.Unlock()

	return c.RefreshLocation(ctx)
}

// RefreshLocation requests a fresh fix, dropping the previous one. When a URL
// token is waiting and no automatic scan has happened yet, the scan follows
// the fix. A succeeded flow only restarts through ScanAnother.
func (c *Controller) RefreshLocation(ctx context.Context) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	if c.state == AcquiringLocation || c.state == Scanning {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state == Succeeded {
		c.mu.Unlock()
		return ErrFinished
	}
	c.state = AcquiringLocation
	c.reading = nil
	c.locErr = nil
	c.message = ""
	c.mu.Unlock()

	reading, err := c.locator.RequestLocation(ctx)

	c.mu.Lock()
	if err != nil {
		var f *geo.Failure
		if !errors.As(err, &f) {
			f = &geo.Failure{Kind: geo.PositionUnavailable, Err: err}
		}
		c.state = LocationError
		c.locErr = f
		c.message = f.Message()
		c.mu.Unlock()
		logger.WarnContext(ctx, "Location unavailable for check-in", "kind", string(f.Kind))
		return nil
	}
	c.reading = &reading
	c.state = LocationReady

	token, auto := c.claimAutoScan()
	c.mu.Unlock()

	if auto {
		logger.InfoContext(ctx, "Auto-submitting check-in from link")
		return c.submit(ctx, token, domain.TokenFromURL)
	}
	return nil
}

// claimAutoScan flips the once-per-mount flag. Caller holds mu.
func (c *Controller) claimAutoScan() (string, bool) {
	if c.urlToken == "" || c.reading == nil || c.autoScanned || c.tokenConsumed {
		return "", false
	}
	c.autoScanned = true
	return c.urlToken, true
}

// SubmitManual submits a typed code. It can be repeated freely.
func (c *Controller) SubmitManual(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	return c.submit(ctx, token, domain.TokenFromManual)
}

// Retry resubmits the token of the last failed attempt.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Failed || c.token == "" {
		c.mu.Unlock()
		return ErrNotFailed
	}
	token, source := c.token, c.source
	c.mu.Unlock()

	return c.submit(ctx, token, source)
}

// ScanAnother resets a finished flow. nextURLToken is the token of a newly
// scanned link, or empty to switch to manual entry.
func (c *Controller) ScanAnother(ctx context.Context, nextURLToken string) error {
	c.mu.Lock()
	if c.state != Succeeded && c.state != Failed {
		c.mu.Unlock()
		return ErrNoResult
	}
	c.urlToken = strings.TrimSpace(nextURLToken)
	c.token = ""
	c.source = ""
	c.tokenConsumed = false
	c.autoScanned = false
	c.message = ""
	c.redirectTo = ""
	c.reading = nil
	c.state = Idle
	c.mu.Unlock()

	return c.RefreshLocation(ctx)
}

func (c *Controller) submit(ctx context.Context, token string, source domain.TokenSource) error {
	c.mu.Lock()
	if !c.mounted {
		c.mu.Unlock()
		return ErrNotMounted
	}
	if c.state == Scanning || c.state == AcquiringLocation {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.reading == nil {
		c.mu.Unlock()
		return ErrNoLocation
	}
	reading := *c.reading
	c.token = token
	c.source = source

	if reading.AccuracyMeters > c.maxAccuracy {
		c.state = Failed
		c.message = TooInaccurateMessage(c.maxAccuracy)
		c.mu.Unlock()
		logger.InfoContext(ctx, "Check-in rejected locally for low accuracy", "accuracy", reading.AccuracyMeters)
		return nil
	}

	c.state = Scanning
	c.message = ""
	c.attempts++
	c.mu.Unlock()

	raw, err := c.api.Post(ctx, attendancePath, domain.AttendanceReq{
		Token:     token,
		Latitude:  reading.Latitude,
		Longitude: reading.Longitude,
		Accuracy:  reading.AccuracyMeters,
	}, true)

	var res domain.AttendanceRes
	if err == nil {
		res, err = gateway.Decode[domain.AttendanceRes](raw)
	}

	if err == nil && !res.Success && len(raw) > 0 && !hasSuccessTrue(raw) {
		err = &gateway.Error{Status: 200, Message: utils.FirstNonEmpty(res.Message, failureFallback)}
	}

	if err != nil {
		c.fail(ctx, err)
		return nil
	}

	outcome := Outcome{
		Token:   token,
		Source:  source,
		Message: utils.FirstNonEmpty(res.Message, successFallback),
		Reading: reading,
	}

	c.mu.Lock()
	c.state = Succeeded
	c.message = outcome.Message
	c.tokenConsumed = true
	c.mu.Unlock()

	logger.InfoContext(ctx, "Check-in succeeded", "source", string(source))
	if c.celebrator != nil {
		c.celebrator.Celebrate(ctx, outcome)
	}
	return nil
}

func (c *Controller) fail(ctx context.Context, err error) {
	unauthorized := gateway.IsUnauthorized(err)
	if unauthorized {
		if logoutErr := c.creds.Logout(ctx); logoutErr != nil {
			logger.ErrorContext(ctx, "Failed to clear credential after 401", "error", logoutErr)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Failed
	if unauthorized {
		c.message = sessionExpired
		c.redirectTo = session.LoginRedirect(c.returnPath)
	} else {
		c.message = gateway.Message(err, failureFallback)
	}
	logger.WarnContext(ctx, "Check-in failed", "error", err, "status", gateway.StatusOf(err))
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		URLToken:      c.urlToken,
		Mode:          domain.TokenFromManual,
		Token:         c.token,
		TokenConsumed: c.tokenConsumed,
		AutoScanned:   c.autoScanned,
		Message:       c.message,
		RedirectTo:    c.redirectTo,
		Attempts:      c.attempts,
	}
	if c.urlToken != "" {
		snap.Mode = domain.TokenFromURL
	}
	if c.reading != nil {
		r := *c.reading
		snap.Location = &r
	}
	if c.locErr != nil {
		snap.LocationError = c.locErr.Kind
		snap.NeedsSettings = c.locErr.NeedsSettings()
	}
	return snap
}

// hasSuccessTrue tolerates APIs that omit the success flag on 2xx.
func hasSuccessTrue(raw json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	v, ok := fields["success"]
	if !ok {
		return true
	}
	return string(v) == "true"
}
