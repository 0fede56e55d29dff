package account

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abrechnung/console/internal/platform/httpx"
	"github.com/abrechnung/console/internal/shared"
	"github.com/abrechnung/console/internal/view"
)

const passwordTemplate = "pages/change_password.html"

// Handler serves the password change page and its JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	submitter *Submitter
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, submitter *Submitter, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, submitter: submitter, templates: templates, csrf: csrf}
}

// MountRoutes registers the page routes, expected under /account.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/password", h.showForm)
	r.Post("/password", h.submitForm)
}

// MountAPIRoutes registers the JSON routes, expected under /api/account.
func (h *Handler) MountAPIRoutes(r chi.Router) {
	r.Post("/password/validate", h.validateAPI)
	r.Post("/password", h.submitAPI)
}

type passwordField struct {
	Name         string
	Label        string
	AutoComplete string
	AutoFocus    bool
	Error        string
}

type passwordPageData struct {
	Fields   []passwordField
	InFlight bool
}

// newPasswordPage never carries the submitted values back into the page.
func newPasswordPage(errs FieldErrors, inFlight bool) passwordPageData {
	return passwordPageData{
		Fields: []passwordField{
			{Name: FieldCurrentPassword, Label: "Password", AutoComplete: "current-password", AutoFocus: true, Error: errs[FieldCurrentPassword]},
			{Name: FieldNewPassword, Label: "New Password", AutoComplete: "new-password", Error: errs[FieldNewPassword]},
			{Name: FieldNewPasswordConfirmation, Label: "Repeat Password", AutoComplete: "new-password", Error: errs[FieldNewPasswordConfirmation]},
		},
		InFlight: inFlight,
	}
}

func (h *Handler) showForm(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if _, ok := sess.Principal(); !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	inFlight := h.submitter.InFlight(r.Context(), sess.ID)
	h.render(w, r, newPasswordPage(nil, inFlight), http.StatusOK)
}

func (h *Handler) submitForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	principal, ok := sess.Principal()
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	res := h.submitter.Submit(r.Context(), sess.ID, principal, FormFromValues(r.PostForm), FlashNotifier{Session: sess})
	switch res.Outcome {
	case OutcomeInvalid:
		h.render(w, r, newPasswordPage(res.Errors, false), http.StatusBadRequest)
	case OutcomeBusy:
		h.render(w, r, newPasswordPage(nil, true), http.StatusConflict)
	default:
		// The outcome toast is already queued on the session.
		http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
	}
}

type validateResponse struct {
	Errors FieldErrors `json:"errors"`
}

func (h *Handler) validateAPI(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed form body")
		return
	}
	httpx.JSON(w, http.StatusOK, validateResponse{Errors: Validate(FormFromValues(r.PostForm))})
}

type submitResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (h *Handler) submitAPI(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	principal, ok := sess.Principal()
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var form Form
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	res := h.submitter.Submit(r.Context(), sess.ID, principal, form, DiscardNotifier{})
	switch res.Outcome {
	case OutcomeSucceeded:
		httpx.JSON(w, http.StatusOK, submitResponse{OK: true, Message: res.Message})
	case OutcomeInvalid:
		httpx.JSON(w, http.StatusBadRequest, validateResponse{Errors: res.Errors})
	case OutcomeBusy:
		httpx.Problem(w, http.StatusConflict, "Submission In Flight", res.Message)
	default:
		if errors.Is(res.Err, shared.ErrUnauthenticated) {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		httpx.Problem(w, rejectionStatus(res.Err), "Password Change Failed", res.Message)
	}
}

// statusCoder is implemented by backend errors that carry an upstream HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func rejectionStatus(err error) int {
	if errors.Is(err, ErrCurrentPasswordInvalid) || errors.Is(err, shared.ErrInvalidCredentials) {
		return http.StatusBadRequest
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() >= 400 && sc.HTTPStatus() < 500 {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data passwordPageData, status int) {
	viewData := view.PageData(r, h.csrf, "Change Password", data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, passwordTemplate, viewData); err != nil {
		h.logger.Error("render change password", slog.Any("error", err))
	}
}
