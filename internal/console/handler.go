package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/resource"
	"github.com/clinicdesk/clinicdesk/internal/search"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	store    store.Store
	registry *Registry
	maxAge   time.Duration
	logger   zerolog.Logger
}

// NewHandler serves the console over s. A list older than maxAge is
// refetched when it is next read; zero only refetches failed lists.
func NewHandler(s store.Store, registry *Registry, maxAge time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{store: s, registry: registry, maxAge: maxAge, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireSession())

	registerResource(g, h, resourceRoutes[identity.Patient, identity.PatientDraft]{
		path:       "/patients",
		controller: func(w *Workspace) *resource.Controller[identity.Patient] { return w.Patients },
		form:       func(w *Workspace) *form.Coordinator[identity.Patient, identity.PatientDraft] { return w.PatientForm },
		scratch:    func(w *Workspace) *form.Coordinator[identity.Patient, identity.PatientDraft] { return identity.NewPatientForm(w.Patients) },
		view:       func(w *Workspace) *search.View[identity.Patient] { return w.PatientView },
	})
	registerResource(g, h, resourceRoutes[identity.Doctor, identity.DoctorDraft]{
		path:       "/doctors",
		controller: func(w *Workspace) *resource.Controller[identity.Doctor] { return w.Doctors },
		form:       func(w *Workspace) *form.Coordinator[identity.Doctor, identity.DoctorDraft] { return w.DoctorForm },
		scratch:    func(w *Workspace) *form.Coordinator[identity.Doctor, identity.DoctorDraft] { return identity.NewDoctorForm(w.Doctors) },
		view:       func(w *Workspace) *search.View[identity.Doctor] { return w.DoctorView },
	})
	g.GET("/appointments/options", h.AppointmentOptions)
	registerResource(g, h, resourceRoutes[scheduling.Appointment, scheduling.AppointmentDraft]{
		path:       "/appointments",
		controller: func(w *Workspace) *resource.Controller[scheduling.Appointment] { return w.Appointments },
		form: func(w *Workspace) *form.Coordinator[scheduling.Appointment, scheduling.AppointmentDraft] {
			return w.AppointmentForm
		},
		scratch: func(w *Workspace) *form.Coordinator[scheduling.Appointment, scheduling.AppointmentDraft] {
			return scheduling.NewAppointmentForm(w.Appointments, w.loc)
		},
		view: func(w *Workspace) *search.View[scheduling.Appointment] { return w.AppointmentView },
	})

	g.GET("/dashboard", h.Dashboard)
}

// workspace returns the caller's workspace. RequireSession guarantees an identity.
func (h *Handler) workspace(c echo.Context) (*Workspace, auth.Session) {
	s := auth.SessionFromContext(c.Request().Context())
	return h.registry.Get(s.Identity.ID), s
}

func (h *Handler) Dashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, LoadDashboard(c.Request().Context(), h.store))
}

func (h *Handler) AppointmentOptions(c echo.Context) error {
	opts, err := scheduling.LoadOptions(c.Request().Context(), h.store)
	if err != nil {
		h.logger.Warn().Err(err).Msg("loading appointment options")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: &failureBody{
			Kind:   resource.KindFetch.String(),
			Op:     "options",
			Reason: store.Reason(err),
		}})
	}
	return c.JSON(http.StatusOK, opts)
}

// -- generic resource routes --

// resourceRoutes binds one relation's routes to its workspace parts. scratch
// builds a private form for the one-shot create and update routes, which
// leave the draft open under /form alone.
type resourceRoutes[T resource.Record, D form.Draft] struct {
	path       string
	controller func(*Workspace) *resource.Controller[T]
	form       func(*Workspace) *form.Coordinator[T, D]
	scratch    func(*Workspace) *form.Coordinator[T, D]
	view       func(*Workspace) *search.View[T]
}

type failureBody struct {
	Kind     string            `json:"kind"`
	Op       string            `json:"op,omitempty"`
	Relation string            `json:"relation,omitempty"`
	Reason   string            `json:"reason"`
	Applied  bool              `json:"applied,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error *failureBody `json:"error"`
}

type listResponse struct {
	*pagination.Response
	Query       string           `json:"query"`
	Version     uint64           `json:"version"`
	Permissions auth.Permissions `json:"permissions"`
	FetchedAt   *time.Time       `json:"fetched_at,omitempty"`
	FetchError  *failureBody     `json:"fetch_error,omitempty"`
}

type formResponse struct {
	Open  bool   `json:"open"`
	Mode  string `json:"mode,omitempty"`
	ID    string `json:"id,omitempty"`
	Draft any    `json:"draft,omitempty"`
}

type mutationResponse struct {
	Version uint64 `json:"version"`
	Total   int    `json:"total"`
}

func registerResource[T resource.Record, D form.Draft](g *echo.Group, h *Handler, r resourceRoutes[T, D]) {
	g.GET(r.path, func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		// A failed fetch is recorded on the snapshot and reported below.
		_ = ctl.Revalidate(c.Request().Context(), s, h.maxAge)

		snap := ctl.Snapshot()
		q := c.QueryParam("q")
		rows := r.view(ws).Apply(snap.Rows, snap.Version, q)
		pg := pagination.FromContext(c)

		resp := listResponse{
			Response:    pagination.NewResponse(pagination.Page(rows, pg), len(rows), pg.Limit, pg.Offset),
			Query:       q,
			Version:     snap.Version,
			Permissions: ctl.Permissions(),
			FetchError:  toFailureBody(snap.Err),
		}
		if !snap.FetchedAt.IsZero() {
			resp.FetchedAt = &snap.FetchedAt
		}
		return c.JSON(http.StatusOK, resp)
	})

	g.POST(r.path+"/refresh", func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		ctx := c.Request().Context()
		if ctl.Snapshot().Session.Key() != s.Key() {
			// Binding a new session already refreshes.
			if err := ctl.Bind(ctx, s); err != nil {
				return failure(c, err)
			}
			return c.JSON(http.StatusOK, mutated(ctl))
		}
		if err := ctl.Refresh(ctx); err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, mutated(ctl))
	})

	g.GET(r.path+"/form", func(c echo.Context) error {
		ws, _ := h.workspace(c)
		return c.JSON(http.StatusOK, toFormResponse(r.form(ws).State()))
	})

	g.POST(r.path+"/form", func(c echo.Context) error {
		ws, s := h.workspace(c)
		_ = r.controller(ws).Bind(c.Request().Context(), s)
		return c.JSON(http.StatusOK, toFormResponse(r.form(ws).OpenCreate()))
	})

	g.POST(r.path+"/:id/form", func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		_ = ctl.Bind(c.Request().Context(), s)
		rec, ok := ctl.Find(c.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		return c.JSON(http.StatusOK, toFormResponse(r.form(ws).OpenEdit(rec)))
	})

	g.PATCH(r.path+"/form", func(c echo.Context) error {
		ws, _ := h.workspace(c)
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		st, err := merge(r.form(ws), body)
		if err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, toFormResponse(st))
	})

	g.DELETE(r.path+"/form", func(c echo.Context) error {
		ws, _ := h.workspace(c)
		f := r.form(ws)
		f.Cancel()
		return c.JSON(http.StatusOK, toFormResponse(f.State()))
	})

	g.POST(r.path+"/form/submit", func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		ctx := c.Request().Context()
		_ = ctl.Bind(ctx, s)
		if err := r.form(ws).Submit(ctx); err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, mutated(ctl))
	})

	g.POST(r.path, func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		ctx := c.Request().Context()
		_ = ctl.Bind(ctx, s)
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		f := r.scratch(ws)
		f.OpenCreate()
		if _, err := merge(f, body); err != nil {
			return failure(c, err)
		}
		if err := f.Submit(ctx); err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusCreated, mutated(ctl))
	})

	g.PUT(r.path+"/:id", func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		ctx := c.Request().Context()
		_ = ctl.Bind(ctx, s)
		rec, ok := ctl.Find(c.Param("id"))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "record not found")
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}

		f := r.scratch(ws)
		f.OpenEdit(rec)
		if _, err := merge(f, body); err != nil {
			return failure(c, err)
		}
		if err := f.Submit(ctx); err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, mutated(ctl))
	})

	g.DELETE(r.path+"/:id", func(c echo.Context) error {
		ws, s := h.workspace(c)
		ctl := r.controller(ws)
		ctx := c.Request().Context()
		_ = ctl.Bind(ctx, s)
		confirmed, _ := strconv.ParseBool(c.QueryParam("confirm"))
		if err := ctl.Delete(ctx, c.Param("id"), confirmed); err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, mutated(ctl))
	})
}

// merge decodes body over the open draft. Fields absent from body keep
// their current value; a body that does not decode leaves the draft as it was.
func merge[T resource.Record, D form.Draft](f *form.Coordinator[T, D], body []byte) (form.State[D], error) {
	var decodeErr error
	st, err := f.Update(func(d *D) {
		if len(body) == 0 {
			return
		}
		next := *d
		if err := json.Unmarshal(body, &next); err != nil {
			decodeErr = err
			return
		}
		*d = next
	})
	if err != nil {
		return st, err
	}
	if decodeErr != nil {
		return st, echo.NewHTTPError(http.StatusBadRequest, "invalid draft: "+decodeErr.Error())
	}
	return st, nil
}

func mutated[T resource.Record](ctl *resource.Controller[T]) mutationResponse {
	snap := ctl.Snapshot()
	return mutationResponse{Version: snap.Version, Total: len(snap.Rows)}
}

func toFormResponse[D form.Draft](st form.State[D]) formResponse {
	resp := formResponse{Open: st.Open}
	switch m := st.Mode.(type) {
	case form.Creating:
		resp.Mode = "creating"
		resp.Draft = st.Draft
	case form.Editing:
		resp.Mode = "editing"
		resp.ID = m.ID
		resp.Draft = st.Draft
	}
	return resp
}

func toFailureBody(f *resource.Failure) *failureBody {
	if f == nil {
		return nil
	}
	body := &failureBody{
		Kind:     f.Kind.String(),
		Op:       f.Op,
		Relation: f.Relation,
		Reason:   f.Reason,
		Applied:  f.Applied,
	}
	var fe form.FieldErrors
	if errors.As(f.Err, &fe) {
		body.Fields = fe
	}
	return body
}

// failure writes err with the status of its kind.
func failure(c echo.Context, err error) error {
	f, ok := resource.AsFailure(err)
	if !ok {
		return err
	}
	return c.JSON(StatusFor(err), errorResponse{Error: toFailureBody(f)})
}

// StatusFor maps a controller or form error onto an HTTP status.
func StatusFor(err error) int {
	f, ok := resource.AsFailure(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, resource.ErrNotReady),
		errors.Is(err, resource.ErrForbidden),
		errors.Is(err, store.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch f.Kind {
	case resource.KindValidation:
		return http.StatusUnprocessableEntity
	case resource.KindMutation:
		return http.StatusConflict
	case resource.KindFetch:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
