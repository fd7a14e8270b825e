package booking

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/platform/apperr"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/envelope"
	"github.com/clinicbook/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings", h.Create)

	g := api.Group("/bookings", auth.RequireAuth())
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete, auth.RequireCapability(auth.CapDeleteBooking))

	api.GET("/completions", h.Completions, auth.RequireAuth())
	api.GET("/doctors/:id/completions", h.Stats, auth.RequireAuth())

	admin := api.Group("/admin/bookings", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.AdminList)
	admin.GET("/:id", h.Get)
	admin.PATCH("/:id", h.Update)
	admin.DELETE("/:id", h.Delete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func principal(c echo.Context) auth.Principal {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return p
}

func orEmpty(list []*Booking) []*Booking {
	if list == nil {
		return []*Booking{}
	}
	return list
}

func queryFrom(c echo.Context) Query {
	return Query{
		PatientID: c.QueryParam("patientId"),
		DoctorID:  c.QueryParam("doctorId"),
		Service:   c.QueryParam("service"),
		Status:    c.QueryParam("status"),
		Date:      c.QueryParam("date"),
	}
}

// Create is public. Anonymous bookings carry no patientId; a signed-in
// patient always books for themselves.
func (h *Handler) Create(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	switch {
	case !ok:
		req.PatientID = ""
	case p.Role == auth.RolePatient:
		if req.PatientID != "" {
			if id, err := uuid.Parse(req.PatientID); err != nil || id != p.ID {
				return apperr.Forbidden("patients may only book for themselves")
			}
		}
		req.PatientID = p.ID.String()
	}
	b, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return envelope.Created(c, b)
}

func (h *Handler) List(c echo.Context) error {
	list, err := h.svc.List(c.Request().Context(), principal(c), queryFrom(c))
	if err != nil {
		return err
	}
	return envelope.OK(c, orEmpty(list))
}

func (h *Handler) AdminList(c echo.Context) error {
	list, err := h.svc.List(c.Request().Context(), principal(c), queryFrom(c))
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	return envelope.Page(c, orEmpty(pagination.Slice(list, p)), p.Meta(len(list)))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Get(c.Request().Context(), principal(c), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, b)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var p Patch
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	b, err := h.svc.Update(c.Request().Context(), principal(c), id, p)
	if err != nil {
		return err
	}
	return envelope.OK(c, b)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return envelope.Message(c, "Booking deleted")
}

func (h *Handler) Stats(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, st)
}

func (h *Handler) Completions(c echo.Context) error {
	logs, err := h.svc.Completions(c.Request().Context(), principal(c), c.QueryParam("patientId"), c.QueryParam("doctorId"))
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*CompletionLog{}
	}
	return envelope.OK(c, logs)
}
