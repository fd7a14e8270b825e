package availability

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/domain/account"
	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/envelope"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/availability", h.List)
	api.GET("/availability/doctors", h.AvailableDoctors)
	api.GET("/availability/:date", h.ListByDate)

	g := api.Group("/availability", auth.RequireCapability(auth.CapManageSlots))
	g.POST("", h.Create)
	g.DELETE("", h.DeleteByDate)
	g.PUT("/:id", h.Update)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

func orEmpty(list []*Slot) []*Slot {
	if list == nil {
		return []*Slot{}
	}
	return list
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", field))
	}
	return id, nil
}

// readDoctor picks the doctor whose slots are read: the doctorId query,
// else the calling doctor.
func readDoctor(c echo.Context) (uuid.UUID, error) {
	if q := c.QueryParam("doctorId"); q != "" {
		return parseUUID(q, "doctorId")
	}
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok && p.Role == auth.RoleDoctor {
		return p.ID, nil
	}
	return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "doctorId or service is required")
}

// writeDoctor picks the doctor whose slots are written. Doctors always
// write their own; admins must name one.
func writeDoctor(c echo.Context, bodyID string) (uuid.UUID, error) {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	raw := c.QueryParam("doctorId")
	if raw == "" {
		raw = bodyID
	}
	if p.Role == auth.RoleDoctor {
		if raw != "" && raw != p.ID.String() {
			return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "doctors may only manage their own availability")
		}
		return p.ID, nil
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "doctorId is required")
	}
	return parseUUID(raw, "doctorId")
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	if service := c.QueryParam("service"); service != "" {
		list, err := h.svc.ListForService(ctx, service, c.QueryParam("date"))
		if err != nil {
			return err
		}
		return envelope.OK(c, orEmpty(list))
	}
	doctorID, err := readDoctor(c)
	if err != nil {
		return err
	}
	list, err := h.svc.List(ctx, doctorID)
	if err != nil {
		return err
	}
	return envelope.OK(c, orEmpty(list))
}

func (h *Handler) ListByDate(c echo.Context) error {
	doctorID, err := readDoctor(c)
	if err != nil {
		return err
	}
	list, err := h.svc.ListByDate(c.Request().Context(), doctorID, c.Param("date"))
	if err != nil {
		return err
	}
	return envelope.OK(c, orEmpty(list))
}

func (h *Handler) AvailableDoctors(c echo.Context) error {
	list, err := h.svc.AvailableDoctors(c.Request().Context(),
		c.QueryParam("service"), c.QueryParam("date"), c.QueryParam("startTime"), c.QueryParam("endTime"))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*account.Account{}
	}
	return envelope.OK(c, list)
}

// createBody accepts a batch under "slots" or a single start/end pair.
type createBody struct {
	DoctorID string        `json:"doctorId"`
	Date     string        `json:"date"`
	Slots    []WindowInput `json:"slots"`
	Start    string        `json:"start"`
	End      string        `json:"end"`
}

func (h *Handler) Create(c echo.Context) error {
	var body createBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	doctorID, err := writeDoctor(c, body.DoctorID)
	if err != nil {
		return err
	}
	windows := body.Slots
	if len(windows) == 0 && (body.Start != "" || body.End != "") {
		windows = []WindowInput{{Start: body.Start, End: body.End}}
	}
	slots, err := h.svc.CreateSlots(c.Request().Context(), doctorID, body.Date, windows)
	if err != nil {
		return err
	}
	return envelope.Created(c, slots)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseUUID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var patch SlotPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	slot, err := h.svc.UpdateSlot(c.Request().Context(), p, id, patch)
	if err != nil {
		return err
	}
	return envelope.OK(c, slot)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseUUID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if err := h.svc.DeleteSlot(c.Request().Context(), p, id); err != nil {
		return err
	}
	return envelope.Message(c, "Slot deleted")
}

func (h *Handler) DeleteByDate(c echo.Context) error {
	var body struct {
		DoctorID string `json:"doctorId"`
		Date     string `json:"date"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Date == "" {
		body.Date = c.QueryParam("date")
	}
	doctorID, err := writeDoctor(c, body.DoctorID)
	if err != nil {
		return err
	}
	n, err := h.svc.DeleteByDate(c.Request().Context(), doctorID, body.Date)
	if err != nil {
		return err
	}
	return envelope.Message(c, fmt.Sprintf("%d slots deleted", n))
}
