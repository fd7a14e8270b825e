package account

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/matching"
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
	api.POST("/auth/signup", h.Signup)
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me, auth.RequireAuth())

	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)
	// Admins, or callers presenting the admin key, may create doctors.
	api.POST("/doctors", h.CreateDoctor)

	doctors := api.Group("/doctors", auth.RequireRole(auth.RoleAdmin))
	doctors.PATCH("/:id", h.UpdateDoctor)
	doctors.PUT("/:id", h.UpdateDoctor)
	doctors.DELETE("/:id", h.DeleteDoctor)

	self := api.Group("/doctors/:id/services", auth.RequireRole(auth.RoleDoctor))
	self.POST("", h.AddService)
	self.DELETE("", h.RemoveService)

	for _, prefix := range []string{"/admin/patients", "/patients"} {
		g := api.Group(prefix, auth.RequireRole(auth.RoleAdmin))
		g.GET("", h.ListPatients)
		g.POST("", h.CreatePatient)
		g.GET("/:id", h.GetPatient)
		g.PATCH("/:id", h.UpdatePatient)
		g.PUT("/:id", h.UpdatePatient)
		g.DELETE("/:id", h.DeletePatient)
	}

	admin := api.Group("/admin/doctors", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.AdminListDoctors)
	admin.POST("", h.CreateDoctor)
	admin.GET("/:id", h.GetDoctor)
	admin.PATCH("/:id", h.UpdateDoctor)
	admin.PUT("/:id", h.UpdateDoctor)
	admin.DELETE("/:id", h.DeleteDoctor)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func orEmpty(list []*Account) []*Account {
	if list == nil {
		return []*Account{}
	}
	return list
}

// -- Auth --

func (h *Handler) Signup(c echo.Context) error {
	var in SignupInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.Signup(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.Created(c, res)
}

func (h *Handler) Login(c echo.Context) error {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		return err
	}
	return envelope.OK(c, res)
}

func (h *Handler) Me(c echo.Context) error {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	a, err := h.svc.Me(c.Request().Context(), p.ID)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	list, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("service"))
	if err != nil {
		return err
	}
	return envelope.OK(c, orEmpty(list))
}

func (h *Handler) AdminListDoctors(c echo.Context) error {
	list, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("service"))
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	return envelope.Page(c, orEmpty(pagination.Slice(list, p)), p.Meta(len(list)))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var in Profile
	if err := bind(c, &in); err != nil {
		return err
	}
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !(ok && p.Role == auth.RoleAdmin) && !h.svc.AdminKeyMatches(in.AdminKey) {
		return ErrBadAdminKey
	}
	a, err := h.svc.CreateDoctor(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.Created(c, a)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in Patch
	if err := bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.UpdateDoctor(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), id); err != nil {
		return err
	}
	return envelope.Message(c, "Doctor deleted")
}

// serviceBody accepts {"service": <ref>} or a bare ref.
type serviceBody struct {
	Service matching.ServiceRef `json:"service"`
}

func (h *Handler) bindServiceRef(c echo.Context) (uuid.UUID, matching.ServiceRef, error) {
	id, err := parseID(c)
	if err != nil {
		return uuid.Nil, matching.ServiceRef{}, err
	}
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	if p.Role != auth.RoleAdmin && p.ID != id {
		return uuid.Nil, matching.ServiceRef{}, echo.NewHTTPError(http.StatusForbidden, "doctors may only edit their own services")
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return uuid.Nil, matching.ServiceRef{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	var body serviceBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Service.IsZero() {
		var ref matching.ServiceRef
		if err := json.Unmarshal(raw, &ref); err == nil && !ref.IsZero() {
			return id, ref, nil
		}
	}
	return id, body.Service, nil
}

func (h *Handler) AddService(c echo.Context) error {
	id, ref, err := h.bindServiceRef(c)
	if err != nil {
		return err
	}
	a, err := h.svc.AddDoctorService(c.Request().Context(), id, ref)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

func (h *Handler) RemoveService(c echo.Context) error {
	id, ref, err := h.bindServiceRef(c)
	if err != nil {
		return err
	}
	if ref.IsZero() {
		if q := c.QueryParam("service"); q != "" {
			ref = matching.ParseServiceRef(q)
		}
	}
	a, err := h.svc.RemoveDoctorService(c.Request().Context(), id, ref)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	list, err := h.svc.ListPatients(c.Request().Context())
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	return envelope.Page(c, orEmpty(pagination.Slice(list, p)), p.Meta(len(list)))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var in Profile
	if err := bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.CreatePatient(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.Created(c, a)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in Patch
	if err := bind(c, &in); err != nil {
		return err
	}
	a, err := h.svc.UpdatePatient(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return envelope.OK(c, a)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return err
	}
	return envelope.Message(c, "Patient deleted")
}
