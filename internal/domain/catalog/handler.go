package catalog

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/platform/auth"
	"github.com/clinicbook/clinic/internal/platform/envelope"
	"github.com/clinicbook/clinic/pkg/pagination"
)

type Handler struct {
	cat *Catalog
}

func NewHandler(cat *Catalog) *Handler {
	return &Handler{cat: cat}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/services", h.List)
	api.GET("/services/slug/:slug", h.GetBySlug)
	api.GET("/services/:id", h.Get)

	write := api.Group("/services", auth.RequireCapability(auth.CapManageCatalog))
	write.POST("", h.Create)
	write.PATCH("/:id", h.Update)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Delete)

	admin := api.Group("/admin/services", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.AdminList)
	admin.GET("/:id", h.Get)
	admin.POST("", h.Create)
	admin.PATCH("/:id", h.Update)
	admin.PUT("/:id", h.Update)
	admin.DELETE("/:id", h.Delete)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	list, err := h.cat.List(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*Service{}
	}
	return envelope.OK(c, list)
}

func (h *Handler) AdminList(c echo.Context) error {
	list, err := h.cat.List(c.Request().Context())
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	return envelope.Page(c, pagination.Slice(list, p), p.Meta(len(list)))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	svc, err := h.cat.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return envelope.OK(c, svc)
}

func (h *Handler) GetBySlug(c echo.Context) error {
	svc, err := h.cat.GetBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return envelope.OK(c, svc)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	svc, err := h.cat.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return envelope.Created(c, svc)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	svc, err := h.cat.Update(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return envelope.OK(c, svc)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.cat.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return envelope.Message(c, "Service deleted")
}
