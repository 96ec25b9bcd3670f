// Package handler exposes the model catalog over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/deepskandpal/LangChef/internal/catalog/domain"
	"github.com/deepskandpal/LangChef/internal/server/middleware"
	"github.com/deepskandpal/LangChef/internal/server/respond"
	userdomain "github.com/deepskandpal/LangChef/internal/user/domain"
)

// CatalogService is what the handler needs from the catalog (implemented by *service.Catalog).
type CatalogService interface {
	Available(ctx context.Context, u *userdomain.User) []domain.Model
	Bedrock() []domain.Model
}

// Handler serves /api/models.
type Handler struct {
	catalog CatalogService
}

// NewHandler returns a catalog Handler.
func NewHandler(catalog CatalogService) *Handler {
	return &Handler{catalog: catalog}
}

// Available lists the models the caller may use.
// GET /api/models/available
func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "invalid_token", "Could not validate credentials")
		return
	}
	respond.JSON(w, http.StatusOK, h.catalog.Available(r.Context(), u))
}

// Bedrock lists the Bedrock models. Mounted behind RequireDelegatedAccess.
// GET /api/models/bedrock
func (h *Handler) Bedrock(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.catalog.Bedrock())
}
