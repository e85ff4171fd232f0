package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"annotator/internal/service"
)

type vehicleLister interface {
	List() ([]service.Vehicle, error)
}

type VehicleHandler struct {
	Catalog vehicleLister
}

func (h *VehicleHandler) Register(r *gin.Engine) {
	r.GET("/api/config/vehicles", h.list)
}

// @Summary Vehicle classes offered to annotators
// @Tags config
// @Success 200 {object} apiResponse
// @Router /api/config/vehicles [get]
func (h *VehicleHandler) list(c *gin.Context) {
	if h.Catalog == nil {
		Error(c, http.StatusInternalServerError, "vehicle catalog unavailable", nil)
		return
	}
	items, err := h.Catalog.List()
	if err != nil {
		Error(c, http.StatusInternalServerError, "error with vehicles file", nil)
		return
	}
	Ok(c, items, nil)
}
