package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/resolvfuzz/internal/api/models"
)

// GetDiff godoc
// @Summary Look up a discovered divergence
// @Description Returns the indexed record for one diff fingerprint discovered during fuzzing.
// @Tags diffs
// @Produce json
// @Param fingerprint path string true "Diff fingerprint"
// @Success 200 {object} models.DiffResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /diffs/{fingerprint} [get]
func (h *Handler) GetDiff(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	if h.db == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found"})
		return
	}

	d, ok, err := h.db.GetDiff(fingerprint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "diff not found"})
		return
	}

	c.JSON(http.StatusOK, models.DiffResponse{
		Fingerprint:  d.Fingerprint,
		ResolverA:    d.ResolverA,
		ResolverB:    d.ResolverB,
		CaseUUID:     d.CaseUUID,
		Categories:   d.Categories,
		DiscoveredAt: d.DiscoveredAt,
	})
}
