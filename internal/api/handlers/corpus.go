package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/resolvfuzz/internal/api/models"
)

// CorpusSize godoc
// @Summary Corpus size
// @Description Returns how many cases are currently indexed in a resolver's saved corpus.
// @Tags corpus
// @Produce json
// @Param resolver path string true "Resolver ID"
// @Success 200 {object} models.CorpusSizeResponse
// @Security ApiKeyAuth
// @Router /corpus/{resolver} [get]
func (h *Handler) CorpusSize(c *gin.Context) {
	resolverID := c.Param("resolver")
	if h.db == nil {
		c.JSON(http.StatusOK, models.CorpusSizeResponse{ResolverID: resolverID, Size: 0})
		return
	}
	n, err := h.db.CorpusSize(resolverID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.CorpusSizeResponse{ResolverID: resolverID, Size: n})
}
