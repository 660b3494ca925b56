package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kramenhq/kramen/internal/oracle"
	"github.com/kramenhq/kramen/internal/orchestrator"
	"github.com/kramenhq/kramen/internal/registry"
	"github.com/kramenhq/kramen/internal/retrieval"
)

// Handler carries the wired pipeline for the HTTP surface.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Store        *retrieval.Store
	Registry     registry.Registry
	DefaultModel string
}

func (h *Handler) Register(e *echo.Echo) {
	e.POST("/upsert", h.upsert)
	e.POST("/query", h.query)
	e.POST("/identify-endpoints", h.identifyEndpoints)
	e.POST("/action", h.action)
	e.POST("/generate-steps", h.generateSteps)
	e.POST("/deep", h.deep)

	g := e.Group("/integrations")
	g.GET("", h.listIntegrations)
	g.POST("", h.createIntegration)
	g.GET("/:id", h.getIntegration)
	g.DELETE("/:id", h.deleteIntegration)
	g.GET("/:id/endpoints", h.listEndpoints)
}

func (h *Handler) model(llm string) oracle.ModelConfig {
	if llm == "" {
		llm = h.DefaultModel
	}
	return oracle.ModelConfig{Model: llm}
}

func (h *Handler) upsert(c echo.Context) error {
	var req struct {
		IntegrationID string            `json:"integration_id"`
		Text          string            `json:"text"`
		Metadata      map[string]string `json:"metadata"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.IntegrationID == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "integration_id and text are required")
	}
	if _, err := h.Registry.Get(c.Request().Context(), req.IntegrationID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	id, err := h.Store.Upsert(c.Request().Context(), req.IntegrationID, req.Text, req.Metadata)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) query(c echo.Context) error {
	var req struct {
		IntegrationID string `json:"integration_id"`
		Query         string `json:"query"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.IntegrationID == "" || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "integration_id and query are required")
	}
	candidates, err := h.Store.Query(c.Request().Context(), req.IntegrationID, req.Query)
	if err != nil {
		if errors.Is(err, retrieval.ErrNamespaceNotFound) {
			return c.JSON(http.StatusOK, map[string]interface{}{"candidates": []retrieval.Candidate{}})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func (h *Handler) identifyEndpoints(c echo.Context) error {
	var req struct {
		IntegrationID        string `json:"integration_id"`
		APIBase              string `json:"api_base"`
		Query                string `json:"query"`
		Rephrase             bool   `json:"rephrase"`
		RephraseInstructions string `json:"rephrase_instructions"`
		LLM                  string `json:"llm"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.IntegrationID == "" || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "integration_id and query are required")
	}
	op, rephrased, err := h.Orchestrator.ResolveEndpoint(c.Request().Context(), orchestrator.IdentifyRequest{
		IntegrationID:        req.IntegrationID,
		APIBase:              req.APIBase,
		Query:                req.Query,
		Rephrase:             req.Rephrase,
		RephraseInstructions: req.RephraseInstructions,
		Model:                h.model(req.LLM),
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"found":           op != nil,
		"endpoint":        op,
		"rephrased_query": rephrased,
	})
}

func (h *Handler) action(c echo.Context) error {
	var req struct {
		IntegrationID           string                 `json:"integration_id"`
		APIBase                 string                 `json:"api_base"`
		Query                   string                 `json:"query"`
		Headers                 map[string]interface{} `json:"headers"`
		LLM                     string                 `json:"llm"`
		Rephrase                bool                   `json:"rephrase"`
		RephraseInstructions    string                 `json:"rephrase_instructions"`
		AdditionalContext       string                 `json:"additional_context"`
		NaturalLanguageResponse bool                   `json:"natural_language_response"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.IntegrationID == "" || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "integration_id and query are required")
	}
	res, err := h.Orchestrator.RunAction(c.Request().Context(), orchestrator.ActionRequest{
		IntegrationID:           req.IntegrationID,
		APIBase:                 req.APIBase,
		Query:                   req.Query,
		Headers:                 req.Headers,
		Model:                   h.model(req.LLM),
		Rephrase:                req.Rephrase,
		RephraseInstructions:    req.RephraseInstructions,
		AdditionalContext:       req.AdditionalContext,
		NaturalLanguageResponse: req.NaturalLanguageResponse,
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) generateSteps(c echo.Context) error {
	var req struct {
		Goal           string   `json:"goal"`
		IntegrationIDs []string `json:"integration_ids"`
		LLM            string   `json:"llm"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal is required")
	}
	steps, integrations, err := h.Orchestrator.GenerateSteps(c.Request().Context(), orchestrator.StepsRequest{
		Goal:           req.Goal,
		IntegrationIDs: req.IntegrationIDs,
		Model:          h.model(req.LLM),
	})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"steps":        steps,
		"integrations": integrations,
	})
}

// deep streams the dynamic session as ndjson: one self-contained JSON event
// per line. Errors after the stream opens travel inside the stream.
func (h *Handler) deep(c echo.Context) error {
	var req struct {
		Goal                    string                            `json:"goal"`
		IntegrationIDs          []string                          `json:"integration_ids"`
		Headers                 map[string]interface{}            `json:"headers"`
		IntegrationHeaders      map[string]map[string]interface{} `json:"integration_headers"`
		APIBases                map[string]string                 `json:"api_bases"`
		LLM                     string                            `json:"llm"`
		Rephrase                bool                              `json:"rephrase"`
		RephraseInstructions    string                            `json:"rephrase_instructions"`
		NaturalLanguageResponse bool                              `json:"natural_language_response"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal is required")
	}

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(resp)
	emit := func(e orchestrator.Event) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := h.Orchestrator.RunDeep(c.Request().Context(), orchestrator.DeepRequest{
		Goal:                    req.Goal,
		IntegrationIDs:          req.IntegrationIDs,
		Headers:                 req.Headers,
		IntegrationHeaders:      req.IntegrationHeaders,
		APIBases:                req.APIBases,
		Model:                   h.model(req.LLM),
		Rephrase:                req.Rephrase,
		RephraseInstructions:    req.RephraseInstructions,
		NaturalLanguageResponse: req.NaturalLanguageResponse,
	}, emit); err != nil {
		// Already reported inside the stream.
		log.Printf("[HTTP] deep session aborted: %v", err)
	}
	return nil
}

func (h *Handler) listIntegrations(c echo.Context) error {
	items, err := h.Registry.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []registry.Integration{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) createIntegration(c echo.Context) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		APIBase     string `json:"api_base"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" || req.APIBase == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and api_base are required")
	}
	in, err := h.Registry.Create(c.Request().Context(), registry.Integration{
		Name:        req.Name,
		Description: req.Description,
		APIBase:     req.APIBase,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, in)
}

func (h *Handler) getIntegration(c echo.Context) error {
	in, err := h.Registry.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, in)
}

func (h *Handler) listEndpoints(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.Registry.Get(c.Request().Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	docs, err := h.Store.All(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, retrieval.ErrNamespaceNotFound) {
			return c.JSON(http.StatusOK, map[string]interface{}{"endpoints": []retrieval.Document{}})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"endpoints": docs})
}

func (h *Handler) deleteIntegration(c echo.Context) error {
	if err := h.Registry.Delete(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
