package uptime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
	"github.com/klaxonhq/klaxon/store"
)

// ProviderHandler manages configured uptime providers and the external
// monitors mirrored from them.
type ProviderHandler struct {
	Providers store.ProviderStore
	Sync      *SyncWorker
	Logger    *slog.Logger
}

func NewProviderHandler(providers store.ProviderStore, sync *SyncWorker, logger *slog.Logger) *ProviderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderHandler{Providers: providers, Sync: sync, Logger: logger}
}

func respondErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

func (h *ProviderHandler) ListProviders(c *gin.Context) {
	providers, err := h.Providers.ListProviders(c.Request.Context(), c.GetString("org_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, providers)
}

// CreateProvider validates the credentials against the provider's API before
// storing them, then kicks off the first sync in the background.
func (h *ProviderHandler) CreateProvider(c *gin.Context) {
	var req db.CreateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := VerifyCredentials(c.Request.Context(), req.ProviderType, req.APIKey); err != nil {
		respondErr(c, err)
		return
	}

	p := &db.UptimeProvider{
		OrganizationID:      c.GetString("org_id"),
		Name:                req.Name,
		ProviderType:        req.ProviderType,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
	}
	created, err := h.Providers.CreateProvider(c.Request.Context(), p, req.APIKey)
	if err != nil {
		respondErr(c, err)
		return
	}

	go h.syncInBackground(created.ID)

	c.JSON(http.StatusCreated, created)
}

func (h *ProviderHandler) DeleteProvider(c *gin.Context) {
	p, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := h.Providers.DeleteProvider(c.Request.Context(), p.ID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "uptime provider deleted"})
}

// SyncProvider triggers an immediate sync without waiting for the interval.
func (h *ProviderHandler) SyncProvider(c *gin.Context) {
	p, err := h.getScoped(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	go h.syncInBackground(p.ID)

	c.JSON(http.StatusAccepted, gin.H{"message": "sync started"})
}

func (h *ProviderHandler) ListExternalMonitors(c *gin.Context) {
	monitors, err := h.Providers.ListExternalMonitors(c.Request.Context(),
		c.GetString("org_id"), c.Query("provider_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, monitors)
}

// syncInBackground runs a sync detached from the request that asked for it.
func (h *ProviderHandler) syncInBackground(providerID string) {
	if err := h.Sync.SyncProvider(context.Background(), providerID); err != nil {
		h.Logger.Error("background provider sync failed", "provider_id", providerID, "error", err)
	}
}

// getScoped loads the provider and hides it from callers outside its
// organization.
func (h *ProviderHandler) getScoped(c *gin.Context) (*db.UptimeProvider, error) {
	p, err := h.Providers.GetProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		return nil, err
	}
	if p.OrganizationID != c.GetString("org_id") {
		return nil, apperr.Newf(apperr.NotFound, "uptime provider %s not found", p.ID)
	}
	return p, nil
}
