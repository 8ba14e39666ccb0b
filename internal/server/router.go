package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/rolodex/backend/internal/reconcile"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingEngine    = errors.New("reconciliation engine dependency required")
	errMissingImporter  = errors.New("importer dependency required")
	errMissingResolver  = errors.New("resolver dependency required")
	errMissingDirectory = errors.New("directory dependency required")
	errMissingStore     = errors.New("contact store dependency required")
)

// SyncRunner triggers a bulk reconciliation pass.
type SyncRunner interface {
	Sync(ctx context.Context) (reconcile.Report, error)
}

// RecordImporter imports one directory entry on demand.
type RecordImporter interface {
	Import(ctx context.Context, dn string, force bool) error
}

// ConflictResolver applies an operator-chosen resolution strategy.
type ConflictResolver interface {
	Resolve(ctx context.Context, contactID int64, strategy reconcile.Strategy, dn string) error
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	Engine    SyncRunner
	Importer  RecordImporter
	Resolver  ConflictResolver
	Directory reconcile.Directory
	Store     *contacts.Store
	Logger    *zap.Logger
}

// NewHTTPHandler builds the JSON trigger surface over the core services.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Engine == nil {
		return nil, errMissingEngine
	}
	if deps.Importer == nil {
		return nil, errMissingImporter
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		engine:        deps.Engine,
		importer:      deps.Importer,
		resolver:      deps.Resolver,
		searchSession: deps.Directory,
		store:         deps.Store,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/sync", handler.handleSync)
	router.GET("/directory/search", handler.handleDirectorySearch)
	router.POST("/contacts/import", handler.handleImport)
	router.POST("/contacts/:id/resolve", handler.handleResolve)
	router.DELETE("/contacts/:id", handler.handlePermanentDelete)
	router.GET("/notifications", handler.handleNotifications)

	return router, nil
}

type httpHandler struct {
	engine        SyncRunner
	importer      RecordImporter
	resolver      ConflictResolver
	searchSession reconcile.Directory
	store         *contacts.Store
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type conflictPayload struct {
	UID         string `json:"uid"`
	ContactID   int64  `json:"contact_id"`
	PeerID      int64  `json:"peer_id"`
	DirectoryDN string `json:"directory_dn"`
}

type syncResponsePayload struct {
	Added     int               `json:"added"`
	Updated   int               `json:"updated"`
	Processed int               `json:"processed"`
	Conflicts []conflictPayload `json:"conflicts"`
	Error     string            `json:"error,omitempty"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	report, err := h.engine.Sync(c.Request.Context())
	response := syncResponsePayload{
		Added:     report.Added,
		Updated:   report.Updated,
		Processed: report.Processed,
		Conflicts: make([]conflictPayload, 0, len(report.Conflicts)),
	}
	for _, conflict := range report.Conflicts {
		response.Conflicts = append(response.Conflicts, conflictPayload{
			UID:         conflict.UID,
			ContactID:   conflict.ContactID,
			PeerID:      conflict.PeerID,
			DirectoryDN: conflict.DirectoryDN,
		})
	}

	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "sync_in_progress"})
	case err != nil:
		// Partial counts from committed batches accompany the failure.
		h.logger.Error("sync failed", zap.Error(err))
		response.Error = err.Error()
		c.JSON(http.StatusInternalServerError, response)
	default:
		c.JSON(http.StatusOK, response)
	}
}

type searchHitPayload struct {
	DN          string `json:"dn"`
	DisplayName string `json:"display_name"`
	UID         string `json:"uid"`
	Email       string `json:"email"`
}

func (h *httpHandler) handleDirectorySearch(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_query"})
		return
	}

	session, err := h.searchSession.Connect()
	if err != nil {
		h.logger.Error("directory connect failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer session.Close()

	hits, err := session.SearchByText(term)
	if err != nil {
		h.logger.Error("directory search failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	results := make([]searchHitPayload, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchHitPayload{
			DN:          hit.DN,
			DisplayName: hit.DisplayName,
			UID:         hit.UID,
			Email:       hit.Email,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type importRequestPayload struct {
	DN    string `json:"dn"`
	Force bool   `json:"force"`
}

func (h *httpHandler) handleImport(c *gin.Context) {
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DN) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.importer.Import(c.Request.Context(), request.DN, request.Force)
	var conflict *reconcile.UIDConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":       "uid_conflict",
			"uid":         conflict.UID,
			"existing_id": conflict.ExistingID,
		})
	case errors.Is(err, reconcile.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry_not_found"})
	case err != nil:
		h.logger.Error("import failed", zap.String("dn", request.DN), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type resolveRequestPayload struct {
	Strategy string `json:"strategy"`
	DN       string `json:"dn"`
}

func (h *httpHandler) handleResolve(c *gin.Context) {
	contactID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contact_id"})
		return
	}

	var request resolveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	strategy, err := reconcile.ParseStrategy(request.Strategy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_strategy"})
		return
	}

	err = h.resolver.Resolve(c.Request.Context(), contactID, strategy, request.DN)
	switch {
	case errors.Is(err, reconcile.ErrNoConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "no_conflict"})
	case errors.Is(err, contacts.ErrContactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact_not_found"})
	case errors.Is(err, reconcile.ErrIdentifierRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier_required"})
	case err != nil:
		h.logger.Error("conflict resolution failed",
			zap.Int64("contact_id", contactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (h *httpHandler) handlePermanentDelete(c *gin.Context) {
	contactID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_contact_id"})
		return
	}

	err = h.store.HardDelete(c.Request.Context(), contactID)
	switch {
	case errors.Is(err, contacts.ErrContactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact_not_found"})
	case errors.Is(err, contacts.ErrContactActive):
		c.JSON(http.StatusConflict, gin.H{"error": "contact_still_active"})
	case err != nil:
		h.logger.Error("permanent delete failed",
			zap.Int64("contact_id", contactID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

type notificationPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at_s"`
	Unread    bool   `json:"unread"`
}

func (h *httpHandler) handleNotifications(c *gin.Context) {
	notifications, err := h.store.UnreadNotifications(c.Request.Context())
	if err != nil {
		h.logger.Error("notification listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payload := make([]notificationPayload, 0, len(notifications))
	for _, notification := range notifications {
		payload = append(payload, notificationPayload{
			ID:        notification.NotificationID,
			Title:     notification.Title,
			Message:   notification.Message,
			CreatedAt: notification.CreatedAtSeconds,
			Unread:    notification.Unread,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": payload})
}
