package api

import (
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"meowroast/internal/auth"
	"meowroast/internal/config"
	"meowroast/internal/inference"
	"meowroast/internal/intake"
	"meowroast/internal/pipeline"
	"meowroast/internal/storage"
	"meowroast/internal/upload"
)

const stateCookieName = "oauth_state"

// Handler wires HTTP routes to the submission pipeline and the photo store.
type Handler struct {
	auth    *auth.Service
	login   *auth.GoogleLogin
	runner  *pipeline.Runner
	photos  *storage.PhotoStore
	presets config.PresetsConfig
}

// NewHandler constructs a Handler instance.
func NewHandler(authService *auth.Service, login *auth.GoogleLogin, runner *pipeline.Runner, photos *storage.PhotoStore, presets config.PresetsConfig) *Handler {
	return &Handler{
		auth:    authService,
		login:   login,
		runner:  runner,
		photos:  photos,
		presets: presets,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/auth/google", h.googleRedirect)
	router.GET("/auth/google/callback", h.googleCallback)
	router.GET("/auth/logout", h.logout)

	if h.presets.LocalDir != "" {
		router.Static("/cat_photos", h.presets.LocalDir)
	}

	authMW := h.auth.Middleware()
	router.GET("/auth/user", authMW, h.currentUser)

	submissions := router.Group("/submissions")
	submissions.Use(authMW)
	submissions.POST("", h.createSubmission)
	submissions.GET("/history", h.history)
	submissions.GET("/presets", h.listPresets)
}

func (h *Handler) googleRedirect(c *gin.Context) {
	state, err := auth.NewStateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start login"})
		return
	}
	h.setCookie(c, stateCookieName, state, 600, true)
	c.Redirect(http.StatusFound, h.login.AuthURL(state))
}

func (h *Handler) googleCallback(c *gin.Context) {
	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || c.Query("state") != state {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}
	h.setCookie(c, stateCookieName, "", -1, true)

	identity, err := h.login.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authentication failed"})
		return
	}
	token, err := h.auth.Sign(identity.SubjectID, identity.Name, identity.Email, identity.Picture)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	log.Printf("user authenticated: %s", identity.Email)
	h.setCookie(c, h.auth.CookieName(), token, int(h.auth.TokenTTL().Seconds()), true)
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) logout(c *gin.Context) {
	h.setCookie(c, h.auth.CookieName(), "", -1, true)
	c.Redirect(http.StatusFound, "/")
}

func (h *Handler) currentUser(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNoCredential.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      claims.Subject,
		"name":    claims.Name,
		"email":   claims.Email,
		"picture": claims.Picture,
	})
}

// createSubmission accepts a multipart `photo` file or an `imageUrl` form
// field and runs the full pipeline. Success returns exactly {imageUrl, comment}.
func (h *Handler) createSubmission(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNoCredential.Error()})
		return
	}

	// The file field is optional; a bad multipart body only matters when
	// no source URL was posted either, and intake reports that case.
	file, _ := c.FormFile("photo")
	sourceURL := c.PostForm("imageUrl")

	result, err := h.runner.Submit(c.Request.Context(), claims, file, sourceURL)
	if err != nil {
		h.renderPipelineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imageUrl": result.ImageURL,
		"comment":  result.Comment,
	})
}

func (h *Handler) history(c *gin.Context) {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNoCredential.Error()})
		return
	}
	photos, err := h.photos.History(c.Request.Context(), claims.Subject, storage.DefaultHistoryLimit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to fetch history"})
		return
	}
	c.JSON(http.StatusOK, photos)
}

func (h *Handler) listPresets(c *gin.Context) {
	images := h.presets.Images
	if images == nil {
		images = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"presets": images})
}

// renderPipelineError maps the stage error taxonomy onto HTTP statuses. Every
// failure is terminal for the request; the body carries the stage plus a
// human-readable reason so the caller can decide whether to resubmit.
func (h *Handler) renderPipelineError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	stage := pipeline.StagePipeline

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		stage = stageErr.Stage
	}
	switch {
	case errors.Is(err, auth.ErrNoCredential):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusForbidden
	case errors.Is(err, intake.ErrMissingImage):
		status = http.StatusBadRequest
	case errors.Is(err, intake.ErrPayloadTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrUnsupportedMediaType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrSourceFetch),
		errors.Is(err, upload.ErrUploadFailed),
		errors.Is(err, inference.ErrUnreachable),
		errors.Is(err, inference.ErrInvalidResponse):
		status = http.StatusBadGateway
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	log.Printf("submission failed at %s: %v", stage, err)
	c.JSON(status, gin.H{"error": err.Error(), "stage": string(stage)})
}

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    url.QueryEscape(value),
		MaxAge:   maxAge,
		Path:     "/",
		Secure:   secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}
