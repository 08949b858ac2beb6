package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaenox/line-relay/internal/models"
	"github.com/xaenox/line-relay/internal/relay"
	"github.com/xaenox/line-relay/internal/webhook"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templates embed.FS

const adminPath = "/admin"

type Options struct {
	MaxBodyBytes int64
	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer
}

type Server struct {
	svc     *relay.Service
	engine  *gin.Engine
	logger  *zap.Logger
	maxBody int64
	drafts  bool
}

func New(svc *relay.Service, opts Options, drafts bool, logger *zap.Logger) *Server {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	engine.SetHTMLTemplate(template.Must(template.New("").ParseFS(templates, "templates/*.html")))

	s := &Server{
		svc:     svc,
		engine:  engine,
		logger:  logger,
		maxBody: maxBody,
		drafts:  drafts,
	}

	engine.POST("/callback", s.handleCallback)
	engine.GET("/", s.handleAdminView)
	engine.GET(adminPath, s.handleAdminView)
	engine.POST(adminPath, s.handleAdminReply)
	engine.GET(adminPath+"/draft", s.handleDraft)
	engine.GET("/api/messages", s.handleFeed)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleCallback(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
			return
		}
		c.String(http.StatusBadRequest, http.StatusText(http.StatusBadRequest))
		return
	}
	s.logger.Debug("Request body", zap.ByteString("body", body))

	// The platform hanging up must not abort storing what it already sent.
	ctx := context.WithoutCancel(c.Request.Context())
	if err := s.svc.HandleWebhook(ctx, body, c.GetHeader(webhook.SignatureHeader)); err != nil {
		status := relay.StatusCode(err)
		c.String(status, http.StatusText(status))
		return
	}
	c.String(http.StatusOK, "OK")
}

type adminView struct {
	Messages []models.StoredMessage
	Dispatch string
	UserID   string
	Draft    string
	Drafts   bool
}

func (s *Server) handleAdminView(c *gin.Context) {
	messages, err := s.svc.ListAll(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list messages", zap.Error(err))
		c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	view := adminView{
		Messages: messages,
		Dispatch: c.Query("dispatch"),
		UserID:   c.Query("user_id"),
		Drafts:   s.drafts,
	}
	if s.drafts && view.UserID != "" && c.Query("draft") != "" {
		draft, err := s.svc.DraftReply(c.Request.Context(), view.UserID)
		if err != nil {
			s.logger.Warn("Draft unavailable", zap.Error(err), zap.String("user_id", view.UserID))
		}
		view.Draft = draft
	}

	c.HTML(http.StatusOK, "admin.html", view)
}

func (s *Server) handleAdminReply(c *gin.Context) {
	var req models.ReplyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	delivered, err := s.svc.HandleAdminReply(c.Request.Context(), req)
	if err != nil {
		c.String(relay.StatusCode(err), err.Error())
		return
	}

	outcome := "sent"
	if !delivered {
		outcome = "failed"
	}
	c.Redirect(http.StatusSeeOther, adminPath+"?dispatch="+outcome)
}

func (s *Server) handleFeed(c *gin.Context) {
	messages, err := s.svc.ListForFeed(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "message store unavailable"})
		return
	}
	if c.Query("order") == "desc" {
		messages = models.NewestFirst(messages)
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleDraft(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	draft, err := s.svc.DraftReply(c.Request.Context(), userID)
	if err != nil {
		status := relay.StatusCode(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "draft": draft})
}
