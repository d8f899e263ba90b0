package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/domain"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

// RoleAdmin is the token role allowed to start ingestion.
const RoleAdmin = "admin"

const ingestTimeout = 30 * time.Minute

// ArticleLoader fetches articles for one source. arg is source specific (a directory for files).
type ArticleLoader func(ctx context.Context, arg string) ([]domain.Article, error)

// IngestHandler starts background ingestion jobs.
type IngestHandler struct {
	ingest    *service.IngestService
	loaders   map[string]ArticleLoader
	tracker   *JobTracker
	namespace string
	audit     middleware.AuditWriter // optional
}

// NewIngestHandler creates a new ingestion handler.
func NewIngestHandler(ingest *service.IngestService, loaders map[string]ArticleLoader, tracker *JobTracker, namespace string, audit middleware.AuditWriter) *IngestHandler {
	return &IngestHandler{ingest: ingest, loaders: loaders, tracker: tracker, namespace: namespace, audit: audit}
}

// Register sets up ingestion routes.
func (h *IngestHandler) Register(router fiber.Router) {
	router.Post("/ingest", h.Start)
}

type ingestRequest struct {
	Source    string  `json:"source"`
	Path      string  `json:"path"`
	Namespace *string `json:"namespace"`
	Reset     bool    `json:"reset"`
}

// Start validates the request and runs the ingestion in the background.
func (h *IngestHandler) Start(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	if uc.Role != RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
	}

	var body ingestRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	source := strings.ToLower(strings.TrimSpace(body.Source))
	loader, ok := h.loaders[source]
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown source: " + body.Source})
	}

	namespace := h.namespace
	if body.Namespace != nil {
		namespace = *body.Namespace
	}

	id := uuid.NewString()
	h.tracker.CreateJob(id, source, namespace)
	slog.Info("ingestion job started", "job_id", id, "source", source, "namespace", namespace, "user_id", uc.UserID)

	go h.run(id, uc.UserID, source, body.Path, namespace, body.Reset, loader)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":    id,
		"namespace": namespace,
	})
}

func (h *IngestHandler) run(id, userID, source, arg, namespace string, reset bool, loader ArticleLoader) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	fail := func(err error) {
		slog.Error("ingestion job failed", "job_id", id, "error", err)
		h.tracker.UpdateJob(id, func(j *JobStatus) {
			j.Status = JobError
			j.Error = err.Error()
		})
	}

	articles, err := loader(ctx, arg)
	if err != nil {
		fail(err)
		return
	}
	h.tracker.UpdateJob(id, func(j *JobStatus) { j.Total = len(articles) })

	if reset {
		if err := h.ingest.Reset(ctx, namespace); err != nil {
			fail(err)
			return
		}
	}

	svc := h.ingest.WithProgress(func(processed int, r service.IngestReport) {
		h.tracker.UpdateJob(id, func(j *JobStatus) {
			j.Progress = processed
			j.Indexed, j.Skipped, j.Failed = r.Indexed, r.Skipped, r.Failed
		})
	})
	report, err := svc.IngestArticles(ctx, namespace, articles)
	if err != nil {
		fail(err)
		return
	}

	h.tracker.UpdateJob(id, func(j *JobStatus) {
		j.Status = JobComplete
		j.Progress = report.Total
		j.Indexed, j.Skipped, j.Failed = report.Indexed, report.Skipped, report.Failed
	})

	if h.audit != nil {
		details, _ := json.Marshal(report)
		if err := h.audit.WriteAudit(userID, domain.AuditActionIngest, source, namespace, string(details), "", ""); err != nil {
			slog.Error("failed to write audit log", "error", err)
		}
	}
}
