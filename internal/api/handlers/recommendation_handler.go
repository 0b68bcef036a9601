package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/catalog"
	"github.com/game-insight/backend/internal/recommend"
	"github.com/game-insight/backend/internal/storage/models"
	"github.com/game-insight/backend/pkg/logger"
)

const maxHistoryLimit = 100

// QueryStore keeps a history of answered queries. It is optional.
type QueryStore interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	GetQueryHistory(ctx context.Context, title string, limit int) ([]models.QueryRecord, error)
}

// Recommender answers similarity queries over a fixed corpus.
type Recommender interface {
	Recommend(title string, k int) ([]recommend.Recommendation, error)
	Corpus() *catalog.Corpus
}

type RecommendationResponse struct {
	ID        string                     `json:"id"`
	Title     string                     `json:"title"`
	Results   []recommend.Recommendation `json:"results"`
	Found     bool                       `json:"found"`
	Message   string                     `json:"message,omitempty"`
	LatencyMS int                        `json:"latency_ms"`
}

type RecommendationHandler struct {
	engine Recommender
	store  QueryStore
}

// NewRecommendationHandler serves queries against a built engine. store may
// be nil.
func NewRecommendationHandler(engine Recommender, store QueryStore) *RecommendationHandler {
	return &RecommendationHandler{
		engine: engine,
		store:  store,
	}
}

// answer runs one query and records it. The engine is read-only, so this is
// safe from concurrent handlers. A panic in the engine comes back as an error.
func (h *RecommendationHandler) answer(ctx context.Context, title string, k int) (RecommendationResponse, error) {
	start := time.Now()
	resp := RecommendationResponse{
		ID:      uuid.New().String(),
		Title:   title,
		Results: []recommend.Recommendation{},
	}

	recs, err := h.lookup(title, k)
	switch {
	case errors.Is(err, recommend.ErrTitleNotFound):
		resp.Message = recommend.NotFoundMessage(title)
	case err != nil:
		return resp, err
	default:
		resp.Found = true
		resp.Results = recs
	}
	resp.LatencyMS = int(time.Since(start).Milliseconds())

	h.record(ctx, resp)
	return resp, nil
}

func (h *RecommendationHandler) lookup(title string, k int) (recs []recommend.Recommendation, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recommendation panicked", zap.String("title", title), zap.Any("panic", r))
			err = fmt.Errorf("%v", r)
		}
	}()
	return h.engine.Recommend(title, k)
}

func (h *RecommendationHandler) record(ctx context.Context, resp RecommendationResponse) {
	if h.store == nil {
		return
	}

	titles := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		titles = append(titles, r.Title)
	}
	if !resp.Found {
		titles = append(titles, resp.Message)
	}

	err := h.store.InsertQueryRecord(ctx, &models.QueryRecord{
		ID:        resp.ID,
		Title:     resp.Title,
		Results:   titles,
		Found:     resp.Found,
		LatencyMS: resp.LatencyMS,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to record query", zap.String("title", resp.Title), zap.Error(err))
	}
}

func (h *RecommendationHandler) GetRecommendations(c *fiber.Ctx) error {
	title := titleFrom(c)
	k := c.QueryInt("k", 0)

	resp, err := h.answer(c.UserContext(), title, k)
	if err != nil {
		logger.Error("Failed to process recommendation", zap.String("title", title), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": recommend.ErrorMessage(err),
		})
	}

	if !resp.Found {
		return c.Status(fiber.StatusNotFound).JSON(resp)
	}
	return c.JSON(resp)
}

func (h *RecommendationHandler) ListGames(c *fiber.Ctx) error {
	titles := h.engine.Corpus().Titles()
	return c.JSON(fiber.Map{
		"games": titles,
		"count": len(titles),
	})
}

func (h *RecommendationHandler) GetHistory(c *fiber.Ctx) error {
	if h.store == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Query history is disabled",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > maxHistoryLimit {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 100",
		})
	}

	history, err := h.store.GetQueryHistory(c.UserContext(), c.Query("title"), limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}
	if history == nil {
		history = []models.QueryRecord{}
	}

	return c.JSON(fiber.Map{
		"history": history,
	})
}

// titleFrom prefers the title checked by the validation middleware.
func titleFrom(c *fiber.Ctx) string {
	if title, ok := c.Locals("title").(string); ok {
		return title
	}
	return c.Query("title")
}
