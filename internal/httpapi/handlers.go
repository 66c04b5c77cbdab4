// Package httpapi exposes snapshot control, snapshot history and local
// fields over HTTP.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/config"
	"github.com/satyaki-up/trendboard/internal/issues"
	"github.com/satyaki-up/trendboard/internal/snapshot"
)

type Snapshotter interface {
	Start(ctx context.Context, jql string, mode snapshot.Mode) (string, error)
	Status() snapshot.Progress
	Subscribe() (<-chan snapshot.Progress, func())
}

type FieldStore interface {
	SetField(ctx context.Context, issueKey, field string, value any, user string, expectedVersion *int64) (*issues.FieldValue, error)
	Fields(ctx context.Context) (map[string]map[string]any, error)
	History(ctx context.Context, issueKey string) ([]issues.HistoryEntry, error)
}

type Deps struct {
	Snapshots Snapshotter
	Store     snapshot.Store
	Fields    FieldStore
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	d   Deps
}

func NewHandlers(cfg config.Config, log zerolog.Logger, d Deps) *Handlers {
	return &Handlers{cfg: cfg, log: log, d: d}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) StartSnapshot(c *gin.Context) {
	var req struct {
		JQL  string `json:"jql"`
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := snapshot.ParseMode(req.Mode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	jql := strings.TrimSpace(req.JQL)
	if jql == "" {
		jql = h.cfg.Snapshot.BaseJQL
	}

	runID, err := h.d.Snapshots.Start(c.Request.Context(), jql, mode)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "runId": runID})
}

func (h *Handlers) SnapshotStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.d.Snapshots.Status())
}

// SnapshotProgress streams progress records as server-sent events until the
// run finishes or the client goes away.
func (h *Handlers) SnapshotProgress(c *gin.Context) {
	ch, cancel := h.d.Snapshots.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("progress", p)
			return !p.Terminal()
		case <-ctx.Done():
			return false
		}
	})
}

func (h *Handlers) SnapshotHistory(c *gin.Context) {
	hist, err := h.d.Store.History(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handlers) Fields(c *gin.Context) {
	out, err := h.d.Fields.Fields(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) SetField(c *gin.Context) {
	var req struct {
		IssueKey        string `json:"issueKey"`
		Field           string `json:"field"`
		Value           any    `json:"value"`
		User            string `json:"user"`
		ExpectedVersion *int64 `json:"expectedVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := req.User
	if user == "" {
		user = c.GetHeader("X-User")
	}
	fv, err := h.d.Fields.SetField(c.Request.Context(), req.IssueKey, req.Field, req.Value, user, req.ExpectedVersion)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fv)
}

func (h *Handlers) FieldHistory(c *gin.Context) {
	out, err := h.d.Fields.History(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, issues.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, issues.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, issues.ErrConflict), errors.Is(err, snapshot.ErrAlreadyRunning):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("p", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
