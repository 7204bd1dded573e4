// Package httpapi is the stateless HTTP mirror of the remote-control channel.
package httpapi

import (
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/internal/ratelimit"
	"github.com/vmorsell/stage-remote/internal/status"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

const (
	MessageExecuted    = "Command executed"
	MessageRateLimited = "rate limit exceeded"
)

//go:embed assets/remote.html
var remotePage []byte

// Dispatcher is the command sink shared with the WebSocket gateway.
type Dispatcher interface {
	Dispatch(cmd model.Command)
}

// API handles the HTTP control endpoints.
type API struct {
	logger     *zap.Logger
	store      *status.Store
	dispatcher Dispatcher
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewAPI creates the handlers. limiter and m may be nil.
func NewAPI(logger *zap.Logger, store *status.Store, dispatcher Dispatcher, limiter *ratelimit.Limiter, m *metrics.Metrics) *API {
	return &API{
		logger:     logger,
		store:      store,
		dispatcher: dispatcher,
		limiter:    limiter,
		metrics:    m,
		now:        time.Now,
	}
}

// Remote serves the mobile control page.
func (a *API) Remote(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", remotePage)
}

// Status returns the current snapshot.
func (a *API) Status(c *gin.Context) {
	c.JSON(http.StatusOK, a.store.Read())
}

// Command dispatches a command and acknowledges it. Validation failures
// inside the dispatcher are not reported to the caller.
func (a *API) Command(c *gin.Context) {
	var cmd model.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, model.CommandAck{
			Success:   false,
			Message:   fmt.Sprintf("invalid request: %v", err),
			Timestamp: a.now().UnixMilli(),
		})
		return
	}

	if !a.limiter.Allow(c.ClientIP()) {
		a.metrics.Command(string(cmd.Type), metrics.OutcomeRateLimited)
		a.logger.Warn("rate limit exceeded, dropping command",
			zap.String("peer", c.ClientIP()),
			zap.String("command", string(cmd.Type)))
		c.JSON(http.StatusTooManyRequests, model.CommandAck{
			Success:   false,
			Message:   MessageRateLimited,
			Command:   cmd.Type,
			Timestamp: a.now().UnixMilli(),
		})
		return
	}

	a.logger.Info("received http command",
		zap.String("peer", c.ClientIP()),
		zap.String("command", string(cmd.Type)))
	a.dispatcher.Dispatch(cmd)

	c.JSON(http.StatusOK, model.CommandAck{
		Success:   true,
		Message:   MessageExecuted,
		Command:   cmd.Type,
		Timestamp: a.now().UnixMilli(),
	})
}
