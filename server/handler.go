package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"callflow/engine"
)

// TurnRequest is one turn of a flow as submitted by the telephony host.
type TurnRequest struct {
	TenantID    string              `json:"tenantId" binding:"required"`
	Context     engine.Context      `json:"context"`
	StepName    string              `json:"stepName,omitempty"`
	MediaOutput *engine.MediaOutput `json:"mediaOutput,omitempty"`
}

type flowSummary struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	InitialStepName string `json:"initialStepName"`
	Steps           int    `json:"steps"`
}

// NewHandler registers the flow endpoints on g.
func NewHandler(app *App, eng *engine.Engine, l *slog.Logger, g *gin.Engine) {
	g.GET("/flows", func(c *gin.Context) {
		summaries := make([]flowSummary, 0, len(app.Flows))
		for _, flow := range app.Flows {
			summaries = append(summaries, flowSummary{
				ID:              flow.ID,
				Name:            flow.Name,
				InitialStepName: flow.InitialStepName,
				Steps:           len(flow.Steps),
			})
		}
		c.JSON(http.StatusOK, summaries)
	})

	g.POST("/flows/:flowID/turns", func(c *gin.Context) {
		flow, ok := app.Flows[c.Param("flowID")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"message": "flow not found"})
			return
		}

		var req TurnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid turn request: " + err.Error()})
			return
		}

		out, err := eng.ExecStep(c.Request.Context(), req.TenantID, flow, req.Context, req.StepName, req.MediaOutput)
		if err != nil {
			status := turnErrorStatus(err)
			l.Error("flow turn failed",
				"flow", flow.ID,
				"step", req.StepName,
				"error", err.Error())
			c.JSON(status, gin.H{"message": err.Error()})
			return
		}

		c.JSON(http.StatusOK, out)
	})
}

// turnErrorStatus maps engine errors onto HTTP statuses: definition and
// protocol violations are the caller's fault, the rest is ours.
func turnErrorStatus(err error) int {
	var notFound *engine.StepNotFoundError
	var unexpectedMedia *engine.UnexpectedMediaOutputError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unexpectedMedia):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
