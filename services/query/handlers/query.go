// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the query pipeline over HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
	"github.com/DriftlineAI/driftline/services/query/pipeline"
	"github.com/DriftlineAI/driftline/services/query/resilience"
)

var queryTracer = otel.Tracer("driftline.query.handlers")

// maxQuestionLength bounds the inbound question. Longer inputs are almost
// always paste accidents and would blow the generation context anyway.
const maxQuestionLength = 8192

// errorBody is the single error shape every non-200 response uses.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Safety  any    `json:"safety,omitempty"`
}

// HandleQuery answers POST /v1/query.
//
// # Description
//
// Binds the request, runs the pipeline, and maps the typed pipeline
// errors onto HTTP statuses: safety rejections are 400 (the caller can
// correct the input), open breakers are 503 with Retry-After, timeouts
// and other dependency failures are 502.
func HandleQuery(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := queryTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var request datatypes.QueryRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind query request JSON", "error", err)
			c.JSON(http.StatusBadRequest, errorBody{
				Code:    "invalid_request",
				Message: "Invalid request body",
			})
			return
		}

		question := strings.TrimSpace(request.Question)
		if question == "" {
			c.JSON(http.StatusBadRequest, errorBody{
				Code:    "invalid_request",
				Message: "Question must not be empty",
			})
			return
		}
		if len(question) > maxQuestionLength {
			c.JSON(http.StatusBadRequest, errorBody{
				Code:    "invalid_request",
				Message: "Question exceeds maximum length",
			})
			return
		}
		span.SetAttributes(attribute.Int("query.question_length", len(question)))

		response, err := p.Query(ctx, question)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			writeQueryError(c, err)
			return
		}

		span.SetAttributes(attribute.String("query.id", response.Id))
		c.JSON(http.StatusOK, response)
	}
}

// writeQueryError maps a typed pipeline error onto an HTTP response.
func writeQueryError(c *gin.Context, err error) {
	switch {
	case pipeline.IsSafetyRejected(err):
		var rejected *pipeline.SafetyRejectedError
		errors.As(err, &rejected)
		body := errorBody{
			Code:    "safety_rejected",
			Message: err.Error(),
		}
		if rejected != nil && rejected.Result != nil {
			body.Safety = datatypes.SafetySummary{
				Safe:              false,
				ModerationFlagged: rejected.Result.Moderation.Flagged,
				InjectionDetected: rejected.Result.InjectionDetected,
				PIIDetected:       rejected.Result.PII.Detected,
				FlaggedCategories: rejected.Result.Moderation.FlaggedCategories(),
			}
		}
		slog.Warn("Query rejected by safety checks")
		c.JSON(http.StatusBadRequest, body)

	case resilience.IsCircuitOpen(err):
		slog.Error("Query failed, circuit open", "error", err)
		c.Header("Retry-After", "60")
		c.JSON(http.StatusServiceUnavailable, errorBody{
			Code:    "circuit_open",
			Message: "A dependency is temporarily unavailable, please retry later",
		})

	case resilience.IsTimeout(err):
		slog.Error("Query failed, dependency timeout", "error", err)
		c.JSON(http.StatusBadGateway, errorBody{
			Code:    "dependency_timeout",
			Message: err.Error(),
		})

	case pipeline.IsDependencyError(err):
		slog.Error("Query failed, dependency error", "error", err)
		c.JSON(http.StatusBadGateway, errorBody{
			Code:    "dependency_error",
			Message: err.Error(),
		})

	default:
		slog.Error("Query failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{
			Code:    "internal_error",
			Message: "Internal server error",
		})
	}
}
