// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package supervisoradmin provides HTTP handlers for operator inspection
// and manual replay of the crawl pipeline's Supervisor (§9.2/§9.4's
// operator-intervention decision for UNKNOWN_DESTINATION pending
// entries).
package supervisoradmin

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sk-pkg/i18n"
	"github.com/sk-pkg/logger"

	"github.com/lutfianrhdn/sc-data-gathering-service/app/pkg/e"
	"github.com/lutfianrhdn/sc-data-gathering-service/app/supervisor"
)

type (
	// Handler defines HTTP handlers for Supervisor inspection and replay.
	Handler interface {
		// i is an unexported marker method used to seal this interface.
		i()
		// ctx builds a request-scoped context with trace metadata.
		ctx(c *gin.Context) context.Context
		// Health reports every live worker instance's liveness snapshot.
		Health() gin.HandlerFunc
		// Pending lists envelopes currently awaiting acknowledgment for a class.
		Pending() gin.HandlerFunc
		// Replay redelivers every pending envelope for a class.
		Replay() gin.HandlerFunc
	}

	handler struct {
		logger *logger.Manager
		i18n   *i18n.Manager
		sup    *supervisor.Supervisor
	}

	// ReplayRepData reports how many pending envelopes were redelivered.
	ReplayRepData struct {
		Class    string `json:"class"`
		Replayed int    `json:"replayed"`
	}
)

func (h handler) ctx(c *gin.Context) context.Context {
	traceID, _ := c.Get("trace_id")

	return context.WithValue(context.Background(), logger.TraceIDKey, traceID.(string))
}

func (h handler) i() {}

// New creates a supervisoradmin handler.
//
// Parameters:
//   - logger: structured logger manager.
//   - i18n: i18n manager for localized API responses.
//   - sup: the Supervisor instance to inspect; nil is tolerated and
//     every handler responds with e.ERROR.
//
// Returns:
//   - Handler: initialized supervisoradmin HTTP handler.
func New(logger *logger.Manager, i18n *i18n.Manager, sup *supervisor.Supervisor) Handler {
	return &handler{logger: logger, i18n: i18n, sup: sup}
}

// Health returns a Gin handler reporting every live worker instance.
//
// Returns:
//   - gin.HandlerFunc: request handler listing instance health snapshots.
func (h handler) Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sup == nil {
			h.i18n.JSON(c, e.ERROR, nil, nil)
			return
		}

		h.i18n.JSON(c, e.SUCCESS, h.sup.Health(), nil)
	}
}

// Pending returns a Gin handler listing envelopes awaiting acknowledgment
// for the worker class named by the ":class" path parameter.
//
// Returns:
//   - gin.HandlerFunc: request handler listing pending envelopes.
func (h handler) Pending() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sup == nil {
			h.i18n.JSON(c, e.ERROR, nil, nil)
			return
		}

		class := c.Param("class")
		h.i18n.JSON(c, e.SUCCESS, h.sup.Pending(class), nil)
	}
}

// Replay returns a Gin handler that redelivers every envelope still
// pending for the worker class named by the ":class" path parameter.
//
// Returns:
//   - gin.HandlerFunc: request handler triggering manual replay.
func (h handler) Replay() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.sup == nil {
			h.i18n.JSON(c, e.ERROR, nil, nil)
			return
		}

		class := c.Param("class")
		count := h.sup.ForceReplay(h.ctx(c), class)

		h.i18n.JSON(c, e.SUCCESS, ReplayRepData{Class: class, Replayed: count}, nil)
	}
}
