// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpserver serves the relay's status and metrics API.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcbridge/mcbridge/api"
	"github.com/mcbridge/mcbridge/version"
)

// StatusProvider reports the relay's current state.
type StatusProvider interface {
	Status() api.RelayStatus
}

type Server struct {
	http.Server

	gin *gin.Engine
}

func New(provider StatusProvider) *Server {
	gin.SetMode(gin.ReleaseMode)

	ginEngine := gin.New()
	server := &Server{
		Server: http.Server{
			Handler: ginEngine,
		},
		gin: ginEngine,
	}

	server.gin.Use(ginLoggerMiddleware)

	// Recovery middleware recovers from any panics and writes a 500 if there was one.
	server.gin.Use(gin.Recovery())

	server.gin.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.Info{
			Message:     "This is the mcbridge relay",
			Version:     version.Version,
			VersionHash: version.Hash,
		})
	})

	server.gin.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, provider.Status())
	})

	server.gin.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return server
}

// RunWithListener serves until the context is cancelled, then shuts down
// gracefully. A cancelled context is reported as context.Canceled.
func (server *Server) RunWithListener(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}
