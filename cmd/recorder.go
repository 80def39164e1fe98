// Copyright 2025-2026 The livecap Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd implements the recorder server entrypoint
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/apis"
	"github.com/goldiusleonard/livecap/capture"
	"github.com/goldiusleonard/livecap/common"
	"github.com/goldiusleonard/livecap/coordination"
	"github.com/goldiusleonard/livecap/core"
	"github.com/goldiusleonard/livecap/objectstore"
	"github.com/goldiusleonard/livecap/platform"
	"github.com/goldiusleonard/livecap/registry"
	"github.com/goldiusleonard/livecap/session"
	"github.com/goldiusleonard/livecap/telemetry"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// buildControllerParams translate config into controller tunables
func buildControllerParams(config *common.SystemConfig) session.ControllerParams {
	return session.ControllerParams{
		ReplyWait:           time.Second * time.Duration(config.Coordination.ReplyWait),
		ResolveAttempts:     config.Platform.ResolveAttempts,
		ResolveRetryDelay:   time.Second * time.Duration(config.Platform.ResolveRetryDelay),
		RestartDelay:        time.Second * time.Duration(config.Capture.ReconnectDelay),
		DefaultSaveInterval: time.Second * time.Duration(config.Capture.DefaultSaveInterval),
	}
}

// sessionWorkDir per-session scratch directory
func sessionWorkDir(baseDir string, sess registry.Session) string {
	return filepath.Join(baseDir, fmt.Sprintf(
		"%s_%s_%d", sess.SubjectID, sess.RequesterID, sess.StartedAt.UnixNano(),
	))
}

// RunRecorderServer run the recorder server
func RunRecorderServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "recorder",
		"instance":  instance,
	}

	telemetry.Init()

	// -------------------------------------------------------------------
	// Define the capture support components

	resolver, err := platform.GetRestResolver(
		config.Platform.APIBaseURL,
		time.Second*time.Duration(config.Platform.RequestTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define platform resolver")
		return err
	}

	remux, err := capture.GetFFmpegRemuxer(config.Capture.FFmpegPath)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define remuxer")
		return err
	}

	var store objectstore.ObjectStore
	if config.ObjectStore.CredentialsFile != "" {
		store, err = objectstore.GetDriveObjectStore(
			runTimeContext,
			config.ObjectStore.CredentialsFile,
			config.ObjectStore.FolderID,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define object store")
			return err
		}
	} else {
		log.WithFields(logTags).Warn("No object store credentials, artifacts stay local")
		store = objectstore.GetDiscardObjectStore()
	}

	assembler, err := capture.GetSegmentAssembler(
		remux, store, time.Second*time.Duration(config.ObjectStore.UploadTimeout), wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define segment assembler")
		return err
	}

	source := capture.GetHTTPStreamSource()

	// -------------------------------------------------------------------
	// Define the session controllers

	resubscribeDelay := time.Second * time.Duration(config.Coordination.ResubscribeDelay)
	videoChannel, err := coordination.GetNatsChannel(
		natsClient, config.Coordination.VideoChannel, resubscribeDelay,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define video channel")
		return err
	}
	commentChannel, err := coordination.GetNatsChannel(
		natsClient, config.Coordination.CommentChannel, resubscribeDelay,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define comment channel")
		return err
	}

	videoBuilder := func(
		sess registry.Session,
		saveInterval time.Duration,
		active func() bool,
		sink capture.OutputSink,
	) (capture.SessionRunner, error) {
		return capture.GetVideoSessionRunner(
			resolver,
			source,
			remux,
			assembler,
			sessionWorkDir(config.Capture.WorkDir, sess),
			sess,
			saveInterval,
			active,
			sink,
		)
	}
	commentBuilder := func(
		sess registry.Session,
		_ time.Duration,
		active func() bool,
		sink capture.OutputSink,
	) (capture.SessionRunner, error) {
		client := capture.GetIRCChatClient(
			config.Platform.ChatUsername,
			config.Platform.ChatOAuthToken,
			config.Platform.ChatServer,
		)
		queue := capture.GetEventQueue(sess.Key().String(), config.Capture.EventQueueSize)
		return capture.GetCommentSessionRunner(
			client,
			queue,
			sess,
			time.Second*time.Duration(config.Capture.EventPullWait),
			time.Second*time.Duration(config.Capture.DisconnectTimeout),
			active,
			sink,
		)
	}

	ctrlParams := buildControllerParams(config)
	videoCtrl, err := session.GetController(
		runTimeContext,
		registry.KindVideo,
		registry.GetSessionRegistry(registry.KindVideo),
		videoChannel,
		resolver,
		videoBuilder,
		ctrlParams,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define video controller")
		return err
	}
	commentCtrl, err := session.GetController(
		runTimeContext,
		registry.KindComments,
		registry.GetSessionRegistry(registry.KindComments),
		commentChannel,
		resolver,
		commentBuilder,
		ctrlParams,
		wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define comment controller")
		return err
	}

	if err := videoCtrl.StartListener(wg, runTimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start video listener")
		return err
	}
	if err := commentCtrl.StartListener(wg, runTimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start comment listener")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := apis.GetAPIRestRecorderHandler(
		localCtxt, natsClient, &config.HTTPSetting, videoCtrl, commentCtrl,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Video capture
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/video/{subjectID}", map[string]http.HandlerFunc{
			"get":    httpHandler.StartVideoCaptureHandler(),
			"delete": httpHandler.StopVideoCaptureHandler(),
		},
	)

	// Comment capture
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/comments/{subjectID}", map[string]http.HandlerFunc{
			"get":    httpHandler.StartCommentCaptureHandler(),
			"delete": httpHandler.StopCommentCaptureHandler(),
		},
	)

	// Cluster-wide purge
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/sessions", map[string]http.HandlerFunc{
			"delete": httpHandler.RemoveAllSessionsHandler(),
		},
	)

	// Subject status
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/status/{subjectID}", map[string]http.HandlerFunc{
			"get": httpHandler.SubjectStatusHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Metrics
	_ = apis.RegisterPathPrefix(mainRouter, "/metrics", map[string]http.HandlerFunc{
		"get": promhttp.Handler().ServeHTTP,
	})

	// Add logging
	lw := apis.RestAccessLogWrapper{
		Component: common.Component{LogTags: log.Fields{
			"module": "rest", "component": "access-log", "instance": instance,
		}},
	}
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(lw, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTPSetting.Server.ListenOn, config.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		// Capture responses are open ended, the write timeout stays off
		// unless configured
		WriteTimeout: time.Second * time.Duration(config.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
