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

// Package objectstore persists assembled capture artifacts
package objectstore

import (
	"context"
	"io"

	"github.com/apex/log"
	"github.com/goldiusleonard/livecap/common"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ObjectStore narrow artifact upload interface
type ObjectStore interface {
	// Upload persist content under key, returning a retrieval URL
	Upload(ctxt context.Context, content io.Reader, key string) (string, error)
}

// driveStoreImpl implements ObjectStore on a Google Drive folder
type driveStoreImpl struct {
	common.Component
	service  *drive.Service
	folderID string
}

// GetDriveObjectStore define an ObjectStore backed by a Drive folder, using
// service account credentials
func GetDriveObjectStore(
	ctxt context.Context, credentialsFile, folderID string,
) (ObjectStore, error) {
	logTags := log.Fields{
		"module":    "objectstore",
		"component": "drive-store",
		"folder":    folderID,
	}
	service, err := drive.NewService(
		ctxt,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define Drive client")
		return nil, err
	}
	return &driveStoreImpl{
		Component: common.Component{LogTags: logTags},
		service:   service,
		folderID:  folderID,
	}, nil
}

// Upload persist content under key
func (s *driveStoreImpl) Upload(
	ctxt context.Context, content io.Reader, key string,
) (string, error) {
	meta := &drive.File{Name: key}
	if s.folderID != "" {
		meta.Parents = []string{s.folderID}
	}
	created, err := s.service.Files.Create(meta).
		Media(content).
		Context(ctxt).
		Fields("id", "webViewLink").
		Do()
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Upload of %s failed", key)
		return "", err
	}
	log.WithFields(s.LogTags).Infof("Uploaded %s as %s", key, created.Id)
	return created.WebViewLink, nil
}

// ==============================================================================

// discardStoreImpl implements ObjectStore by keeping nothing. Used when no
// store credentials are configured; assembled artifacts stay on local disk
// until cleanup.
type discardStoreImpl struct {
	common.Component
}

// GetDiscardObjectStore define an ObjectStore which drops all uploads
func GetDiscardObjectStore() ObjectStore {
	logTags := log.Fields{
		"module":    "objectstore",
		"component": "discard-store",
	}
	return &discardStoreImpl{Component: common.Component{LogTags: logTags}}
}

// Upload drop the content
func (s *discardStoreImpl) Upload(
	ctxt context.Context, content io.Reader, key string,
) (string, error) {
	drained, err := io.Copy(io.Discard, content)
	if err != nil {
		return "", err
	}
	log.WithFields(s.LogTags).Infof("Discarded artifact %s (%dB)", key, drained)
	return "", nil
}
