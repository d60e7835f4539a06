/*
Copyright 2025 Kunpeto.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package drive plans document uploads for the browser-side helper. The
// server never talks to the Drive API itself: it derives the destination
// folder path and file name, and the helper performs the upload with the
// user's own OAuth grant.
package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kunpeto/driver-management-system-sub001/internal/domain"
)

// ErrNotUploadable reports a profile whose lifecycle state admits no upload.
var ErrNotUploadable = errors.New("drive: profile not in an uploadable state")

// Completer closes the profile once the helper confirms the upload. The
// profile service satisfies it.
type Completer interface {
	CompleteProfile(ctx context.Context, id uuid.UUID, driveLink string, actor string) error
}

// UploadPlan tells the helper where a rendered document belongs.
type UploadPlan struct {
	Department        domain.Department `json:"department"`
	FolderPath        string            `json:"folder_path"`
	SuggestedFileName string            `json:"suggested_file_name"`
	CanUpload         bool              `json:"can_upload"`
	Reason            string            `json:"reason,omitempty"`
}

// Dispatcher derives upload plans and records completions.
type Dispatcher struct {
	completer Completer
	log       *zap.Logger
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(completer Completer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{completer: completer, log: logger.Named("drive")}
}

// PrepareUpload derives the destination for a converted profile's document.
// Basic profiles have nothing to upload yet; completed profiles already have
// their document filed.
func (d *Dispatcher) PrepareUpload(p *domain.Profile, employeeCode string) UploadPlan {
	plan := UploadPlan{Department: p.Department}
	switch {
	case p.ProfileType == domain.ProfileBasic:
		plan.Reason = "profile has not been converted"
		return plan
	case p.ConversionStatus == domain.ConversionCompleted:
		plan.Reason = "profile is already completed"
		return plan
	}
	plan.FolderPath = FolderPath(p.ProfileType, p.EventDate)
	plan.SuggestedFileName = FileName(p.Department, p.ProfileType, employeeCode, p.EventDate)
	plan.CanUpload = true
	return plan
}

// MarkCompleted records the helper-confirmed upload and closes the profile.
func (d *Dispatcher) MarkCompleted(ctx context.Context, profileID uuid.UUID, driveLink, actor string) error {
	if driveLink == "" {
		return fmt.Errorf("%w: empty drive link", ErrNotUploadable)
	}
	if err := d.completer.CompleteProfile(ctx, profileID, driveLink, actor); err != nil {
		return err
	}
	d.log.Info("upload recorded",
		zap.String("profile_id", profileID.String()),
		zap.String("actor", actor))
	return nil
}

// FolderPath is `{typeKanji}/{YYYY}/{MM}` under the department root.
func FolderPath(t domain.ProfileType, eventDate time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d", t.Kanji(), eventDate.Year(), int(eventDate.Month()))
}

// FileName is deterministic so re-renders overwrite rather than accumulate.
func FileName(dept domain.Department, t domain.ProfileType, employeeCode string, eventDate time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s.docx", dept, t.TypeCode(), employeeCode, eventDate.Format("2006-01-02"))
}
