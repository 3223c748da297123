package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/model"
)

const MaxFolderNameLength = 50

// FolderService manages the folders saved streamers are filed into.
//
// SYSTEM FOLDERS:
// "All" and "Favourites" exist for every user whether or not the backend
// reports them. List always puts them first; Create refuses their names and
// Delete refuses their IDs.
type FolderService struct {
	backend ScraperBackend
	logger  *slog.Logger
}

func NewFolderService(b ScraperBackend, logger *slog.Logger) *FolderService {
	return &FolderService{backend: b, logger: logger}
}

func isSystemFolder(f model.Folder) bool {
	for _, sys := range model.SystemFolders() {
		if strings.EqualFold(f.ID, sys.ID) || strings.EqualFold(f.Name, sys.Name) {
			return true
		}
	}
	return false
}

// List returns the system folders followed by the user's own folders.
func (s *FolderService) List(ctx context.Context, userID string) ([]model.Folder, error) {
	return userFolders(ctx, s.backend, userID)
}

func userFolders(ctx context.Context, b ScraperBackend, userID string) ([]model.Folder, error) {
	remote, err := b.Folders(ctx, userID)
	if err != nil {
		return nil, err
	}

	folders := model.SystemFolders()
	for _, f := range remote {
		if isSystemFolder(f) {
			continue
		}
		f.System = false
		folders = append(folders, f)
	}
	return folders, nil
}

// Create adds a folder. Names are unique per user, ignoring case.
func (s *FolderService) Create(ctx context.Context, userID, name string) (*model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "folder name is required")
	}
	if len(name) > MaxFolderNameLength {
		return nil, apperror.ValidationFailed("name",
			fmt.Sprintf("folder name must be %d characters or less", MaxFolderNameLength))
	}
	if isSystemFolder(model.Folder{Name: name}) {
		return nil, apperror.ValidationFailed("name", fmt.Sprintf("%q is a built-in folder", name))
	}

	existing, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, f := range existing {
		if strings.EqualFold(f.Name, name) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: fmt.Sprintf("you already have a folder called %q", f.Name),
				Field:   "name",
			}
		}
	}

	folder, err := s.backend.CreateFolder(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	s.logger.Info("folder created", slog.String("id", folder.ID), slog.String("userID", userID))
	return folder, nil
}

// Delete removes one of the user's folders. Streamers filed in it stay in
// "All".
func (s *FolderService) Delete(ctx context.Context, userID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "folder ID is required")
	}
	if isSystemFolder(model.Folder{ID: id}) {
		return apperror.Forbidden("the All and Favourites folders cannot be deleted")
	}

	folders, err := s.List(ctx, userID)
	if err != nil {
		return err
	}
	found := false
	for _, f := range folders {
		if f.ID == id {
			found = true
			break
		}
	}
	if !found {
		return apperror.NotFound("folder", id)
	}

	if err := s.backend.DeleteFolder(ctx, id); err != nil {
		return err
	}
	s.logger.Info("folder deleted", slog.String("id", id), slog.String("userID", userID))
	return nil
}
