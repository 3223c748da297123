package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/creatorhub/internal/apperror"
	"github.com/sakif/creatorhub/internal/logging"
	"github.com/sakif/creatorhub/internal/model"
)

func TestFolderList_SystemFoldersFirst(t *testing.T) {
	fb := newFakeBackend()
	// The backend may or may not report the system folders itself.
	fb.folders = []model.Folder{
		{ID: "f1", Name: "Valorant"},
		{ID: "all", Name: "All"},
		{ID: "f2", Name: "Cozy games"},
	}
	svc := NewFolderService(fb, logging.Discard())

	folders, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)

	want := []model.Folder{
		{ID: model.FolderAllID, Name: model.FolderAll, System: true},
		{ID: model.FolderFavouritesID, Name: model.FolderFavourites, System: true},
		{ID: "f1", Name: "Valorant"},
		{ID: "f2", Name: "Cozy games"},
	}
	assert.Equal(t, want, folders)
}

func TestFolderList_EmptyBackendStillHasSystemFolders(t *testing.T) {
	svc := NewFolderService(newFakeBackend(), logging.Discard())

	folders, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.True(t, folders[0].System)
	assert.True(t, folders[1].System)
}

func TestFolderCreate(t *testing.T) {
	fb := newFakeBackend()
	svc := NewFolderService(fb, logging.Discard())
	ctx := context.Background()

	f, err := svc.Create(ctx, "u1", "  Valorant ")
	require.NoError(t, err)
	assert.Equal(t, "Valorant", f.Name)

	_, err = svc.Create(ctx, "u1", "VALORANT")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	for _, name := range []string{"", "favourites", "All"} {
		_, err = svc.Create(ctx, "u1", name)
		assert.ErrorIs(t, err, apperror.ErrValidation, "name %q", name)
	}
	assert.Len(t, fb.folders, 1)
}

func TestFolderDelete_SystemFoldersAreProtected(t *testing.T) {
	fb := newFakeBackend()
	fb.folders = []model.Folder{{ID: "f1", Name: "Valorant"}}
	svc := NewFolderService(fb, logging.Discard())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, "u1", model.FolderAllID), apperror.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, "u1", model.FolderFavouritesID), apperror.ErrForbidden)
	assert.ErrorIs(t, svc.Delete(ctx, "u1", "missing"), apperror.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, "u1", "f1"))
	assert.Empty(t, fb.folders)
}
