package file

import (
	"errors"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/eric2788/screenrec/internal/services/file"
	"github.com/eric2788/screenrec/internal/services/path"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "file")

// Busy reports whether a file below the recordings directory is still in use.
type Busy interface {
	IsProcessing(path string) bool
}

type BusyFunc func(path string) bool

func (f BusyFunc) IsProcessing(path string) bool { return f(path) }

// AnyBusy is busy when one of checks is.
func AnyBusy(checks ...func(path string) bool) Busy {
	return BusyFunc(func(path string) bool {
		for _, check := range checks {
			if check(path) {
				return true
			}
		}
		return false
	})
}

type PresignedURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

type Controller struct {
	fileSvc *file.Service
	pathSvc *path.Service
	busy    Busy
}

func NewController(
	app *fiber.App,
	fileSvc *file.Service,
	pathSvc *path.Service,
	busy Busy,
) *Controller {
	fc := &Controller{
		fileSvc: fileSvc,
		pathSvc: pathSvc,
		busy:    busy,
	}
	files := app.Group("/files")

	files.Get("/browse/*", fc.listFiles)
	files.Get("/download/*", fc.downloadFile)
	files.Get("/tempdownload", fc.presignedDownload)
	files.Post("/presigned/*", fc.createPresignedURL)

	files.Delete("/batch", fc.deleteFiles)
	files.Delete("/*", fc.deleteDir)

	return fc
}

// @Summary List files and directories
// @Description List files and directories under a given path. Files still in use are flagged as processing.
// @Tags files
// @Security BearerAuth
// @Produce json
// @Param path path string false "Relative path"
// @Success 200 {array} file.Tree "List of files and directories"
// @Failure 400 {object} map[string]string "Invalid path"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Router /files/browse/{path} [get]
func (c *Controller) listFiles(ctx fiber.Ctx) error {
	raw := ctx.Params("*", "/")
	path, err := url.PathUnescape(raw)
	if err != nil {
		return fiber.ErrBadRequest
	}
	trees, err := c.fileSvc.ListTree(path)
	if err != nil {
		logger.Warnf("error listing dir at path %s: %v", path, err)
		return c.parseFiberError(err)
	}
	return ctx.JSON(c.withProcessingStatus(trees))
}

// @Summary Download a file
// @Description Download a recording, its media or any file below the recordings directory
// @Tags files
// @Security BearerAuth
// @Produce octet-stream
// @Param path path string true "File path"
// @Success 200 {file} binary "File stream"
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Router /files/download/{path} [get]
func (c *Controller) downloadFile(ctx fiber.Ctx) error {
	raw := ctx.Params("*", "/")
	path, err := url.PathUnescape(raw)
	if err != nil {
		return fiber.ErrBadRequest
	}
	fullPath, err := c.pathSvc.ValidatePath(path)
	if err != nil {
		logger.Warnf("error validating path %s: %v", path, err)
		return c.parseFiberError(err)
	}
	return c.sendFile(ctx, fullPath)
}

// @Summary Presigned download
// @Description Download a file using a presigned token (no auth required)
// @Tags files
// @Produce octet-stream
// @Param presigned query string true "Presigned URL token"
// @Success 200 {file} binary "File stream"
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Router /files/tempdownload [get]
//
// presignedDownload is reachable without a bearer token, the download token is the credential.
func (c *Controller) presignedDownload(ctx fiber.Ctx) error {
	token := ctx.Query("presigned", "")
	if token == "" {
		return fiber.ErrBadRequest
	}
	relPath, err := c.pathSvc.ParsePresignedURLToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	fullPath, err := c.pathSvc.ValidatePath(relPath)
	if err != nil {
		logger.Warnf("error validating path %s: %v", relPath, err)
		return c.parseFiberError(err)
	}
	return c.sendFile(ctx, fullPath)
}

// @Summary Create presigned URL
// @Description Create a presigned token for downloading a file. Accepts optional "ttl" query in seconds (default 3600).
// @Tags files
// @Security BearerAuth
// @Produce json
// @Param path path string true "File path"
// @Param ttl query int false "TTL in seconds"
// @Success 201 {object} PresignedURLResponse "Presigned URL response"
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Router /files/presigned/{path} [post]
func (c *Controller) createPresignedURL(ctx fiber.Ctx) error {
	raw := ctx.Params("*", "/")
	path, err := url.PathUnescape(raw)
	if err != nil {
		return fiber.ErrBadRequest
	}

	fullPath, err := c.pathSvc.ValidatePath(path)
	if err != nil {
		logger.Warnf("error validating path %s: %v", path, err)
		return c.parseFiberError(err)
	}
	if info, err := os.Stat(fullPath); err != nil {
		return c.parseFiberError(err)
	} else if info.IsDir() {
		return c.parseFiberError(file.ErrIsDirectory)
	}

	ttlStr := ctx.Query("ttl", "")
	ttlSeconds := int64(3600)
	if ttlStr != "" {
		n, err := strconv.ParseInt(ttlStr, 10, 64)
		if err != nil || n <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid ttl")
		}
		ttlSeconds = n
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	url, err := c.pathSvc.GeneratePresignedURL(fullPath, ttl)
	if err != nil {
		logger.Warnf("error creating presigned token for path %s: %v", path, err)
		return fiber.ErrInternalServerError
	}

	return ctx.Status(fiber.StatusCreated).JSON(&PresignedURLResponse{
		URL:       url,
		ExpiresIn: int(ttl.Seconds()),
	})
}

// @Summary Delete multiple files
// @Description Delete multiple files by their relative paths. Files still in use are refused.
// @Tags files
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param paths body []string true "List of relative file paths to delete"
// @Success 204 "No Content"
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Failure 409 {object} map[string]string "File in use"
// @Router /files/batch [delete]
func (c *Controller) deleteFiles(ctx fiber.Ctx) error {
	var paths []string
	if err := ctx.Bind().Body(&paths); err != nil || len(paths) == 0 {
		return fiber.ErrBadRequest
	} else if slices.ContainsFunc(paths, c.isProcessing) {
		return fiber.NewError(fiber.StatusConflict, "files are still being processed")
	} else if err := c.fileSvc.DeleteFiles(paths...); err != nil {
		logger.Warnf("error deleting files: %v", err)
		return c.parseFiberError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// @Summary Delete a directory
// @Description Delete a directory and all its contents
// @Tags files
// @Security BearerAuth
// @Produce json
// @Param path path string true "Directory path"
// @Success 204 "No Content"
// @Failure 400 {object} map[string]string "Bad request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 404 {object} map[string]string "Not found"
// @Failure 409 {object} map[string]string "Directory holds a file in use"
// @Router /files/{path} [delete]
func (c *Controller) deleteDir(ctx fiber.Ctx) error {
	raw := ctx.Params("*", "/")
	path, err := url.PathUnescape(raw)
	if err != nil {
		return fiber.ErrBadRequest
	}
	trees, err := c.fileSvc.ListTree(path)
	if err != nil {
		return c.parseFiberError(err)
	}
	if slices.ContainsFunc(c.withProcessingStatus(trees), func(t file.Tree) bool { return t.Processing }) {
		return fiber.NewError(fiber.StatusConflict, "directory contains files still being processed")
	}
	if err := c.fileSvc.DeleteDirectory(path); err != nil {
		logger.Warnf("error deleting directory at path %s: %v", path, err)
		return c.parseFiberError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *Controller) sendFile(ctx fiber.Ctx, fullPath string) error {
	if info, err := os.Stat(fullPath); err != nil {
		return c.parseFiberError(err)
	} else if info.IsDir() {
		return c.parseFiberError(file.ErrIsDirectory)
	}
	ctx.Attachment(fullPath) // SendFile does not set the filename itself
	return ctx.SendFile(fullPath, fiber.SendFile{
		ByteRange: true,
	})
}

func (c *Controller) isProcessing(rel string) bool {
	fullPath, err := c.pathSvc.ValidatePath(rel)
	return err == nil && c.busy.IsProcessing(fullPath)
}

func (c *Controller) parseFiberError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fiber.NewError(fiber.StatusNotFound, "file or directory not found")
	case errors.Is(err, os.ErrPermission), errors.Is(err, path.ErrAccessDenied):
		return fiber.NewError(fiber.StatusForbidden, "access to this path is denied")
	case errors.Is(err, path.ErrInvalidFilePath):
		return fiber.NewError(fiber.StatusBadRequest, "invalid file path")
	case errors.Is(err, file.ErrIsDirectory):
		return fiber.NewError(fiber.StatusBadRequest, "path is a directory")
	case errors.Is(err, file.ErrIsNotDirectory):
		return fiber.NewError(fiber.StatusBadRequest, "path is not a directory")
	default:
		return fiber.ErrInternalServerError
	}
}

func (c *Controller) withProcessingStatus(tree []file.Tree) []file.Tree {
	out := make([]file.Tree, len(tree))
	copy(out, tree)
	for i := range out {
		if !out[i].IsDir {
			out[i].Processing = c.isProcessing(out[i].Path)
		}
	}
	return out
}
