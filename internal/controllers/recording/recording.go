package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/internal/services/recording"
	"github.com/eric2788/screenrec/internal/services/stream"
	"github.com/eric2788/screenrec/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("controller", "recording")

const SessionIDHeader = "X-Session-Id"

var errBadPayload = errors.New("bad payload")

type Controller struct {
	cfg       *config.Config
	streams   *stream.Service
	assembler *recording.Service
}

func NewController(app *fiber.App, cfg *config.Config, streams *stream.Service, assembler *recording.Service) *Controller {
	rc := &Controller{cfg: cfg, streams: streams, assembler: assembler}

	rec := app.Group("/recording")
	rec.Post("/video-chunk", rc.uploadChunk(stream.Video))
	rec.Post("/audio-chunk", rc.uploadChunk(stream.Audio))
	rec.Post("/process-recording", rc.processRecording)
	rec.Get("/streams", rc.listStreams)
	rec.Get("/streams/:sessionId", rc.getStreams)
	rec.Get("/:sessionId/records", rc.listRecords)
	return rc
}

// @Summary Append a media chunk
// @Description Append the raw request body to the open video or audio stream of a session, opening one if needed.
// @Description Routed as /recording/video-chunk and /recording/audio-chunk.
// @Tags recording
// @Security BearerAuth
// @Accept octet-stream
// @Produce json
// @Param X-Session-Id header string false "Session id"
// @Param sessionId query string false "Session id"
// @Success 200 {object} map[string]any "success and total bytesWritten"
// @Failure 400 {object} map[string]string "Invalid session"
// @Failure 409 {object} map[string]string "Stream is finalizing"
// @Failure 413 {object} map[string]string "Stream size limit reached"
// @Failure 429 {object} map[string]string "Too many open streams"
// @Failure 507 {object} map[string]string "Insufficient disk space"
// @Router /recording/video-chunk [post]
func (r *Controller) uploadChunk(kind stream.Kind) fiber.Handler {
	return func(ctx fiber.Ctx) error {
		sessionID := r.sessionID(ctx)
		l := logger.WithFields(logrus.Fields{
			"session":    sessionID,
			"kind":       kind,
			"request_id": ctx.Locals("requestid"),
		})
		payload := ctx.Body()
		l.Debugf("%s chunk received: %d bytes", kind, len(payload))

		total, err := r.streams.Append(sessionID, kind, payload)
		if err != nil {
			l.Errorf("error saving %s chunk: %v", kind, err)
			return ctx.Status(chunkErrorStatus(err)).JSON(fiber.Map{
				"error":   fmt.Sprintf("Failed to save %s chunk", kind),
				"message": err.Error(),
			})
		}
		return ctx.JSON(fiber.Map{
			"success":      true,
			"bytesWritten": total,
		})
	}
}

func chunkErrorStatus(err error) int {
	switch {
	case errors.Is(err, stream.ErrStreamConflict):
		return fiber.StatusConflict
	case errors.Is(err, stream.ErrStreamTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, stream.ErrInsufficientDiskSpace):
		return fiber.StatusInsufficientStorage
	case errors.Is(err, stream.ErrMaxConcurrentStreamsReached):
		return fiber.StatusTooManyRequests
	case errors.Is(err, stream.ErrEmptySessionID), errors.Is(err, stream.ErrInvalidKind):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

type processBody struct {
	SessionID string                     `json:"sessionId"`
	Events    []recording.RecordingEvent `json:"events"`
	Metadata  recording.SessionMetadata  `json:"metadata"`
}

// @Summary Process a recording
// @Description Finalize and promote the media of a session and persist one record with its events.
// @Description Media may be uploaded as "video" and "audio" files, otherwise the chunked streams are used.
// @Description A retry after a failed promotion picks up the kept media.
// @Tags recording
// @Security BearerAuth
// @Accept mpfd,json
// @Produce json
// @Param X-Session-Id header string false "Session id"
// @Param events formData string false "JSON array of events"
// @Param metadata formData string false "JSON session metadata"
// @Param video formData file false "Whole video file"
// @Param audio formData file false "Whole audio file"
// @Success 200 {object} recording.Summary "Saved record"
// @Failure 400 {object} map[string]string "Invalid payload"
// @Failure 500 {object} map[string]any "error, message, sessionId, stage and keptPath"
// @Router /recording/process-recording [post]
func (r *Controller) processRecording(ctx fiber.Ctx) error {
	req, err := r.parseProcessRequest(ctx)
	if errors.Is(err, errBadPayload) {
		logger.Warnf("invalid process-recording request: %v", err)
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	} else if err != nil {
		logger.Errorf("error reading process-recording request: %v", err)
		return fiber.ErrInternalServerError
	}

	summary, err := r.assembler.Assemble(ctx.Context(), *req)
	if err != nil {
		resp := fiber.Map{
			"error":     "Failed to process recording",
			"message":   err.Error(),
			"sessionId": r.assembler.SessionID(*req),
		}
		var ae *recording.AssemblyError
		if errors.As(err, &ae) {
			resp["stage"] = ae.Stage
			if ae.Path != "" {
				resp["keptPath"] = ae.Path
			}
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(resp)
	}
	return ctx.JSON(summary)
}

// parseProcessRequest accepts multipart forms with optional media files, or a plain json body.
func (r *Controller) parseProcessRequest(ctx fiber.Ctx) (*recording.Request, error) {
	req := &recording.Request{SessionID: r.explicitSessionID(ctx)}

	form, err := ctx.MultipartForm()
	if err != nil {
		var body processBody
		if len(ctx.Body()) == 0 {
			return req, nil
		}
		if err := json.Unmarshal(ctx.Body(), &body); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadPayload, err)
		}
		req.Events = body.Events
		req.Metadata = body.Metadata
		req.SessionID = utils.EmptyOrElse(req.SessionID, body.SessionID)
		return req, nil
	}

	if err := decodeField(form, "events", &req.Events); err != nil {
		return nil, err
	}
	if err := decodeField(form, "metadata", &req.Metadata); err != nil {
		return nil, err
	}

	sessionID := r.assembler.SessionID(*req)
	for _, kind := range stream.Kinds {
		files := form.File[string(kind)]
		if len(files) == 0 {
			continue
		}
		path, err := r.saveUpload(ctx, files[0], sessionID, kind)
		if err != nil {
			return nil, err
		}
		if kind == stream.Video {
			req.VideoSource = path
		} else {
			req.AudioSource = path
		}
	}
	return req, nil
}

// decodeField reads a json field sent either as a form value or as a file part.
func decodeField(form *multipart.Form, name string, v any) error {
	var raw []byte
	if values := form.Value[name]; len(values) > 0 && values[0] != "" {
		raw = []byte(values[0])
	} else if files := form.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return err
		}
		defer f.Close()
		if raw, err = io.ReadAll(f); err != nil {
			return err
		}
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: invalid %s: %v", errBadPayload, name, err)
	}
	return nil
}

func (r *Controller) saveUpload(ctx fiber.Ctx, fh *multipart.FileHeader, sessionID string, kind stream.Kind) (string, error) {
	if limit := int64(r.cfg.MaxUploadMegabytes) * 1024 * 1024; limit > 0 && fh.Size > limit {
		return "", fmt.Errorf("%w: %s upload exceeds %d MB", errBadPayload, kind, r.cfg.MaxUploadMegabytes)
	}
	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = "." + r.cfg.MediaExtension
	}
	name := fmt.Sprintf("%s_upload_%s_%d%s", kind, utils.SanitizeFilename(sessionID), time.Now().UnixNano(), ext)
	dest := filepath.Join(r.cfg.UploadDir, name)
	if err := os.MkdirAll(r.cfg.UploadDir, 0755); err != nil {
		return "", err
	}
	if err := ctx.SaveFile(fh, dest); err != nil {
		return "", err
	}
	logger.WithField("session", sessionID).Infof("%s upload saved to %s (%d bytes)", kind, dest, fh.Size)
	return dest, nil
}

// @Summary List open streams
// @Tags recording
// @Security BearerAuth
// @Produce json
// @Success 200 {array} stream.Stats "Open streams"
// @Router /recording/streams [get]
func (r *Controller) listStreams(ctx fiber.Ctx) error {
	return ctx.JSON(r.streams.ListStats(""))
}

// @Summary Open streams of a session
// @Tags recording
// @Security BearerAuth
// @Produce json
// @Param sessionId path string true "Session id"
// @Success 200 {array} stream.Stats "Open streams"
// @Failure 404 {object} map[string]string "No open stream"
// @Router /recording/streams/{sessionId} [get]
func (r *Controller) getStreams(ctx fiber.Ctx) error {
	stats := r.streams.ListStats(ctx.Params("sessionId"))
	if len(stats) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "no open stream for this session")
	}
	return ctx.JSON(stats)
}

// @Summary Records of a session
// @Tags recording
// @Security BearerAuth
// @Produce json
// @Param sessionId path string true "Session id"
// @Success 200 {array} recording.Entry "Persisted records, oldest first"
// @Router /recording/{sessionId}/records [get]
func (r *Controller) listRecords(ctx fiber.Ctx) error {
	entries, err := r.assembler.Records(ctx.Params("sessionId"))
	if err != nil {
		logger.Errorf("error listing records: %v", err)
		return fiber.ErrInternalServerError
	}
	return ctx.JSON(entries)
}

// explicitSessionID is the session the client named, if any.
func (r *Controller) explicitSessionID(ctx fiber.Ctx) string {
	return utils.EmptyOrElse(ctx.Get(SessionIDHeader), ctx.Query("sessionId"))
}

func (r *Controller) sessionID(ctx fiber.Ctx) string {
	return utils.EmptyOrElse(r.explicitSessionID(ctx), r.cfg.DefaultSessionID)
}
