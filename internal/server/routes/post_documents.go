package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type documentBody struct {
	ID   string `json:"id"`
	URI  string `json:"uri"`
	Text string `json:"text" validate:"required"`
	name string
}

type enqueueDocumentsBody struct {
	OntologyVersion string         `json:"ontology_version"`
	Documents       []documentBody `json:"documents" validate:"required,min=1,dive"`
}

type enqueuedDocument struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

type enqueueDocumentsResponse struct {
	Message   string             `json:"message"`
	Documents []enqueuedDocument `json:"documents,omitempty"`
}

// readDocuments takes the documents from multipart "files" fields or from
// the JSON body.
func readDocuments(c echo.Context) (*enqueueDocumentsBody, error) {
	data := new(enqueueDocumentsBody)
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		data.OntologyVersion = c.FormValue("ontology_version")
		for _, file := range form.File["files"] {
			src, err := file.Open()
			if err != nil {
				return nil, err
			}
			b, err := io.ReadAll(src)
			src.Close()
			if err != nil {
				return nil, err
			}
			data.Documents = append(data.Documents, documentBody{Text: string(b), name: file.Filename})
		}
	} else if err := c.Bind(data); err != nil {
		return nil, err
	}

	if err := c.Validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// EnqueueDocumentsHandler stores the documents and queues one extraction
// job for them.
func EnqueueDocumentsHandler(c echo.Context) error {
	data, err := readDocuments(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, enqueueDocumentsResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	job := queue.ExtractJobMsg{TenantID: user.TenantID, OntologyVersion: data.OntologyVersion}
	enqueued := make([]enqueuedDocument, 0, len(data.Documents))
	var uploaded []string
	for _, d := range data.Documents {
		if !utf8.ValidString(d.Text) {
			rollback(ctx, app, uploaded)
			return c.JSON(http.StatusBadRequest, enqueueDocumentsResponse{
				Message: "Documents must be UTF-8 text",
			})
		}
		id := strings.TrimSpace(d.ID)
		if id == "" {
			id, err = gonanoid.New()
			if err != nil {
				rollback(ctx, app, uploaded)
				return c.JSON(http.StatusInternalServerError, enqueueDocumentsResponse{
					Message: "Internal server error",
				})
			}
		}

		msg := queue.DocumentMsg{ID: id, URI: d.URI}
		if app.S3 != nil {
			name := d.name
			if name == "" {
				name = id + ".txt"
			}
			key, err := storage.PutFile(ctx, app.S3, app.Bucket, storage.DocumentKey(user.TenantID, id, name), strings.NewReader(d.Text))
			if err != nil {
				logger.Error("[Server] Failed to upload document", "tenant_id", user.TenantID, "document_id", id, "err", err)
				rollback(ctx, app, uploaded)
				return c.JSON(http.StatusInternalServerError, enqueueDocumentsResponse{
					Message: "Internal server error",
				})
			}
			uploaded = append(uploaded, key)
			msg.Key = key
		} else {
			msg.Text = d.Text
		}
		job.Documents = append(job.Documents, msg)
		enqueued = append(enqueued, enqueuedDocument{ID: id, Key: msg.Key})
	}

	if err := job.Validate(); err != nil {
		rollback(ctx, app, uploaded)
		return c.JSON(http.StatusBadRequest, enqueueDocumentsResponse{
			Message: err.Error(),
		})
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(job); err != nil {
		rollback(ctx, app, uploaded)
		return c.JSON(http.StatusInternalServerError, enqueueDocumentsResponse{
			Message: "Internal server error",
		})
	}
	if err := queue.PublishFIFO(app.Queue, queue.ExtractQueue, body.Bytes()); err != nil {
		logger.Error("[Server] Failed to enqueue extraction", "tenant_id", user.TenantID, "err", err)
		rollback(ctx, app, uploaded)
		return c.JSON(http.StatusServiceUnavailable, enqueueDocumentsResponse{
			Message: "Queue unavailable",
		})
	}

	return c.JSON(http.StatusAccepted, enqueueDocumentsResponse{
		Message:   "Documents queued for extraction",
		Documents: enqueued,
	})
}

// rollback removes objects uploaded for a request that was not queued.
func rollback(ctx context.Context, app *middleware.App, keys []string) {
	for _, key := range keys {
		err := util.RetryErrWithContext(ctx, 3, func(ctx context.Context) error {
			return storage.DeleteFile(ctx, app.S3, app.Bucket, key)
		})
		if err != nil {
			logger.Warn("[Server] Failed to remove uploaded document", "key", key, "err", err)
		}
	}
}
