package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/OFFIS-RIT/ontograph/internal/server/middleware"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/labstack/echo/v4"
)

type ontologyResponse struct {
	Message   string   `json:"message"`
	Version   string   `json:"version,omitempty"`
	Classes   int      `json:"classes,omitempty"`
	Error     string   `json:"error,omitempty"`
	Line      int      `json:"line,omitempty"`
	Column    int      `json:"column,omitempty"`
	Construct string   `json:"construct,omitempty"`
	Cycle     []string `json:"cycle,omitempty"`
}

// readOntology takes the document from a multipart "file" field or from the
// JSON body.
func readOntology(c echo.Context) (string, error) {
	if isMultipart(c) {
		file, err := c.FormFile("file")
		if err != nil {
			return "", err
		}
		src, err := file.Open()
		if err != nil {
			return "", err
		}
		defer src.Close()
		b, err := io.ReadAll(src)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	type uploadOntologyBody struct {
		Document string `json:"document" validate:"required"`
	}
	data := new(uploadOntologyBody)
	if err := c.Bind(data); err != nil {
		return "", err
	}
	if err := c.Validate(data); err != nil {
		return "", err
	}
	return data.Document, nil
}

// UploadOntologyHandler parses and builds an ontology and stores it for the
// caller's tenant. Invalid documents are rejected with their position.
func UploadOntologyHandler(c echo.Context) error {
	document, err := readOntology(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ontologyResponse{
			Message: "Invalid request body",
		})
	}

	user := c.(*middleware.AppContext).User
	app := c.(*middleware.AppContext).App

	index, err := ontology.Load(document)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, ontologyError(err))
	}

	ctx := c.Request().Context()
	err = app.Storage.SaveOntology(ctx, store.OntologyRecord{
		TenantID: user.TenantID,
		Version:  index.Version(),
		Document: document,
	})
	if err != nil {
		logger.Error("[Server] Failed to save ontology", "tenant_id", user.TenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, ontologyResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusCreated, ontologyResponse{
		Message: "Ontology stored",
		Version: index.Version(),
		Classes: index.Len(),
	})
}

func ontologyError(err error) ontologyResponse {
	res := ontologyResponse{Message: "Invalid ontology", Error: err.Error()}
	var malformed *ontology.MalformedDocumentError
	var unsupported *ontology.UnsupportedConstructError
	var cycle *ontology.CycleDetectedError
	switch {
	case errors.As(err, &malformed):
		res.Line, res.Column = malformed.Line, malformed.Column
	case errors.As(err, &unsupported):
		res.Line, res.Column, res.Construct = unsupported.Line, unsupported.Column, unsupported.Construct
	case errors.As(err, &cycle):
		res.Cycle = cycle.Cycle
	}
	return res
}
