package response

import (
	"encoding/json"
	"io"

	"github.com/noah-isme/enrollment-records/internal/models"
	appErrors "github.com/noah-isme/enrollment-records/pkg/errors"
)

// Envelope represents the common output contract.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// JSON writes a success envelope with optional pagination metadata.
func JSON(w io.Writer, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) error {
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	return write(w, envelope)
}

// Error writes an error envelope and returns the normalised error.
func Error(w io.Writer, err error) *appErrors.Error {
	appErr := appErrors.FromError(err)
	if appErr == nil {
		return nil
	}
	_ = write(w, Envelope{Error: appErr})
	return appErr
}

func write(w io.Writer, envelope Envelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope)
}
