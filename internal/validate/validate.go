// Package validate implements the pre-flight checks an upload must pass before
// any request reaches the document service.
package validate

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/pavelanni/studyhelper/internal/model"
)

// MaxUploadSize is the largest accepted upload, in bytes.
const MaxUploadSize int64 = 10 * 1024 * 1024

// AcceptedMediaTypes lists the image types the document service can analyze.
var AcceptedMediaTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/webp",
	"image/tiff",
}

// Reason is the short, human-readable cause of a rejected upload.
type Reason string

const (
	ReasonUnsupportedType    Reason = "unsupported type"
	ReasonTooLarge           Reason = "too large"
	ReasonMissingInstruction Reason = "missing instruction"
)

// Error is returned when the gate rejects a candidate.
type Error struct {
	Field  string
	Reason Reason
}

func (e *Error) Error() string {
	return string(e.Reason)
}

// ReasonOf extracts the rejection reason from err, if err is a gate rejection.
func ReasonOf(err error) (Reason, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// checks run in this order; the first failing field decides the reason.
var checks = []struct {
	field  string
	reason Reason
}{
	{"MediaType", ReasonUnsupportedType},
	{"Size", ReasonTooLarge},
	{"Instruction", ReasonMissingInstruction},
}

// Gate validates upload candidates. It never touches the network or the filesystem.
type Gate struct {
	v       *validator.Validate
	maxSize int64
}

// New creates a gate with the standard accepted types and size ceiling.
func New() *Gate {
	g := &Gate{v: validator.New(), maxSize: MaxUploadSize}
	_ = g.v.RegisterValidation("accepted_image", acceptedImage)
	_ = g.v.RegisterValidation("max_upload_size", g.withinSize)
	_ = g.v.RegisterValidation("notblank", validators.NotBlank)
	return g
}

// Validate returns nil if the candidate may be submitted, or an *Error naming why not.
func (g *Gate) Validate(c model.UploadCandidate) error {
	for _, check := range checks {
		err := g.v.StructPartial(c, check.field)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		return &Error{Field: check.field, Reason: check.reason}
	}
	return nil
}

func acceptedImage(fl validator.FieldLevel) bool {
	return IsAcceptedMediaType(fl.Field().String())
}

func (g *Gate) withinSize(fl validator.FieldLevel) bool {
	return fl.Field().Int() <= g.maxSize
}

// IsAcceptedMediaType reports whether mediaType is in the accepted image set.
func IsAcceptedMediaType(mediaType string) bool {
	for _, t := range AcceptedMediaTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// DetectMediaType sniffs the media type of data, without parameters.
// It is meant for callers that read a file from disk and have no declared type.
func DetectMediaType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}
