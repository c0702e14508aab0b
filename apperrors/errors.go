// Package apperrors definiert die Fehlerklassen der Ingestion und deren HTTP-Abbildung.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorType ist der maschinenlesbare Fehlertyp in JSON-Antworten.
type ErrorType string

const (
	TypeValidation    ErrorType = "VALIDATION_ERROR"
	TypeNotFound      ErrorType = "NOT_FOUND"
	TypeConflict      ErrorType = "STORE_CONFLICT"
	TypeNetwork       ErrorType = "NETWORK_ERROR"
	TypeParse         ErrorType = "PARSE_ERROR"
	TypeInternalError ErrorType = "INTERNAL_SERVER_ERROR"
)

// NetworkError ist ein (meist transienter) Fehler beim Aufruf einer externen API.
type NetworkError struct {
	Op         string // z.B. "esearch", "efetch"
	ID         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.ID != "":
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.ID, e.StatusCode)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	case e.ID != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError bedeutet ungültiges oder unerwartet aufgebautes XML.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Msg, e.Err)
	}
	return "parse: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError meldet fehlende Pflichtangaben oder ungültige Argumente.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// NotFoundError meldet einen unbekannten Datensatz.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StoreConflictError entsteht, wenn zwei Upserts auf denselben Schlüssel kollidieren
// und der erneute Lesezugriff die Zeile trotzdem nicht findet.
type StoreConflictError struct {
	Key string
	Err error
}

func (e *StoreConflictError) Error() string {
	return fmt.Sprintf("store conflict on %s: %v", e.Key, e.Err)
}

func (e *StoreConflictError) Unwrap() error { return e.Err }

// Validation erzeugt einen ValidationError.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// NotFound erzeugt einen NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound prüft, ob err (oder ein umhüllter Fehler) ein NotFoundError ist.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Classify ordnet einen Fehler seinem Typ und HTTP-Status zu.
func Classify(err error) (ErrorType, int) {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *StoreConflictError
		network    *NetworkError
		parse      *ParseError
	)
	switch {
	case errors.As(err, &validation):
		return TypeValidation, http.StatusBadRequest
	case errors.As(err, &notFound):
		return TypeNotFound, http.StatusNotFound
	case errors.As(err, &conflict):
		return TypeConflict, http.StatusConflict
	case errors.As(err, &network):
		return TypeNetwork, http.StatusBadGateway
	case errors.As(err, &parse):
		return TypeParse, http.StatusUnprocessableEntity
	default:
		return TypeInternalError, http.StatusInternalServerError
	}
}

// HandleError schreibt die JSON-Fehlerantwort. Interne Fehler werden geloggt
// und nur mit einer generischen Meldung beantwortet.
func HandleError(c *gin.Context, log *zap.Logger, err error) {
	errType, status := Classify(err)
	message := err.Error()
	if errType == TypeInternalError {
		log.Error("Internal Server Error", zap.String("url", c.Request.URL.String()), zap.Error(err))
		message = "An unexpected error occurred"
	}
	c.JSON(status, gin.H{
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}
