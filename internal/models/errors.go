package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode identifies a chat service failure. The API layer maps codes
// onto HTTP statuses; callers should match on codes, never on message
// strings.
type ErrorCode string

const (
	ErrChannelNotFound                ErrorCode = "channelNotFound"
	ErrNotInChannel                   ErrorCode = "notInChannel"
	ErrTargetNotInChannel             ErrorCode = "targetNotInChannel"
	ErrUserOffline                    ErrorCode = "userOffline"
	ErrUserNotFound                   ErrorCode = "userNotFound"
	ErrUserBanned                     ErrorCode = "userBanned"
	ErrCannotModerateYourself         ErrorCode = "cannotModerateYourself"
	ErrCannotLeaveShieldBattery       ErrorCode = "cannotLeaveShieldBattery"
	ErrCannotModerateShieldBattery    ErrorCode = "cannotModerateShieldBattery"
	ErrCannotChangeChannelOwner       ErrorCode = "cannotChangeChannelOwner"
	ErrCannotEditChannel              ErrorCode = "cannotEditChannel"
	ErrCannotModerateChannelOwner     ErrorCode = "cannotModerateChannelOwner"
	ErrCannotModerateChannelModerator ErrorCode = "cannotModerateChannelModerator"
	ErrMaximumJoinedChannels          ErrorCode = "maximumJoinedChannels"
	ErrMaximumOwnedChannels           ErrorCode = "maximumOwnedChannels"
	ErrNotEnoughPermissions           ErrorCode = "notEnoughPermissions"
	ErrInappropriateImage             ErrorCode = "inappropriateImage"
	ErrNoInitialChannelData           ErrorCode = "noInitialChannelData"
	ErrMessageNotFound                ErrorCode = "messageNotFound"
	ErrValidation                     ErrorCode = "validationError"
	ErrInternal                       ErrorCode = "internalError"
)

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string    `json:"error"`
	Code  ErrorCode `json:"code,omitempty"`
}

// AppError is a coded application error.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewChatError creates a coded error with a human-readable message.
func NewChatError(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return &AppError{Code: ErrValidation, Message: message}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(err error) *AppError {
	return &AppError{Code: ErrInternal, Message: "Internal server error", Err: err}
}

// CodeOf extracts the error code, or ErrInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// StatusForCode maps an error code onto an HTTP status:
// not-found/offline classes to 404, permission classes to 403,
// invalid-action classes to 400.
func StatusForCode(code ErrorCode) int {
	switch code {
	case ErrChannelNotFound, ErrUserNotFound, ErrUserOffline, ErrMessageNotFound:
		return fiber.StatusNotFound
	case ErrUserBanned, ErrNotEnoughPermissions, ErrCannotModerateChannelOwner,
		ErrCannotModerateChannelModerator, ErrCannotChangeChannelOwner,
		ErrCannotEditChannel, ErrCannotLeaveShieldBattery, ErrCannotModerateShieldBattery:
		return fiber.StatusForbidden
	case ErrNotInChannel, ErrTargetNotInChannel, ErrCannotModerateYourself,
		ErrMaximumJoinedChannels, ErrMaximumOwnedChannels, ErrInappropriateImage,
		ErrNoInitialChannelData, ErrValidation:
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError writes a standardized error response. Coded errors
// pick their status from StatusForCode unless the caller overrides it.
func RespondWithError(c *fiber.Ctx, err error, statusOverride ...int) error {
	status := StatusForCode(CodeOf(err))
	if len(statusOverride) > 0 {
		status = statusOverride[0]
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return c.Status(status).JSON(ErrorResponse{Error: appErr.Message, Code: appErr.Code})
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}
