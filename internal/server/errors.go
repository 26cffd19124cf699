package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/entitle/internal/account/domain"
	blockingdomain "github.com/smallbiznis/entitle/internal/blocking/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/plugin"
	subscriptiondomain "github.com/smallbiznis/entitle/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Blocked *blockedDetail    `json:"blocked,omitempty"`
}

type blockedDetail struct {
	Action        string `json:"action"`
	BlockableType string `json:"blockable_type"`
	BlockableID   string `json:"blockable_id"`
	Service       string `json:"service"`
	StateName     string `json:"state_name"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var blocked *blockingdomain.BlockedActionError
	if errors.As(err, &blocked) {
		return http.StatusConflict, errorPayload{
			Type:    "blocked_action",
			Message: blocked.Error(),
			Blocked: &blockedDetail{
				Action:        string(blocked.Action),
				BlockableType: string(blocked.BlockableType),
				BlockableID:   blocked.BlockableID.String(),
				Service:       blocked.Service,
				StateName:     blocked.StateName,
			},
		}
	}

	var postCommit *plugin.PostCommitHookError
	if errors.As(err, &postCommit) {
		return http.StatusOK, errorPayload{
			Type:    "post_commit_hook_warning",
			Message: postCommit.Error(),
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, entitlementdomain.ErrDuplicateBundleKey),
		errors.Is(err, accountdomain.ErrDuplicateExternalKey),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, entitlementdomain.ErrInvalidLocalDate),
		errors.Is(err, entitlementdomain.ErrMissingBaseSpecifier),
		errors.Is(err, entitlementdomain.ErrInvalidBundleKey),
		errors.Is(err, entitlementdomain.ErrNoActiveBaseSubscription),
		errors.Is(err, accountdomain.ErrInvalidExternalKey),
		errors.Is(err, accountdomain.ErrInvalidTimeZone),
		errors.Is(err, subscriptiondomain.ErrInvalidPlanName),
		errors.Is(err, subscriptiondomain.ErrInvalidPolicy),
		errors.Is(err, blockingdomain.ErrInvalidBlockingState):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, subscriptiondomain.ErrBundleNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, subscriptiondomain.ErrNoBaseSubscription),
		errors.Is(err, entitlementdomain.ErrEntitlementNotFound):
		return true
	default:
		return false
	}
}
