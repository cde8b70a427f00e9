package echoapi

import (
	"fmt"
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

const msgValidation = "validation failed"

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errFileRequired = core.NewStructuralError(errors.New("file is required"))
)

// ErrorResponse is the envelope of every error response.
type ErrorResponse struct {
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, resp := errorResponse(err, translator)

		if code == http.StatusInternalServerError {
			actor, _ := getContextActor(ctx)
			logger.Error(fmt.Sprintf("%s %s: %v", ctx.Request().Method, ctx.Path(), err), err, actor)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
			if ctx.Echo().Debug {
				resp.Message = err.Error()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

func errorResponse(err error, translator ut.Translator) (int, ErrorResponse) {
	switch origErr := errors.Cause(err).(type) {
	case *echo.HTTPError:
		if origErr == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, ErrorResponse{Message: fmt.Sprint(origErr.Message)}
		}
		if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
			origErr = herr
		}
		return origErr.Code, ErrorResponse{Message: fmt.Sprint(origErr.Message)}

	case validator.ValidationErrors:
		vErr := core.TranslateValidationErrors(origErr, translator).(*core.ValidationError)
		return http.StatusUnprocessableEntity, validationResponse(vErr)

	case *core.ValidationError:
		return http.StatusUnprocessableEntity, validationResponse(origErr)

	case *core.StructuralError:
		return http.StatusBadRequest, ErrorResponse{Message: origErr.Error()}

	case *core.ConflictError:
		return http.StatusConflict, ErrorResponse{Message: origErr.Error(), Code: origErr.Code}

	case *core.NotFoundError:
		return http.StatusNotFound, ErrorResponse{Message: origErr.Error()}

	case *core.TransientError:
		return http.StatusServiceUnavailable, ErrorResponse{Message: origErr.Error()}

	default: // any other error is a server error
		return http.StatusInternalServerError, ErrorResponse{Message: http.StatusText(http.StatusInternalServerError)}
	}
}

func validationResponse(vErr *core.ValidationError) ErrorResponse {
	resp := ErrorResponse{Message: msgValidation}
	if vErr.Err != nil {
		resp.Message = vErr.Err.Error()
	}
	if len(vErr.Fields) > 0 {
		resp.Errors = make(map[string]string, len(vErr.Fields))
		for _, fErr := range vErr.Fields {
			resp.Errors[fErr.Field] = fErr.Error
		}
	}
	return resp
}
