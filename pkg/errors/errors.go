package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deckforge/deckforge/pkg/i18n"
)

// Kind classifies a failure so callers can decide how to surface it.
type Kind string

const (
	KindUnknown          Kind = ""
	KindInvalidArgument  Kind = "invalid_argument"
	KindConnectivity     Kind = "connectivity"
	KindBadRequest       Kind = "bad_request"
	KindNotFound         Kind = "not_found"
	KindServer           Kind = "server"
	KindOther            Kind = "other"
	KindMalformedMessage Kind = "malformed_message"
	KindChannelExhausted Kind = "channel_exhausted"
	KindJobFailed        Kind = "job_failed"
)

type CustomizedError struct {
	cause   error
	message string
	trace   []string
	wrap    error
	code    int
	kind    Kind
	data    map[string]interface{}
}

func (e *CustomizedError) WithData(data map[string]interface{}) *CustomizedError {
	e.data = data
	return e
}

func (e *CustomizedError) Data() map[string]interface{} {
	return e.data
}

func (e *CustomizedError) Code(c int) *CustomizedError {
	e.code = c
	return e
}

func (e *CustomizedError) GetCode() int {
	return e.code
}

func (e *CustomizedError) Kind(k Kind) *CustomizedError {
	e.kind = k
	return e
}

func (e *CustomizedError) GetKind() Kind {
	return e.kind
}

func New(trace, message string, err error) *CustomizedError {
	code := http.StatusInternalServerError
	return &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		code:    code,
	}
}

func (e *CustomizedError) Trace(trace string) *CustomizedError {
	e.trace = append(e.trace, trace)
	return e
}

func Wrap(err error, trace, message string) *CustomizedError {
	ce := &CustomizedError{
		cause:   err,
		message: message,
		trace:   []string{trace},
		wrap:    err,
	}
	if income, ok := err.(*CustomizedError); ok {
		ce.code = income.code
		ce.kind = income.kind
		ce.data = income.data
	}
	return ce
}

func Trace(trace string, err error) *CustomizedError {
	if ce, ok := err.(*CustomizedError); ok {
		ce.trace = append(ce.trace, trace)
		return ce
	}
	return Wrap(err, trace, err.Error())
}

func (e *CustomizedError) Message() string {
	if e.message == "" {
		if e.cause == nil {
			return ""
		}
		return e.cause.Error()
	}
	return e.message
}

// Localize renders the message id through the i18n bundle.
func (e *CustomizedError) Localize(l i18n.Localizer, lang string) string {
	if len(e.data) > 0 {
		return l.GetWithData(lang, e.Message(), e.data)
	}
	return l.Get(lang, e.Message())
}

func (e *CustomizedError) Unwrap() error {
	if e.wrap != nil {
		return e.wrap
	}
	return e.cause
}

func (e *CustomizedError) Error() string {
	otherDetails := `""`
	if ce, ok := e.wrap.(*CustomizedError); ok {
		otherDetails = ce.Error()
	} else if e.wrap != nil {
		otherDetails = fmt.Sprint("\"", e.wrap.Error(), "\"")
	}
	return fmt.Sprintf(`{"trace":"%s","code":%d,"kind":"%s","msg":"%s","error":"%v","wrapd":%s}`, strings.Join(e.trace, "->"), e.code, e.kind, e.message, e.cause, otherDetails)
}

// KindOf returns the kind of the first CustomizedError in err's chain.
func KindOf(err error) Kind {
	var ce *CustomizedError
	if stderrors.As(err, &ce) {
		return ce.kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// KindFromStatus maps an HTTP status code onto the error taxonomy.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status == http.StatusNotFound:
		return KindNotFound
	case status >= http.StatusInternalServerError:
		return KindServer
	default:
		return KindOther
	}
}

// MessageIDForKind is the i18n id used when surfacing an error of the given kind.
func MessageIDForKind(kind Kind) string {
	switch kind {
	case KindConnectivity:
		return i18n.ERROR_CONNECTIVITY
	case KindBadRequest:
		return i18n.ERROR_BAD_REQUEST
	case KindNotFound:
		return i18n.ERROR_NOT_FOUND
	case KindServer:
		return i18n.ERROR_SERVER
	case KindOther:
		return i18n.ERROR_UNEXPECTED_STATUS
	case KindMalformedMessage:
		return i18n.ERROR_MALFORMED_MESSAGE
	case KindChannelExhausted:
		return i18n.ERROR_CHANNEL_EXHAUSTED
	case KindJobFailed:
		return i18n.ERROR_JOB_FAILED
	case KindInvalidArgument:
		return i18n.ERROR_INVALIDARGUMENT
	default:
		return i18n.ERROR_INTERNAL
	}
}

// Describe turns any error into a single human readable sentence.
func Describe(l i18n.Localizer, lang string, err error) string {
	if err == nil {
		return ""
	}
	var ce *CustomizedError
	if !stderrors.As(err, &ce) {
		return l.Get(lang, i18n.ERROR_INTERNAL)
	}
	return ce.Localize(l, lang)
}
