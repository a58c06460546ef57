package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deckforge/deckforge/pkg/i18n"
)

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, KindBadRequest, KindFromStatus(http.StatusBadRequest))
	assert.Equal(t, KindNotFound, KindFromStatus(http.StatusNotFound))
	assert.Equal(t, KindServer, KindFromStatus(http.StatusInternalServerError))
	assert.Equal(t, KindServer, KindFromStatus(http.StatusBadGateway))
	assert.Equal(t, KindOther, KindFromStatus(http.StatusForbidden))
	assert.Equal(t, KindOther, KindFromStatus(http.StatusConflict))
}

func TestKindSurvivesTraceAndWrap(t *testing.T) {
	base := New("backend.Upload", i18n.ERROR_CONNECTIVITY, fmt.Errorf("dial tcp: refused")).Kind(KindConnectivity)

	traced := Trace("UploadLogic.Submit", base)
	assert.True(t, Is(traced, KindConnectivity))

	wrapped := Wrap(base, "cmd.submit", i18n.ERROR_CONNECTIVITY)
	assert.Equal(t, KindConnectivity, KindOf(wrapped))

	outer := fmt.Errorf("submit: %w", wrapped)
	assert.Equal(t, KindConnectivity, KindOf(outer))
	assert.True(t, stderrors.Is(outer, base))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(fmt.Errorf("plain")))
	assert.False(t, Is(nil, KindConnectivity))
}

func TestDescribe(t *testing.T) {
	l := i18n.NewLocalizer("en")

	err := New("backend.Upload", i18n.ERROR_BAD_REQUEST, nil).
		Code(http.StatusBadRequest).
		Kind(KindBadRequest).
		WithData(map[string]interface{}{"message": "numberOfPages is required", "code": 400})

	assert.Equal(t, "The server rejected the request: numberOfPages is required", Describe(l, "en", err))
	assert.Equal(t, "Something went wrong, please try again later.", Describe(l, "en", fmt.Errorf("boom")))
	assert.Equal(t, "", Describe(l, "en", nil))
}

func TestErrorString(t *testing.T) {
	err := New("a", "msg", fmt.Errorf("cause")).Kind(KindServer).Trace("b")
	assert.Contains(t, err.Error(), `"trace":"a->b"`)
	assert.Contains(t, err.Error(), `"kind":"server"`)
}
