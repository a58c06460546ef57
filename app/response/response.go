package response

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckforge/deckforge/pkg/errors"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/utils"
)

const (
	RequestIDKey = "request_id"
	ResponseKey  = "response_key"
	LocalizerKey = "i18n"
	LanguageKey  = "lang"
)

func ProvideResponseLocalizer(l i18n.Localizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(LocalizerKey, l)
	}
}

func InjectResponseLocalizer(c *gin.Context) i18n.Localizer {
	return c.MustGet(LocalizerKey).(i18n.Localizer)
}

type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data"`
}

type Meta struct {
	Code      int    `json:"code"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// GetLangFromRequestOrDefault prefers the language negotiated by middleware.
func GetLangFromRequestOrDefault(c *gin.Context) string {
	if lang := c.GetString(LanguageKey); lang != "" {
		return lang
	}
	lang := i18n.Lang(c.Request.Header.Get("Accept-Language"))
	if i18n.ALLOW_LANG[lang] {
		return lang
	}
	return i18n.DEFAULT_LANG
}

func APIError(c *gin.Context, err error) {
	c.Abort()
	l := InjectResponseLocalizer(c)
	res := c.MustGet(ResponseKey).(*Response)

	lang := GetLangFromRequestOrDefault(c)
	res.Meta.Message = errors.Describe(l, lang, err)
	res.Meta.Code = http.StatusInternalServerError
	if ce, ok := err.(*errors.CustomizedError); ok {
		res.Meta.Code = ce.GetCode()
		res.Meta.Kind = string(ce.GetKind())
	}
	if res.Meta.Code < 400 || res.Meta.Code > 599 {
		res.Meta.Code = http.StatusInternalServerError
	}

	c.JSON(res.Meta.Code, res)
	slog.Error("response error",
		slog.String("component", "monitor"),
		slog.String("request_uri", c.Request.URL.Path),
		slog.String(RequestIDKey, res.Meta.RequestID),
		slog.Int("code", res.Meta.Code),
		slog.String("error", err.Error()))
}

func APISuccess(c *gin.Context, data interface{}) {
	c.Abort()
	res := c.MustGet(ResponseKey).(*Response)
	if data != nil {
		res.Data = data
	}
	res.Meta.Code = http.StatusOK
	c.JSON(http.StatusOK, res)
	slog.Debug("request success",
		slog.String("component", "monitor"),
		slog.String("request_uri", c.Request.URL.Path),
		slog.String(RequestIDKey, res.Meta.RequestID))
}

func NewResponse() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ResponseKey, &Response{
			Meta: Meta{
				RequestID: utils.GenRandomID(),
			},
		})
	}
}
