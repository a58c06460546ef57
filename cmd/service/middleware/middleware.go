package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/deckforge/deckforge/app/response"
	"github.com/deckforge/deckforge/pkg/i18n"
	"github.com/deckforge/deckforge/pkg/types"
	"github.com/deckforge/deckforge/pkg/utils"
)

func I18n(l i18n.Localizer) gin.HandlerFunc {
	return response.ProvideResponseLocalizer(l)
}

// AcceptLanguage 目前服务端支持 en: English, zh-CN: 简体中文
func AcceptLanguage(fallback string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res := utils.ParseAcceptLanguage(ctx.Request.Header.Get("Accept-Language"))
		if len(res) == 0 {
			ctx.Set(response.LanguageKey, i18n.Lang(fallback))
			return
		}

		ctx.Set(response.LanguageKey, lo.If(strings.Contains(res[0].Tag, "zh"), types.LANGUAGE_CN_KEY).Else(types.LANGUAGE_EN_KEY))
	}
}

func Cors(c *gin.Context) {
	method := c.Request.Method
	origin := c.Request.Header.Get("Origin")
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Accept-Language")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
	}
	if method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// AccessLog writes one debug line per request.
func AccessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	slog.Debug("monitor request",
		slog.String("component", "monitor"),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.Int("status", c.Writer.Status()),
		slog.Duration("latency", time.Since(start)))
}
