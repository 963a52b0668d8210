package ginserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"venuebook/internal/infra/gateway/click"
	"venuebook/internal/infra/gateway/payme"
)

// maxCallbackBody caps provider payloads; real callbacks are a few hundred bytes.
const maxCallbackBody = 64 << 10

type PaymeMerchant interface {
	Handle(ctx context.Context, authorization string, body []byte) payme.Response
}

type ClickMerchant interface {
	Prepare(ctx context.Context, r click.Request) click.Response
	Complete(ctx context.Context, r click.Request) click.Response
}

// PaymentHandler exposes provider callbacks. Both providers expect HTTP 200
// with failures encoded in the body; only a disabled provider gets a 404.
type PaymentHandler struct {
	Payme  PaymeMerchant
	Click  ClickMerchant
	Logger *slog.Logger
}

func (h PaymentHandler) PaymeRPC(c *gin.Context) {
	if h.Payme == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "payme disabled"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil && h.Logger != nil {
		h.Logger.Warn("payme body read failed", "error", err)
	}
	resp := h.Payme.Handle(c.Request.Context(), c.GetHeader("Authorization"), body)
	c.JSON(http.StatusOK, resp)
}

func (h PaymentHandler) ClickPrepare(c *gin.Context) {
	req, ok := h.clickRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Click.Prepare(c.Request.Context(), req))
}

func (h PaymentHandler) ClickComplete(c *gin.Context) {
	req, ok := h.clickRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Click.Complete(c.Request.Context(), req))
}

func (h PaymentHandler) clickRequest(c *gin.Context) (click.Request, bool) {
	if h.Click == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "click disabled"})
		return click.Request{}, false
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	if err := c.Request.ParseForm(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("click form parse failed", "error", err)
		}
		c.JSON(http.StatusOK, click.Response{Error: click.CodeBadRequest, ErrorNote: "Error in request from click"})
		return click.Request{}, false
	}
	return click.RequestFromForm(c.Request.PostForm), true
}

var _ PaymentsHTTP = PaymentHandler{}
