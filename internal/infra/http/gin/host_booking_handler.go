package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	bookingapp "venuebook/internal/app/handlers/booking"
	"venuebook/internal/app/queries"
)

type HostBookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

func (h HostBookingHandler) List(c *gin.Context) {
	host, ok := requireRole(c, bookingapp.RoleHost)
	if !ok {
		return
	}
	if h.Queries == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	query := bookingapp.ListHostBookingsQuery{
		HostID: host.ID,
		Status: c.Query("status"),
		Limit:  limit,
	}
	result, err := queries.Ask[bookingapp.ListHostBookingsQuery, dto.BookingCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostBookingHandler) Select(c *gin.Context) {
	host, ok := requireRole(c, bookingapp.RoleHost)
	if !ok {
		return
	}
	if h.Commands == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	cmd := bookingapp.HostSelectBookingCommand{
		HostID:          host.ID,
		BookingID:       strings.TrimSpace(c.Param("id")),
		IdempotencyKeyV: c.GetHeader(idempotencyHeader),
	}
	result, err := commands.Dispatch[bookingapp.HostSelectBookingCommand, *dto.BookingActionResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostBookingHandler) Reject(c *gin.Context) {
	host, ok := requireRole(c, bookingapp.RoleHost)
	if !ok {
		return
	}
	if h.Commands == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	cmd := bookingapp.HostRejectBookingCommand{
		HostID:          host.ID,
		BookingID:       strings.TrimSpace(c.Param("id")),
		Reason:          strings.TrimSpace(req.Reason),
		IdempotencyKeyV: c.GetHeader(idempotencyHeader),
	}
	result, err := commands.Dispatch[bookingapp.HostRejectBookingCommand, *dto.BookingActionResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ HostBookingHTTP = HostBookingHandler{}
