package ginserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"venuebook/internal/app/commands"
	"venuebook/internal/app/dto"
	bookingapp "venuebook/internal/app/handlers/booking"
	"venuebook/internal/app/queries"
)

const idempotencyHeader = "Idempotency-Key"

type BookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
	NewID    func() string
}

type slotRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type createBookingRequest struct {
	PlaceID        string        `json:"place_id"`
	Slots          []slotRequest `json:"slots"`
	Perks          []string      `json:"perks"`
	ProtectionPlan bool          `json:"protection_plan"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h BookingHandler) Create(c *gin.Context) {
	client, ok := requireRole(c, bookingapp.RoleClient)
	if !ok {
		return
	}
	if h.Commands == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	slots := make([]bookingapp.SlotInput, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, bookingapp.SlotInput{Start: s.Start, End: s.End})
	}
	cmd := bookingapp.RequestBookingCommand{
		BookingID:       h.newID(),
		PlaceID:         strings.TrimSpace(req.PlaceID),
		ClientID:        client.ID,
		Slots:           slots,
		Perks:           req.Perks,
		ProtectionPlan:  req.ProtectionPlan,
		IdempotencyKeyV: c.GetHeader(idempotencyHeader),
	}
	result, err := commands.Dispatch[bookingapp.RequestBookingCommand, *bookingapp.RequestBookingResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h BookingHandler) Get(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Queries == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	query := bookingapp.GetBookingQuery{Actor: p.actor(), BookingID: strings.TrimSpace(c.Param("id"))}
	result, err := queries.Ask[bookingapp.GetBookingQuery, dto.BookingDTO](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) Cancel(c *gin.Context) {
	p, ok := requireRole(c, "")
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
	cmd := bookingapp.CancelBookingCommand{
		Actor:           p.actor(),
		BookingID:       strings.TrimSpace(c.Param("id")),
		Reason:          strings.TrimSpace(req.Reason),
		IdempotencyKeyV: c.GetHeader(idempotencyHeader),
	}
	result, err := commands.Dispatch[bookingapp.CancelBookingCommand, *dto.BookingActionResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) Transactions(c *gin.Context) {
	p, ok := requireRole(c, "")
	if !ok {
		return
	}
	if h.Queries == nil {
		handleError(c, h.Logger, errBusUnavailable)
		return
	}
	query := bookingapp.ListBookingTransactionsQuery{Actor: p.actor(), BookingID: strings.TrimSpace(c.Param("id"))}
	result, err := queries.Ask[bookingapp.ListBookingTransactionsQuery, dto.TransactionCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) ListMine(c *gin.Context) {
	client, ok := requireRole(c, bookingapp.RoleClient)
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
	query := bookingapp.ListClientBookingsQuery{ClientID: client.ID, Status: c.Query("status"), Limit: limit}
	result, err := queries.Ask[bookingapp.ListClientBookingsQuery, dto.BookingCollection](c.Request.Context(), h.Queries, query)
	if err != nil {
		handleError(c, h.Logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return limit, true
}

var _ BookingHTTP = BookingHandler{}
