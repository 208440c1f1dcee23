package recraft

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/tokenledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CodeInvalidEndpoint     = "INVALID_ENDPOINT"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"

	settleTimeout = 10 * time.Second
)

// Reserver is the slice of the ledger the proxy needs.
type Reserver interface {
	Reserve(ctx context.Context, userID ledger.UserID, operation string, reservationID ledger.ReservationID, metadata ledger.Metadata) (ledger.BalanceRecord, error)
	Capture(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID) error
	Release(ctx context.Context, userID ledger.UserID, reservationID ledger.ReservationID, reason string) (ledger.BalanceRecord, error)
}

// Forwarder sends a request body to the upstream API.
type Forwarder interface {
	Forward(ctx context.Context, upstreamPath string, contentType string, body []byte) (UpstreamResponse, error)
}

// Proxy charges image requests through reservations and forwards them upstream.
type Proxy struct {
	ledger   Reserver
	upstream Forwarder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// ProxyOption customizes a Proxy.
type ProxyOption func(*Proxy)

// WithClock overrides the time source used for the created timestamp.
func WithClock(now func() time.Time) ProxyOption {
	return func(proxy *Proxy) {
		if now != nil {
			proxy.now = now
		}
	}
}

// WithReservationIDs overrides reservation id generation.
func WithReservationIDs(newID func() string) ProxyOption {
	return func(proxy *Proxy) {
		if newID != nil {
			proxy.newID = newID
		}
	}
}

// NewProxy wires a Proxy.
func NewProxy(reserver Reserver, upstream Forwarder, logger *zap.Logger, options ...ProxyOption) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	proxy := &Proxy{
		ledger:   reserver,
		upstream: upstream,
		logger:   logger.Named("recraft"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, option := range options {
		option(proxy)
	}
	return proxy
}

// Handle serves POST /api/recraft/*path.
func (proxy *Proxy) Handle(ctx *gin.Context) {
	user, ok := httpapi.CurrentUser(ctx)
	if !ok {
		httpapi.RespondUnauthorized(ctx)
		return
	}
	route, err := ResolveRoute(ctx.Param("path"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, httpapi.ErrorResponse("Invalid endpoint", CodeInvalidEndpoint))
		return
	}
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, httpapi.ErrorResponse("Unreadable request body", httpapi.CodeInvalidPayload))
		return
	}
	contentType := ctx.GetHeader("Content-Type")
	if contentType == "" {
		contentType = contentTypeJSON
	}
	style, err := RequestStyle(contentType, body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, httpapi.ErrorResponse("Invalid request body", httpapi.CodeInvalidPayload))
		return
	}
	operation := route.PriceFor(style)

	reservationID, err := ledger.NewReservationID(proxy.newID())
	if err != nil {
		proxy.respondInternal(ctx, "reservation id", err)
		return
	}
	_, err = proxy.ledger.Reserve(ctx.Request.Context(), user.ID, operation.String(), reservationID, ledger.Metadata{
		"endpoint": "/" + route.Name,
		"cost":     operation.Cost().Int64(),
	})
	if err != nil {
		proxy.respondReserveError(ctx, err)
		return
	}

	response, err := proxy.upstream.Forward(ctx.Request.Context(), route.UpstreamPath, contentType, body)
	if err != nil {
		proxy.logger.Error("upstream request failed", zap.String("route", route.Name), zap.Error(err))
		proxy.release(ctx.Request.Context(), user.ID, reservationID, "upstream unavailable")
		ctx.JSON(http.StatusBadGateway, httpapi.ErrorResponse("API request failed", CodeUpstreamUnavailable))
		return
	}
	if !response.Successful() {
		proxy.logger.Warn("upstream rejected request",
			zap.String("route", route.Name),
			zap.Int("status", response.StatusCode),
			zap.String("body", truncateBody(response.Body)),
		)
		proxy.release(ctx.Request.Context(), user.ID, reservationID, http.StatusText(response.StatusCode))
		relayFailure(ctx, response)
		return
	}

	proxy.capture(ctx.Request.Context(), user.ID, reservationID)
	ctx.JSON(http.StatusOK, NormalizeBody(response.Body, proxy.now()))
}

func (proxy *Proxy) respondReserveError(ctx *gin.Context, err error) {
	var insufficient *ledger.InsufficientTokensError
	switch {
	case errors.As(err, &insufficient):
		body := httpapi.ErrorResponse(insufficient.Error(), httpapi.CodeInsufficientTokens)
		body["required"] = insufficient.Required.Int64()
		body["available"] = insufficient.Available.Int64()
		ctx.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, ledger.ErrInvalidOperation):
		ctx.JSON(http.StatusBadRequest, httpapi.ErrorResponse(err.Error(), httpapi.CodeInvalidOperation))
	default:
		proxy.respondInternal(ctx, "reserve failed", err)
	}
}

func (proxy *Proxy) respondInternal(ctx *gin.Context, message string, err error) {
	proxy.logger.Error(message, zap.Error(err))
	body := httpapi.ErrorResponse("Internal server error", httpapi.CodeInternalError)
	body["message"] = ledger.ErrLedgerFailure.Error()
	ctx.JSON(http.StatusInternalServerError, body)
}

// Settlement must survive the caller hanging up, so it runs on a detached context.
func (proxy *Proxy) release(parent context.Context, userID ledger.UserID, reservationID ledger.ReservationID, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), settleTimeout)
	defer cancel()
	if _, err := proxy.ledger.Release(ctx, userID, reservationID, reason); err != nil {
		proxy.logger.Error("reservation release failed", zap.String("reservation_id", reservationID.String()), zap.Error(err))
	}
}

func (proxy *Proxy) capture(parent context.Context, userID ledger.UserID, reservationID ledger.ReservationID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), settleTimeout)
	defer cancel()
	if err := proxy.ledger.Capture(ctx, userID, reservationID); err != nil {
		proxy.logger.Error("reservation capture failed", zap.String("reservation_id", reservationID.String()), zap.Error(err))
	}
}

func relayFailure(ctx *gin.Context, response UpstreamResponse) {
	if json.Valid(response.Body) {
		ctx.Data(response.StatusCode, contentTypeJSON, response.Body)
		return
	}
	ctx.JSON(response.StatusCode, gin.H{"error": "API request failed"})
}
