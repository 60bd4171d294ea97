// Package httpapi exposes the booking ledger over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeUnauthorized        = "unauthorized"
	codeForbidden           = "forbidden"
	codeInvalidPayload      = "invalid_payload"
	codeInvalidRequest      = "invalid_request"
	codeNotFound            = "not_found"
	codeInsufficientCredits = "insufficient_credits"
	codeSportMismatch       = "sport_mismatch"
	codeLeadTime            = "lead_time_violation"
	codeNotCancellable      = "not_cancellable"
	codeNotPending          = "not_pending"
	codeConflict            = "concurrent_modification"
	codePartialWrite        = "partial_write"
	codeInternal            = "internal_error"

	defaultRequestTimeout = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	SigningKey     []byte
	Issuer         string
	AdminRole      string
	RequestTimeout time.Duration
}

type httpHandler struct {
	service *ledger.Service
	logger  *zap.Logger
	options Options
}

// NewRouter builds the gin engine serving the ledger API.
func NewRouter(service *ledger.Service, options Options, logger *zap.Logger) (*gin.Engine, error) {
	if service == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if len(options.SigningKey) == 0 {
		return nil, fmt.Errorf("jwt signing key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = defaultRequestTimeout
	}
	handler := &httpHandler{service: service, logger: logger, options: options}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(options.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     options.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", authorizationHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(bearerAuth(options.SigningKey, options.Issuer))

	api.GET("/users/:userKey/balance", handler.handleBalance)
	api.GET("/users/:userKey/wallet", handler.handleWallet)
	api.GET("/users/:userKey/transactions", handler.handleTransactions)
	api.GET("/transactions/:id/allocations", handler.handleAllocations)
	api.POST("/packages", handler.handleAddPackage)
	api.POST("/credits/adjust", handler.handleAdjust)
	api.POST("/checkout", handler.handleCheckout)
	api.POST("/discount", handler.handleDiscount)
	api.POST("/bookings/:bookingKey/spend", handler.handleSpend)
	api.POST("/bookings/:bookingKey/cancel-slot", handler.handleCancelSlot)
	api.POST("/bookings/:bookingKey/slots/:slotKey/approve", handler.handleApproveSlot)
	api.POST("/bookings/:bookingKey/slots/:slotKey/reject", handler.handleRejectSlot)
	api.POST("/bookings/:bookingKey/cancel", handler.handleCancelBooking)

	return router, nil
}

// Run serves handler on listenAddr until ctx is cancelled.
func Run(ctx context.Context, listenAddr string, handler http.Handler, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", listenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.options.RequestTimeout)
}

func (handler *httpHandler) isAdmin(claims *Claims) bool {
	return handler.options.AdminRole != "" && claims.HasRole(handler.options.AdminRole)
}

// requireClaims aborts with 401 when the middleware left no claims.
func (handler *httpHandler) requireClaims(ctx *gin.Context) *Claims {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
	}
	return claims
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) *Claims {
	claims := handler.requireClaims(ctx)
	if claims == nil {
		return nil
	}
	if !handler.isAdmin(claims) {
		ctx.JSON(http.StatusForbidden, errorResponse(codeForbidden, "admin role required"))
		return nil
	}
	return claims
}

// requireUser allows admins and the user themselves.
func (handler *httpHandler) requireUser(ctx *gin.Context, userKey string) *Claims {
	claims := handler.requireClaims(ctx)
	if claims == nil {
		return nil
	}
	if claims.UserKey() != userKey && !handler.isAdmin(claims) {
		ctx.JSON(http.StatusForbidden, errorResponse(codeForbidden, "access to another user's ledger"))
		return nil
	}
	return claims
}

// requireBookingOwner allows admins and the booking's owner.
func (handler *httpHandler) requireBookingOwner(ctx *gin.Context, requestCtx context.Context, bookingKey string) *Claims {
	claims := handler.requireClaims(ctx)
	if claims == nil {
		return nil
	}
	if handler.isAdmin(claims) {
		return claims
	}
	booking, err := handler.service.GetBooking(requestCtx, bookingKey)
	if err != nil {
		handler.respondError(ctx, err)
		return nil
	}
	if booking.UserKey != claims.UserKey() {
		ctx.JSON(http.StatusForbidden, errorResponse(codeForbidden, "booking belongs to another user"))
		return nil
	}
	return claims
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		message = "request failed"
	}
	ctx.JSON(status, errorResponse(code, message))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrPartialWrite):
		return http.StatusInternalServerError, codePartialWrite
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return http.StatusUnprocessableEntity, codeInsufficientCredits
	case errors.Is(err, ledger.ErrSportMismatch):
		return http.StatusUnprocessableEntity, codeSportMismatch
	case errors.Is(err, ledger.ErrLeadTimeViolation):
		return http.StatusUnprocessableEntity, codeLeadTime
	case errors.Is(err, ledger.ErrNotCancellable):
		return http.StatusForbidden, codeNotCancellable
	case errors.Is(err, ledger.ErrSlotNotPending):
		return http.StatusConflict, codeNotPending
	case errors.Is(err, ledger.ErrConcurrentModification):
		return http.StatusConflict, codeConflict
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, ledger.ErrInvalidUserKey),
		errors.Is(err, ledger.ErrInvalidBookingKey),
		errors.Is(err, ledger.ErrInvalidSlotKey),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidCollection),
		errors.Is(err, ledger.ErrInvalidAllocationPlan),
		errors.Is(err, ledger.ErrInvalidSlotTime),
		errors.Is(err, ledger.ErrInvalidPromoCode),
		errors.Is(err, ledger.ErrInvalidPaymentStatus),
		errors.Is(err, ledger.ErrSlotNotInBooking):
		return http.StatusBadRequest, codeInvalidRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
