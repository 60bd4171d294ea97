package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userKey, ok := handler.userKeyParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance := handler.service.CurrentBalance(requestCtx, userKey)
	ctx.JSON(http.StatusOK, gin.H{"user_key": userKey.String(), "balance": balance})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userKey, ok := handler.userKeyParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.service.Wallet(requestCtx, userKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(wallet)})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userKey, ok := handler.userKeyParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.service.ListTransactions(requestCtx, userKey)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": newTransactionPayloads(transactions)})
}

func (handler *httpHandler) handleAllocations(ctx *gin.Context) {
	claims := handler.requireClaims(ctx)
	if claims == nil {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	allocations, err := handler.service.ListAllocations(requestCtx, ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !handler.isAdmin(claims) {
		for _, allocation := range allocations {
			if allocation.UserKey != claims.UserKey() {
				ctx.JSON(http.StatusForbidden, errorResponse(codeForbidden, "transaction belongs to another user"))
				return
			}
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"allocations": newAllocationPayloads(allocations)})
}

func (handler *httpHandler) handleAddPackage(ctx *gin.Context) {
	if handler.requireAdmin(ctx) == nil {
		return
	}
	var request packageRequest
	if !bindJSON(ctx, &request) {
		return
	}
	customer, err := customerFrom(request.UserKey, request.Email, request.Name, request.Contact)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.AddPackage(requestCtx, ledger.PackagePurchase{
		Customer:      customer,
		Title:         request.Title,
		Value:         request.Value,
		ExpiryMonths:  request.ExpiryMonths,
		SportType:     request.SportType,
		PaymentMethod: request.PaymentMethod,
		PaymentStatus: request.PaymentStatus,
		InvoiceKey:    request.InvoiceKey,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"package":     newSourcePayload(result.Package),
		"transaction": optionalTransactionPayload(result.Transaction),
	})
}

func (handler *httpHandler) handleAdjust(ctx *gin.Context) {
	claims := handler.requireAdmin(ctx)
	if claims == nil {
		return
	}
	var request adjustRequest
	if !bindJSON(ctx, &request) {
		return
	}
	collection, err := ledger.ParseCollection(request.Collection)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	customer, err := customerFrom(request.UserKey, "", "", "")
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.service.AdjustCredits(requestCtx, ledger.Adjustment{
		Customer:    customer,
		Collection:  collection,
		SourceKey:   request.SourceKey,
		CreditsLeft: request.CreditsLeft,
		Reason:      request.Reason,
		Actor:       claims.Actor(),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": newTransactionPayload(transaction)})
}

// handleCheckout is staff only: slot rates, promo terms and the payment status
// are taken from the request as priced by the booking front end.
func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	if handler.requireAdmin(ctx) == nil {
		return
	}
	var request checkoutRequest
	if !bindJSON(ctx, &request) {
		return
	}
	customer, err := customerFrom(request.UserKey, request.Email, request.Name, request.Contact)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.Checkout(requestCtx, ledger.CheckoutRequest{
		Customer:      customer,
		Location:      request.Location,
		Date:          request.Date,
		SportType:     request.SportType,
		Timeslots:     request.Timeslots,
		Promo:         request.Promo,
		PaymentMethod: request.PaymentMethod,
		PaymentStatus: request.PaymentStatus,
		InvoiceKey:    request.InvoiceKey,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"booking":       newBookingPayload(result.Booking),
		"cost":          result.Cost,
		"transactions":  newTransactionPayloads(result.Transactions),
		"sync_failures": errorStrings(result.SyncFailures),
	})
}

func (handler *httpHandler) handleDiscount(ctx *gin.Context) {
	if handler.requireClaims(ctx) == nil {
		return
	}
	var request discountRequest
	if !bindJSON(ctx, &request) {
		return
	}
	breakdown, err := ledger.Quote(request.Timeslots, request.Promo, request.PaymentMethod)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cost": breakdown})
}

func (handler *httpHandler) handleSpend(ctx *gin.Context) {
	var request spendRequest
	if !bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookingKey := ctx.Param("bookingKey")
	if handler.requireBookingOwner(ctx, requestCtx, bookingKey) == nil {
		return
	}
	transactions, err := handler.service.Spend(requestCtx, ledger.SpendRequest{BookingKey: bookingKey, Amount: request.Amount})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": newTransactionPayloads(transactions)})
}

func (handler *httpHandler) handleCancelSlot(ctx *gin.Context) {
	var request cancelSlotRequest
	if !bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookingKey := ctx.Param("bookingKey")
	claims := handler.requireBookingOwner(ctx, requestCtx, bookingKey)
	if claims == nil {
		return
	}
	result, err := handler.service.CancelSlot(requestCtx, ledger.SlotCancellation{
		BookingKey: bookingKey,
		SlotKey:    request.SlotKey,
		Actor:      claims.Actor(),
		Reason:     request.Reason,
		IsAdmin:    handler.isAdmin(claims),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(statusForOutcome(result.Outcome), gin.H{"cancellation": newSlotCancellationPayload(result)})
}

func (handler *httpHandler) handleApproveSlot(ctx *gin.Context) {
	claims := handler.requireAdmin(ctx)
	if claims == nil {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ApproveSlotCancellation(requestCtx, ctx.Param("bookingKey"), ctx.Param("slotKey"), claims.Actor())
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(statusForOutcome(result.Outcome), gin.H{"cancellation": newSlotCancellationPayload(result)})
}

func (handler *httpHandler) handleRejectSlot(ctx *gin.Context) {
	claims := handler.requireAdmin(ctx)
	if claims == nil {
		return
	}
	var request reasonRequest
	if !bindOptionalJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.RejectSlotCancellation(requestCtx, ctx.Param("bookingKey"), ctx.Param("slotKey"), claims.Actor(), request.Reason)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cancellation": newSlotCancellationPayload(result)})
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	var request reasonRequest
	if !bindOptionalJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookingKey := ctx.Param("bookingKey")
	claims := handler.requireBookingOwner(ctx, requestCtx, bookingKey)
	if claims == nil {
		return
	}
	result, err := handler.service.CancelBooking(requestCtx, ledger.BookingCancellation{
		BookingKey: bookingKey,
		Actor:      claims.Actor(),
		Reason:     request.Reason,
		IsAdmin:    handler.isAdmin(claims),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cancellation": newBookingCancellationPayload(result)})
}

func (handler *httpHandler) userKeyParam(ctx *gin.Context) (ledger.UserKey, bool) {
	userKey, err := ledger.NewUserKey(ctx.Param("userKey"))
	if err != nil {
		handler.respondError(ctx, err)
		return ledger.UserKey{}, false
	}
	if handler.requireUser(ctx, userKey.String()) == nil {
		return ledger.UserKey{}, false
	}
	return userKey, true
}

// statusForOutcome answers 202 for queued requests and 409 when the caller
// must cancel the whole booking instead.
func statusForOutcome(outcome ledger.Outcome) int {
	switch outcome {
	case ledger.OutcomePending:
		return http.StatusAccepted
	case ledger.OutcomeFullCancellationRequired:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

func customerFrom(rawUserKey string, email string, name string, contact string) (ledger.Customer, error) {
	userKey, err := ledger.NewUserKey(rawUserKey)
	if err != nil {
		return ledger.Customer{}, err
	}
	return ledger.Customer{UserKey: userKey, Email: email, Name: name, Contact: contact}, nil
}

func bindJSON(ctx *gin.Context, target interface{}) bool {
	if err := ctx.ShouldBindJSON(target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func bindOptionalJSON(ctx *gin.Context, target interface{}) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}
