package grpcserver

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/bookingledger/pkg/ledger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	serviceName        = "bookingledger.v1.LedgerService"
	defaultCallTimeout = 10 * time.Second

	methodGetBalance       = "GetBalance"
	methodGetWallet        = "GetWallet"
	methodListTransactions = "ListTransactions"
	methodCancelSlot       = "CancelSlot"
	methodCancelBooking    = "CancelBooking"

	errorInvalidUserKey      = "invalid_user_key"
	errorInvalidBookingKey   = "invalid_booking_key"
	errorInvalidSlotKey      = "invalid_slot_key"
	errorSlotNotInBooking    = "slot_not_in_booking"
	errorInvalidPayment      = "invalid_payment_status"
	errorNotFound            = "not_found"
	errorInsufficientCredits = "insufficient_credits"
	errorLeadTimeViolation   = "lead_time_violation"
	errorNotCancellable      = "not_cancellable"
	errorNotPending          = "not_pending"
	errorSportMismatch       = "sport_mismatch"
	errorConcurrentModified  = "concurrent_modification"
	errorPartialWrite        = "partial_write"
)

// LedgerServiceServer is the server API for bookingledger.v1.LedgerService.
type LedgerServiceServer interface {
	GetBalance(context.Context, *UserRequest) (*BalanceResponse, error)
	GetWallet(context.Context, *UserRequest) (*WalletResponse, error)
	ListTransactions(context.Context, *UserRequest) (*TransactionsResponse, error)
	CancelSlot(context.Context, *CancelSlotRequest) (*CancelSlotResponse, error)
	CancelBooking(context.Context, *CancelBookingRequest) (*CancelBookingResponse, error)
}

// LedgerServer exposes the booking ledger over gRPC.
type LedgerServer struct {
	ledgerService *ledger.Service
	callTimeout   time.Duration
}

// NewLedgerServer constructs a gRPC server for the ledger service. A
// non-positive timeout falls back to ten seconds. Calls are only served behind
// AuthInterceptor, which supplies the caller identity.
func NewLedgerServer(ledgerService *ledger.Service, callTimeout time.Duration) *LedgerServer {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &LedgerServer{ledgerService: ledgerService, callTimeout: callTimeout}
}

// Register attaches the ledger service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, server LedgerServiceServer) {
	registrar.RegisterService(&serviceDesc, server)
}

func (server *LedgerServer) GetBalance(ctx context.Context, request *UserRequest) (*BalanceResponse, error) {
	userKey, err := ledger.NewUserKey(request.UserKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := requireUser(ctx, userKey.String()); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, server.callTimeout)
	defer cancel()
	return &BalanceResponse{UserKey: userKey.String(), Balance: server.ledgerService.CurrentBalance(ctx, userKey)}, nil
}

func (server *LedgerServer) GetWallet(ctx context.Context, request *UserRequest) (*WalletResponse, error) {
	userKey, err := ledger.NewUserKey(request.UserKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := requireUser(ctx, userKey.String()); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, server.callTimeout)
	defer cancel()
	wallet, operationError := server.ledgerService.Wallet(ctx, userKey)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return newWalletResponse(wallet), nil
}

func (server *LedgerServer) ListTransactions(ctx context.Context, request *UserRequest) (*TransactionsResponse, error) {
	userKey, err := ledger.NewUserKey(request.UserKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := requireUser(ctx, userKey.String()); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, server.callTimeout)
	defer cancel()
	transactions, operationError := server.ledgerService.ListTransactions(ctx, userKey)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &TransactionsResponse{Transactions: newTransactions(transactions)}, nil
}

func (server *LedgerServer) CancelSlot(ctx context.Context, request *CancelSlotRequest) (*CancelSlotResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, server.callTimeout)
	defer cancel()
	identity, err := server.requireBookingOwner(ctx, request.BookingKey)
	if err != nil {
		return nil, err
	}
	result, operationError := server.ledgerService.CancelSlot(ctx, ledger.SlotCancellation{
		BookingKey: request.BookingKey,
		SlotKey:    request.SlotKey,
		Actor:      identity.actor,
		Reason:     request.Reason,
		IsAdmin:    identity.isAdmin,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &CancelSlotResponse{
		Outcome:         string(result.Outcome),
		RefundAmount:    result.RefundAmount,
		RefundSourceKey: result.RefundSourceKey,
		SyncFailures:    errorStrings(result.SyncFailures),
	}, nil
}

func (server *LedgerServer) CancelBooking(ctx context.Context, request *CancelBookingRequest) (*CancelBookingResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, server.callTimeout)
	defer cancel()
	identity, err := server.requireBookingOwner(ctx, request.BookingKey)
	if err != nil {
		return nil, err
	}
	result, operationError := server.ledgerService.CancelBooking(ctx, ledger.BookingCancellation{
		BookingKey: request.BookingKey,
		Actor:      identity.actor,
		Reason:     request.Reason,
		IsAdmin:    identity.isAdmin,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &CancelBookingResponse{
		CancelledSlots:  result.CancelledSlots,
		RefundAmount:    result.RefundAmount,
		RefundSourceKey: result.RefundSourceKey,
		SyncFailures:    errorStrings(result.SyncFailures),
	}, nil
}

// requireBookingOwner allows admins and the booking's owner.
func (server *LedgerServer) requireBookingOwner(ctx context.Context, bookingKey string) (caller, error) {
	identity, err := callerFrom(ctx)
	if err != nil {
		return caller{}, err
	}
	if identity.isAdmin {
		return identity, nil
	}
	booking, err := server.ledgerService.GetBooking(ctx, bookingKey)
	if err != nil {
		return caller{}, mapToGRPCError(err)
	}
	if booking.UserKey != identity.userKey {
		return caller{}, status.Error(codes.PermissionDenied, errorForbidden)
	}
	return identity, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, ledger.ErrInvalidUserKey) {
		return status.Error(codes.InvalidArgument, errorInvalidUserKey)
	}
	if errors.Is(source, ledger.ErrInvalidBookingKey) {
		return status.Error(codes.InvalidArgument, errorInvalidBookingKey)
	}
	if errors.Is(source, ledger.ErrInvalidSlotKey) {
		return status.Error(codes.InvalidArgument, errorInvalidSlotKey)
	}
	if errors.Is(source, ledger.ErrSlotNotInBooking) {
		return status.Error(codes.InvalidArgument, errorSlotNotInBooking)
	}
	if errors.Is(source, ledger.ErrInvalidPaymentStatus) {
		return status.Error(codes.InvalidArgument, errorInvalidPayment)
	}
	if errors.Is(source, ledger.ErrPartialWrite) {
		return status.Error(codes.Internal, errorPartialWrite)
	}
	if errors.Is(source, ledger.ErrNotFound) {
		return status.Error(codes.NotFound, errorNotFound)
	}
	if errors.Is(source, ledger.ErrInsufficientCredits) {
		return status.Error(codes.FailedPrecondition, errorInsufficientCredits)
	}
	if errors.Is(source, ledger.ErrLeadTimeViolation) {
		return status.Error(codes.FailedPrecondition, errorLeadTimeViolation)
	}
	if errors.Is(source, ledger.ErrNotCancellable) {
		return status.Error(codes.FailedPrecondition, errorNotCancellable)
	}
	if errors.Is(source, ledger.ErrSlotNotPending) {
		return status.Error(codes.FailedPrecondition, errorNotPending)
	}
	if errors.Is(source, ledger.ErrSportMismatch) {
		return status.Error(codes.FailedPrecondition, errorSportMismatch)
	}
	if errors.Is(source, ledger.ErrConcurrentModification) {
		return status.Error(codes.Aborted, errorConcurrentModified)
	}
	return status.Error(codes.Internal, source.Error())
}

func unaryHandler[Request any, Response any](call func(LedgerServiceServer, context.Context, *Request) (*Response, error), method string) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			request := new(Request)
			if err := decode(request); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, request, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(server, ctx, req.(*Request))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler(LedgerServiceServer.GetBalance, methodGetBalance),
		unaryHandler(LedgerServiceServer.GetWallet, methodGetWallet),
		unaryHandler(LedgerServiceServer.ListTransactions, methodListTransactions),
		unaryHandler(LedgerServiceServer.CancelSlot, methodCancelSlot),
		unaryHandler(LedgerServiceServer.CancelBooking, methodCancelBooking),
	},
	Streams: []grpc.StreamDesc{},
}
