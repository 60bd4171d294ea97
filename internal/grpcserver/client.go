package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// LedgerClient calls bookingledger.v1.LedgerService with the JSON codec.
type LedgerClient struct {
	conn grpc.ClientConnInterface
}

// NewLedgerClient wraps an established connection.
func NewLedgerClient(conn grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{conn: conn}
}

func (client *LedgerClient) GetBalance(ctx context.Context, request *UserRequest) (*BalanceResponse, error) {
	response := new(BalanceResponse)
	if err := client.invoke(ctx, methodGetBalance, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *LedgerClient) GetWallet(ctx context.Context, request *UserRequest) (*WalletResponse, error) {
	response := new(WalletResponse)
	if err := client.invoke(ctx, methodGetWallet, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *LedgerClient) ListTransactions(ctx context.Context, request *UserRequest) (*TransactionsResponse, error) {
	response := new(TransactionsResponse)
	if err := client.invoke(ctx, methodListTransactions, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *LedgerClient) CancelSlot(ctx context.Context, request *CancelSlotRequest) (*CancelSlotResponse, error) {
	response := new(CancelSlotResponse)
	if err := client.invoke(ctx, methodCancelSlot, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *LedgerClient) CancelBooking(ctx context.Context, request *CancelBookingRequest) (*CancelBookingResponse, error) {
	response := new(CancelBookingResponse)
	if err := client.invoke(ctx, methodCancelBooking, request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *LedgerClient) invoke(ctx context.Context, method string, request interface{}, response interface{}) error {
	return client.conn.Invoke(ctx, "/"+serviceName+"/"+method, request, response, grpc.CallContentSubtype(CodecName))
}
