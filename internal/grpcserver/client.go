package grpcserver

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls tokenledger.v1.TokenLedger over an established connection.
type Client struct {
	conn      grpc.ClientConnInterface
	authToken string
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithAuthToken sends token as a bearer credential on every call.
func WithAuthToken(token string) ClientOption {
	return func(client *Client) {
		client.authToken = token
	}
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface, options ...ClientOption) *Client {
	client := &Client{conn: conn}
	for _, option := range options {
		option(client)
	}
	return client
}

// DeductResult is the outcome of a priced spend.
type DeductResult struct {
	Balance   ledger.BalanceRecord
	Operation string
	Cost      ledger.Tokens
}

// GetBalance returns the balance for userID, creating it on first touch.
func (client *Client) GetBalance(ctx context.Context, userID string) (ledger.BalanceRecord, error) {
	response, err := client.invoke(ctx, methodGetBalance, map[string]any{fieldUserID: userID})
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	return decodeBalance(response)
}

// OpenBalance creates a balance under plan unless one exists.
func (client *Client) OpenBalance(ctx context.Context, userID string, plan string) (ledger.BalanceRecord, error) {
	response, err := client.invoke(ctx, methodOpenBalance, map[string]any{fieldUserID: userID, fieldPlan: plan})
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	return decodeBalance(response)
}

// Deduct charges operation against userID.
func (client *Client) Deduct(ctx context.Context, userID string, operation string, metadata map[string]any) (DeductResult, error) {
	request := map[string]any{fieldUserID: userID, fieldOperation: operation}
	if metadata != nil {
		request[fieldMetadata] = metadata
	}
	response, err := client.invoke(ctx, methodDeduct, request)
	if err != nil {
		return DeductResult{}, err
	}
	balance, err := decodeBalance(response.GetFields()[fieldBalance].GetStructValue())
	if err != nil {
		return DeductResult{}, err
	}
	cost, err := integerField(response, fieldCost)
	if err != nil {
		return DeductResult{}, err
	}
	return DeductResult{Balance: balance, Operation: stringField(response, fieldOperation), Cost: ledger.Tokens(cost)}, nil
}

// Credit adds amount tokens to an existing balance.
func (client *Client) Credit(ctx context.Context, userID string, amount int64, description string, metadata map[string]any) (ledger.BalanceRecord, error) {
	request := map[string]any{fieldUserID: userID, fieldAmount: amount, fieldDescription: description}
	if metadata != nil {
		request[fieldMetadata] = metadata
	}
	response, err := client.invoke(ctx, methodCredit, request)
	if err != nil {
		return ledger.BalanceRecord{}, err
	}
	return decodeBalance(response)
}

// History lists the newest transactions first.
func (client *Client) History(ctx context.Context, userID string, limit int) ([]ledger.Transaction, error) {
	response, err := client.invoke(ctx, methodHistory, map[string]any{fieldUserID: userID, fieldLimit: limit})
	if err != nil {
		return nil, err
	}
	values := response.GetFields()[fieldTransactions].GetListValue().GetValues()
	transactions := make([]ledger.Transaction, 0, len(values))
	for _, value := range values {
		transaction, err := decodeTransaction(value.GetStructValue())
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// Renew applies a due renewal; renewed is false when nothing was due.
func (client *Client) Renew(ctx context.Context, userID string) (ledger.BalanceRecord, bool, error) {
	response, err := client.invoke(ctx, methodRenew, map[string]any{fieldUserID: userID})
	if err != nil {
		return ledger.BalanceRecord{}, false, err
	}
	if !response.GetFields()[fieldRenewed].GetBoolValue() {
		return ledger.BalanceRecord{}, false, nil
	}
	record, err := decodeBalance(response.GetFields()[fieldBalance].GetStructValue())
	if err != nil {
		return ledger.BalanceRecord{}, false, err
	}
	return record, true, nil
}

func (client *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	if client.authToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, authorizationHeader, bearerPrefix+client.authToken)
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(method), request, response); err != nil {
		return nil, err
	}
	return response, nil
}
