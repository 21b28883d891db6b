package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// BankAPI is the HTTP client for the bank aggregator. One provider
// covers payouts, virtual account provisioning and BVN lookups, so the
// same client implements all three gateway interfaces.
type BankAPI struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewBankAPI(baseURL, apiKey string) *BankAPI {
	return &BankAPI{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type bankEnvelope struct {
	RespCode string          `json:"respCode"`
	RespMsg  string          `json:"respMsg"`
	Data     json.RawMessage `json:"data"`
}

const bankRespOK = "00000000"

type payoutResult struct {
	OrderNo string `json:"orderNo"`
	Status  string `json:"orderStatus"` // pending, success, fail
}

func (c *BankAPI) InitiatePayout(ctx context.Context, orderID string, payee Payee, amount decimal.Decimal, currency string) (*PayoutResult, error) {
	var result payoutResult
	err := c.post(ctx, "/api/v2/payment/payout", map[string]any{
		"requestId":     orderID,
		"payeeName":     payee.Name,
		"payeeAccount":  payee.AccountNumber,
		"payeeBankCode": payee.BankCode,
		"amount":        amount.String(),
		"currency":      currency,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &PayoutResult{
		GatewayOrderNo: result.OrderNo,
		Status:         mapPayoutStatus(result.Status),
	}, nil
}

func (c *BankAPI) QueryStatus(ctx context.Context, orderID, gatewayOrderNo string) (PayoutStatus, error) {
	var result payoutResult
	err := c.post(ctx, "/api/v2/payment/payout/query", map[string]any{
		"requestId": orderID,
		"orderNo":   gatewayOrderNo,
	}, &result)
	if err != nil {
		return PayoutUnknown, err
	}
	return mapPayoutStatus(result.Status), nil
}

type virtualAccountResult struct {
	AccountNo string `json:"virtualAccountNo"`
}

func (c *BankAPI) CreateVirtualAccount(ctx context.Context, userID, currency string) (string, error) {
	var result virtualAccountResult
	err := c.post(ctx, "/api/v2/virtual/account/create", map[string]any{
		"customerReference": userID,
		"currency":          currency,
	}, &result)
	if err != nil {
		return "", err
	}
	return result.AccountNo, nil
}

type bvnResult struct {
	Matched bool `json:"matched"`
}

func (c *BankAPI) VerifyIdentity(ctx context.Context, q IdentityQuery) (bool, error) {
	var result bvnResult
	err := c.post(ctx, "/api/v2/kyc/bvn/verify", map[string]any{
		"bvn":         q.BVN,
		"name":        q.Name,
		"dateOfBirth": q.DateOfBirth,
		"gender":      q.Gender,
	}, &result)
	if err != nil {
		return false, err
	}
	return result.Matched, nil
}

func (c *BankAPI) post(ctx context.Context, path string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env bankEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.RespCode != bankRespOK {
		return fmt.Errorf("%w: %s (code %s)", xerrors.ErrGatewayRejected, env.RespMsg, env.RespCode)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

func mapPayoutStatus(s string) PayoutStatus {
	switch s {
	case "pending", "processing":
		return PayoutPending
	case "success":
		return PayoutSucceeded
	case "fail", "rejected":
		return PayoutRejected
	default:
		return PayoutUnknown
	}
}
