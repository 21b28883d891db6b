package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Barsmiko1/papaymoni-middleware-sub000/internal/domain"
	xerrors "github.com/Barsmiko1/papaymoni-middleware-sub000/pkg/xerrors"
)

// ExchangeAPI is the HTTP client for the P2P exchange. Requests are
// signed with HMAC-SHA256 over timestamp, api key and body.
type ExchangeAPI struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
}

func NewExchangeAPI(baseURL, apiKey, apiSecret string) *ExchangeAPI {
	return &ExchangeAPI{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type exchangeEnvelope struct {
	RetCode int             `json:"ret_code"`
	RetMsg  string          `json:"ret_msg"`
	Result  json.RawMessage `json:"result"`
}

type orderDetailResult struct {
	ID             string `json:"id"`
	Status         int    `json:"status"`
	Amount         string `json:"amount"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	CurrencyID     string `json:"currencyId"`
	BuyerRealName  string `json:"buyerRealName"`
	PaymentTermDTO struct {
		AccountNo string `json:"accountNo"`
		BankCode  string `json:"bankCode"`
	} `json:"paymentTermDTO"`
}

func (c *ExchangeAPI) GetOrderDetail(ctx context.Context, orderID string) (*domain.OrderDetail, error) {
	var result orderDetailResult
	if err := c.post(ctx, "/v5/p2p/order/info", map[string]string{"orderId": orderID}, &result); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(result.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid order amount %q: %w", result.Amount, err)
	}
	price, _ := decimal.NewFromString(result.Price)
	quantity, _ := decimal.NewFromString(result.Quantity)

	return &domain.OrderDetail{
		OrderID:            result.ID,
		StatusCode:         result.Status,
		Amount:             amount,
		Price:              price,
		Quantity:           quantity,
		CurrencyID:         result.CurrencyID,
		CounterpartyName:   result.BuyerRealName,
		PayeeAccountNumber: result.PaymentTermDTO.AccountNo,
		PayeeBankCode:      result.PaymentTermDTO.BankCode,
	}, nil
}

func (c *ExchangeAPI) MarkPaid(ctx context.Context, orderID, paymentRef string) error {
	return c.post(ctx, "/v5/p2p/order/pay", map[string]string{
		"orderId":   orderID,
		"paymentId": paymentRef,
	}, nil)
}

func (c *ExchangeAPI) ReleaseAssets(ctx context.Context, orderID string) error {
	return c.post(ctx, "/v5/p2p/order/finish", map[string]string{"orderId": orderID}, nil)
}

func (c *ExchangeAPI) SendMessage(ctx context.Context, orderID, text string) error {
	return c.post(ctx, "/v5/p2p/order/message/send", map[string]string{
		"orderId": orderID,
		"message": text,
	}, nil)
}

func (c *ExchangeAPI) post(ctx context.Context, path string, params map[string]string, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env exchangeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.RetCode != 0 {
		return fmt.Errorf("%w: %s (code %d)", xerrors.ErrGatewayRejected, env.RetMsg, env.RetCode)
	}
	if out != nil && env.Result != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

func (c *ExchangeAPI) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(c.apiKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
