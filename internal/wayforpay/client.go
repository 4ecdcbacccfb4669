package wayforpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

const (
	transactionTypeCreateInvoice = "CREATE_INVOICE"
	apiVersion                   = 1
	maxProviderMessage           = 300
)

// InvoiceRequest describes a hosted checkout to create.
type InvoiceRequest struct {
	MerchantAccount string
	DomainName      string
	OrderReference  string
	OrderDate       time.Time
	Amount          decimal.Decimal
	Currency        string
	ProductName     []string
	ProductCount    []int
	ProductPrice    []decimal.Decimal
	ReturnURL       string
	ServiceURL      string
	ClientPhone     string
	ClientEmail     string
}

// ProviderError reports a rejected or unreadable provider response.
type ProviderError struct {
	StatusCode int
	Reason     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wayforpay api: status %d: %s", e.StatusCode, e.Reason)
}

type Client struct {
	httpClient *http.Client
	apiURL     string
}

func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
	}
}

// BuildInvoicePayload returns the signed request body.
func BuildInvoicePayload(s Signer, r InvoiceRequest) map[string]any {
	counts := make([]json.Number, len(r.ProductCount))
	for i, c := range r.ProductCount {
		counts[i] = json.Number(strconv.Itoa(c))
	}
	prices := make([]json.Number, len(r.ProductPrice))
	for i, p := range r.ProductPrice {
		prices[i] = json.Number(p.String())
	}

	payload := map[string]any{
		"transactionType":               transactionTypeCreateInvoice,
		"apiVersion":                    apiVersion,
		"merchantAccount":               r.MerchantAccount,
		"merchantAuthType":              "SimpleSignature",
		"merchantDomainName":            r.DomainName,
		"merchantTransactionSecureType": "AUTO",
		"orderReference":                r.OrderReference,
		"orderDate":                     r.OrderDate.Unix(),
		"amount":                        json.Number(r.Amount.String()),
		"currency":                      r.Currency,
		"productName":                   r.ProductName,
		"productCount":                  counts,
		"productPrice":                  prices,
	}
	if r.ReturnURL != "" {
		payload["returnUrl"] = r.ReturnURL
	}
	if r.ServiceURL != "" {
		payload["serviceUrl"] = r.ServiceURL
	}
	if r.ClientPhone != "" {
		payload["clientPhone"] = r.ClientPhone
	}
	if r.ClientEmail != "" {
		payload["clientEmail"] = r.ClientEmail
	}

	fields := Fields{}
	fields.Set("merchantAccount", r.MerchantAccount)
	fields.Set("merchantDomainName", r.DomainName)
	fields.Set("orderReference", r.OrderReference)
	fields.Set("orderDate", strconv.FormatInt(r.OrderDate.Unix(), 10))
	fields.Set("amount", r.Amount.String())
	fields.Set("currency", r.Currency)
	fields["productName"] = r.ProductName
	fields["productCount"] = numbersToStrings(counts)
	fields["productPrice"] = numbersToStrings(prices)
	payload["merchantSignature"] = s.Sign(fields, RequestSignatureKeys)
	return payload
}

// CreateInvoice posts payload and returns the hosted invoice URL.
func (c *Client) CreateInvoice(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var result struct {
		InvoiceURL string `json:"invoiceUrl"`
		Reason     string `json:"reason"`
		ReasonCode any    `json:"reasonCode"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &ProviderError{StatusCode: resp.StatusCode, Reason: htmlText(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{StatusCode: resp.StatusCode, Reason: result.Reason}
	}
	if result.InvoiceURL == "" {
		reason := result.Reason
		if reason == "" {
			reason = "no invoiceUrl in response"
		}
		return "", &ProviderError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return result.InvoiceURL, nil
}

// htmlText reduces an HTML error page to its title and visible text.
func htmlText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return truncate(strings.TrimSpace(string(body)))
	}
	doc.Find("script, style").Remove()

	parts := make([]string, 0, 2)
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	if text := strings.Join(strings.Fields(doc.Find("body").Text()), " "); text != "" {
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return truncate(strings.TrimSpace(string(body)))
	}
	return truncate(strings.Join(parts, ": "))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxProviderMessage {
		return s
	}
	return string(r[:maxProviderMessage]) + "..."
}

func numbersToStrings(ns []json.Number) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.String()
	}
	return out
}
