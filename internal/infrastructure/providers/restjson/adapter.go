// Package restjson is a generic adapter for bank APIs that already speak
// the statement shape: one endpoint returning accounts with their lines and
// an opaque next cursor.
package restjson

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/infrastructure/providers/httpx"
)

const (
	Code = "REST_JSON"

	defaultStatementsPath = "/statements"
	defaultHealthPath     = "/health"
	defaultAPIKeyHeader   = "X-API-Key"
)

// Adapter talks to any API configured with:
//
//	base_url          required
//	statements_path   default /statements
//	health_path       default /health
//	api_key_header    default X-API-Key
//	timeout_ms        default 15000, max 120000
//
// Credentials carry either "token" (sent as a bearer token) or "api_key".
type Adapter struct {
	client *httpx.Client
	now    func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

func New(client *httpx.Client) *Adapter {
	return &Adapter{client: client, now: time.Now}
}

func (a *Adapter) Code() string { return Code }

func (a *Adapter) TestConnection(ctx context.Context, cfg map[string]any, creds map[string]string) (*provider.TestResult, error) {
	req, err := buildRequest("test_connection", cfg, creds, "health_path", defaultHealthPath)
	if err != nil {
		return nil, err
	}

	var resp healthResponse
	if err := a.client.GetJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &provider.TestResult{
		OK:             true,
		ProviderCode:   Code,
		ConnectorType:  "API",
		RemoteBankName: resp.BankName,
		CheckedAt:      a.now().UTC(),
	}, nil
}

func (a *Adapter) PullStatements(ctx context.Context, pr provider.PullRequest) (*provider.PullResult, error) {
	req, err := buildRequest("pull_statements", pr.Config, pr.Credentials, "statements_path", defaultStatementsPath)
	if err != nil {
		return nil, err
	}

	req.Query = url.Values{}
	if pr.Cursor != nil && *pr.Cursor != "" {
		req.Query.Set("cursor", *pr.Cursor)
	}
	if pr.FromDate != nil {
		req.Query.Set("from_date", pr.FromDate.UTC().Format(statement.DateLayout))
	}
	if pr.ToDate != nil {
		req.Query.Set("to_date", pr.ToDate.UTC().Format(statement.DateLayout))
	}

	var resp statementsResponse
	if err := a.client.GetJSON(ctx, req, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(), nil
}

func buildRequest(op string, cfg map[string]any, creds map[string]string, pathKey, defaultPath string) (httpx.Request, error) {
	base := httpx.String(cfg, "base_url")
	if base == "" {
		return httpx.Request{}, provider.ConfigError(Code, op, "config.base_url is required")
	}
	if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return httpx.Request{}, provider.ConfigError(Code, op, "config.base_url must be an absolute http(s) url")
	}

	headers := map[string]string{}
	switch {
	case strings.TrimSpace(creds["token"]) != "":
		headers["Authorization"] = "Bearer " + strings.TrimSpace(creds["token"])
	case strings.TrimSpace(creds["api_key"]) != "":
		header := httpx.String(cfg, "api_key_header")
		if header == "" {
			header = defaultAPIKeyHeader
		}
		headers[header] = strings.TrimSpace(creds["api_key"])
	default:
		return httpx.Request{}, provider.ConfigError(Code, op, "credentials.token or credentials.api_key is required")
	}

	path := httpx.String(cfg, pathKey)
	if path == "" {
		path = defaultPath
	}
	return httpx.Request{
		Op:      op,
		URL:     httpx.JoinURL(base, path),
		Headers: headers,
		Timeout: httpx.ClampTimeout(cfg),
	}, nil
}

type healthResponse struct {
	BankName string `json:"bank_name"`
}

type statementsResponse struct {
	Accounts   []accountPayload `json:"accounts"`
	NextCursor *string          `json:"next_cursor"`
}

type accountPayload struct {
	ExternalAccountID string        `json:"external_account_id"`
	AccountName       string        `json:"account_name"`
	CurrencyCode      string        `json:"currency_code"`
	Lines             []linePayload `json:"lines"`
}

type linePayload struct {
	ExternalTxnID    string              `json:"external_txn_id"`
	BookingDate      string              `json:"booking_date"`
	ValueDate        string              `json:"value_date"`
	Amount           decimal.Decimal     `json:"amount"`
	CurrencyCode     string              `json:"currency_code"`
	Description      string              `json:"description"`
	Reference        string              `json:"reference"`
	CounterpartyName string              `json:"counterparty_name"`
	BalanceAfter     decimal.NullDecimal `json:"balance_after"`
}

// toResult converts the payload. An account with an unreadable line is
// returned with Err set and no lines, so the other accounts still import.
func (r statementsResponse) toResult() *provider.PullResult {
	result := &provider.PullResult{Accounts: make([]provider.AccountStatement, 0, len(r.Accounts))}
	if r.NextCursor != nil && *r.NextCursor != "" {
		next := *r.NextCursor
		result.NextCursor = &next
	}

	for _, acc := range r.Accounts {
		stmt := provider.AccountStatement{
			ExternalAccountID: strings.TrimSpace(acc.ExternalAccountID),
			AccountName:       acc.AccountName,
			CurrencyCode:      strings.ToUpper(strings.TrimSpace(acc.CurrencyCode)),
			Lines:             make([]statement.Line, 0, len(acc.Lines)),
		}
		if stmt.ExternalAccountID == "" {
			stmt.Lines = nil
			stmt.Err = fmt.Errorf("account without external_account_id")
			result.Accounts = append(result.Accounts, stmt)
			continue
		}
		for _, l := range acc.Lines {
			line, err := l.toLine(stmt.CurrencyCode)
			if err != nil {
				stmt.Lines = nil
				stmt.Err = err
				break
			}
			stmt.Lines = append(stmt.Lines, line)
		}
		result.Accounts = append(result.Accounts, stmt)
	}
	return result
}

func (l linePayload) toLine(accountCurrency string) (statement.Line, error) {
	if strings.TrimSpace(l.ExternalTxnID) == "" {
		return statement.Line{}, fmt.Errorf("line without external_txn_id")
	}
	booked, err := statement.ParseDate(strings.TrimSpace(l.BookingDate))
	if err != nil {
		return statement.Line{}, fmt.Errorf("line %s: booking_date: %w", l.ExternalTxnID, err)
	}

	line := statement.Line{
		ExternalTxnID:    strings.TrimSpace(l.ExternalTxnID),
		BookingDate:      booked,
		Amount:           l.Amount,
		CurrencyCode:     strings.ToUpper(strings.TrimSpace(l.CurrencyCode)),
		Description:      l.Description,
		Reference:        l.Reference,
		CounterpartyName: l.CounterpartyName,
		BalanceAfter:     l.BalanceAfter,
	}
	if line.CurrencyCode == "" {
		line.CurrencyCode = accountCurrency
	}
	if l.ValueDate != "" {
		vd, err := statement.ParseDate(strings.TrimSpace(l.ValueDate))
		if err != nil {
			return statement.Line{}, fmt.Errorf("line %s: value_date: %w", l.ExternalTxnID, err)
		}
		line.ValueDate = &vd
	}
	return line, nil
}
