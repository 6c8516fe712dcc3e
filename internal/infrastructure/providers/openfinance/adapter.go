// Package openfinance adapts an Open Finance aggregator API (bearer API key,
// accounts and transactions endpoints) to the provider contract.
package openfinance

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/domain/provider"
	"bankfeed/internal/domain/statement"
	"bankfeed/internal/infrastructure/providers/httpx"
)

const (
	Code = "OPEN_FINANCE"

	defaultBaseURL      = "https://www.pierre.finance/tools/api"
	accountsPath        = "/get-accounts"
	transactionsPath    = "/get-transactions"
	defaultLookbackDays = 90
	maxLookbackDays     = 730
)

// Adapter pulls bank statements from the aggregator. The cursor is the
// latest booking date already delivered; each pull restarts from that date
// and the ledger's external-id dedupe absorbs the overlap.
type Adapter struct {
	client *httpx.Client
	now    func() time.Time
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates the adapter over a shared provider HTTP client.
func New(client *httpx.Client) *Adapter {
	return &Adapter{client: client, now: time.Now}
}

func (a *Adapter) Code() string { return Code }

type settings struct {
	baseURL  string
	apiKey   string
	bankName string
	lookback int
	timeout  time.Duration
}

func readSettings(op string, cfg map[string]any, creds map[string]string) (settings, error) {
	s := settings{
		baseURL:  httpx.String(cfg, "base_url"),
		apiKey:   strings.TrimSpace(creds["api_key"]),
		bankName: httpx.String(cfg, "bank_name"),
		lookback: defaultLookbackDays,
		timeout:  httpx.ClampTimeout(cfg),
	}
	if s.baseURL == "" {
		s.baseURL = defaultBaseURL
	}
	if s.apiKey == "" {
		return s, provider.ConfigError(Code, op, "credentials.api_key is required")
	}
	if days, ok := httpx.Number(cfg, "lookback_days"); ok {
		if days < 1 || days > maxLookbackDays {
			return s, provider.ConfigError(Code, op, "lookback_days must be between 1 and %d", maxLookbackDays)
		}
		s.lookback = int(days)
	}
	return s, nil
}

func (s settings) request(op, path string, query url.Values) httpx.Request {
	return httpx.Request{
		Op:      op,
		URL:     httpx.JoinURL(s.baseURL, path),
		Query:   query,
		Headers: map[string]string{"Authorization": "Bearer " + s.apiKey},
		Timeout: s.timeout,
	}
}

func (a *Adapter) TestConnection(ctx context.Context, cfg map[string]any, creds map[string]string) (*provider.TestResult, error) {
	s, err := readSettings("test_connection", cfg, creds)
	if err != nil {
		return nil, err
	}

	var resp accountResponse
	if err := a.client.GetJSON(ctx, s.request("test_connection", accountsPath, nil), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &provider.Error{Provider: Code, Op: "test_connection", StatusCode: 502, Message: "API returned success=false"}
	}

	name := s.bankName
	if name == "" && len(resp.Data) > 0 {
		name = resp.Data[0].MarketingName
	}
	return &provider.TestResult{
		OK:             true,
		ProviderCode:   Code,
		ConnectorType:  "OPEN_BANKING",
		RemoteBankName: name,
		CheckedAt:      a.now().UTC(),
	}, nil
}

func (a *Adapter) PullStatements(ctx context.Context, req provider.PullRequest) (*provider.PullResult, error) {
	s, err := readSettings("pull_statements", req.Config, req.Credentials)
	if err != nil {
		return nil, err
	}

	start, err := a.startDate(s, req)
	if err != nil {
		return nil, err
	}

	var accounts accountResponse
	if err := a.client.GetJSON(ctx, s.request("get_accounts", accountsPath, nil), &accounts); err != nil {
		return nil, err
	}
	if !accounts.Success {
		return nil, &provider.Error{Provider: Code, Op: "get_accounts", StatusCode: 502, Message: "API returned success=false"}
	}

	var txns transactionResponse
	query := url.Values{"startDate": {start.Format(statement.DateLayout)}}
	if err := a.client.GetJSON(ctx, s.request("get_transactions", transactionsPath, query), &txns); err != nil {
		return nil, err
	}
	if !txns.Success {
		return nil, &provider.Error{Provider: Code, Op: "get_transactions", StatusCode: 502, Message: "API returned success=false"}
	}

	return buildResult(accounts.Data, txns.Data, start, req.ToDate), nil
}

// startDate picks the cursor date, then the requested from date, then the
// default lookback window.
func (a *Adapter) startDate(s settings, req provider.PullRequest) (time.Time, error) {
	if req.Cursor != nil && *req.Cursor != "" {
		d, err := statement.ParseDate(*req.Cursor)
		if err != nil {
			return time.Time{}, provider.ConfigError(Code, "pull_statements", "cursor %q is not a date", *req.Cursor)
		}
		return d, nil
	}
	if req.FromDate != nil {
		return statement.Date(*req.FromDate), nil
	}
	return statement.Date(a.now()).AddDate(0, 0, -s.lookback), nil
}

// buildResult groups transactions by account. An account with an unreadable
// transaction is returned with Err set and no lines; the watermark then stays
// at from so the next pull asks for that account's window again.
func buildResult(accounts []account, txns []transaction, from time.Time, to *time.Time) *provider.PullResult {
	byID := make(map[string]*provider.AccountStatement, len(accounts))
	order := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.Type == "CREDIT" {
			continue
		}
		byID[acc.ID] = &provider.AccountStatement{
			ExternalAccountID: acc.ID,
			AccountName:       acc.Name,
			CurrencyCode:      strings.ToUpper(acc.CurrencyCode),
			Lines:             []statement.Line{},
		}
		order = append(order, acc.ID)
	}

	latest := from
	for _, tx := range txns {
		if tx.Status == "PENDING" {
			continue
		}
		stmt, ok := byID[tx.AccountID]
		if !ok || stmt.Err != nil {
			continue
		}
		line, err := tx.toLine(stmt.CurrencyCode)
		if err != nil {
			stmt.Err = err
			continue
		}
		if line.BookingDate.Before(from) || (to != nil && line.BookingDate.After(statement.Date(*to))) {
			continue
		}
		stmt.Lines = append(stmt.Lines, line)
		if line.BookingDate.After(latest) {
			latest = line.BookingDate
		}
	}

	result := &provider.PullResult{Accounts: make([]provider.AccountStatement, 0, len(order))}
	for _, id := range order {
		stmt := byID[id]
		if stmt.Err != nil {
			stmt.Lines = nil
			latest = from
		}
		sort.SliceStable(stmt.Lines, func(i, j int) bool { return stmt.Lines[i].BookingDate.Before(stmt.Lines[j].BookingDate) })
		result.Accounts = append(result.Accounts, *stmt)
	}
	next := latest.Format(statement.DateLayout)
	result.NextCursor = &next
	return result
}

type accountResponse struct {
	Success bool      `json:"success"`
	Data    []account `json:"data"`
}

type account struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	CurrencyCode  string `json:"currencyCode"`
	MarketingName string `json:"marketingName"`
}

type transactionResponse struct {
	Success bool          `json:"success"`
	Data    []transaction `json:"data"`
}

type transaction struct {
	ID           string `json:"id"`
	AccountID    string `json:"accountId"`
	Description  string `json:"description"`
	CurrencyCode string `json:"currency_code"`
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Type         string `json:"type"`
	Status       string `json:"status"`
}

// toLine signs the amount by direction: DEBIT lines are outflows.
func (t transaction) toLine(accountCurrency string) (statement.Line, error) {
	if strings.TrimSpace(t.ID) == "" {
		return statement.Line{}, fmt.Errorf("transaction without id")
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(t.Amount))
	if err != nil {
		return statement.Line{}, fmt.Errorf("transaction %s: amount %q: %w", t.ID, t.Amount, err)
	}
	amount = amount.Abs()
	if strings.EqualFold(t.Type, "DEBIT") {
		amount = amount.Neg()
	}

	booked, err := parseBookingDate(t.Date)
	if err != nil {
		return statement.Line{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(t.CurrencyCode))
	if currency == "" {
		currency = accountCurrency
	}
	return statement.Line{
		ExternalTxnID: strings.TrimSpace(t.ID),
		BookingDate:   booked,
		Amount:        amount,
		CurrencyCode:  currency,
		Description:   t.Description,
	}, nil
}

// parseBookingDate accepts "2025-09-28 03:00:00", RFC 3339 and bare dates.
func parseBookingDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, statement.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return statement.Date(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
