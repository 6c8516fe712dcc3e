package openfinance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/domain/provider"
	"bankfeed/internal/infrastructure/providers/httpx"
)

const accountsJSON = `{
	"success": true,
	"data": [
		{"id": "acc-1", "name": "Conta Corrente", "type": "BANK", "currencyCode": "brl", "marketingName": "Banco Azul"},
		{"id": "card-1", "name": "Cartao", "type": "CREDIT", "currencyCode": "BRL"}
	]
}`

const transactionsJSON = `{
	"success": true,
	"data": [
		{"id": "t2", "accountId": "acc-1", "description": "Pix recebido", "amount": "150.25", "date": "2026-03-05 03:00:00", "type": "CREDIT", "status": "POSTED"},
		{"id": "t1", "accountId": "acc-1", "description": "Boleto", "amount": "89.90", "date": "2026-03-02 03:00:00", "type": "DEBIT", "status": "POSTED", "currency_code": "BRL"},
		{"id": "t3", "accountId": "acc-1", "description": "Pending", "amount": "1.00", "date": "2026-03-06 03:00:00", "type": "DEBIT", "status": "PENDING"},
		{"id": "t4", "accountId": "card-1", "description": "Card", "amount": "10.00", "date": "2026-03-04 03:00:00", "type": "DEBIT", "status": "POSTED"},
		{"id": "t5", "accountId": "acc-1", "description": "Too late", "amount": "5.00", "date": "2026-03-20 03:00:00", "type": "CREDIT", "status": "POSTED"}
	]
}`

type fakeAPI struct {
	server     *httptest.Server
	startDates []string
	auth       []string
	txStatus   int
	txBody     string
	accounts   string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{txStatus: http.StatusOK, txBody: transactionsJSON, accounts: accountsJSON}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case accountsPath:
			w.Write([]byte(f.accounts))
		case transactionsPath:
			f.startDates = append(f.startDates, r.URL.Query().Get("startDate"))
			w.WriteHeader(f.txStatus)
			if f.txStatus == http.StatusOK {
				w.Write([]byte(f.txBody))
			} else {
				w.Write([]byte(`{"success":false,"error":"rate_limited","message":"slow down"}`))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestAdapter(now time.Time) *Adapter {
	a := New(httpx.NewClient(Code, httpx.Options{}))
	a.now = func() time.Time { return now }
	return a
}

func datePtr(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func strPtr(s string) *string { return &s }

func TestPullStatements(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestAdapter(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	res, err := a.PullStatements(context.Background(), provider.PullRequest{
		Config:      map[string]any{"base_url": api.server.URL},
		Credentials: map[string]string{"api_key": "secret"},
		FromDate:    datePtr("2026-03-01"),
		ToDate:      datePtr("2026-03-10"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-03-01"}, api.startDates)
	assert.Equal(t, "Bearer secret", api.auth[0])

	require.Len(t, res.Accounts, 1)
	acc := res.Accounts[0]
	assert.Equal(t, "acc-1", acc.ExternalAccountID)
	assert.Equal(t, "BRL", acc.CurrencyCode)
	require.Len(t, acc.Lines, 2)

	assert.Equal(t, "t1", acc.Lines[0].ExternalTxnID)
	assert.Equal(t, "-89.9", acc.Lines[0].Amount.String())
	assert.Equal(t, "t2", acc.Lines[1].ExternalTxnID)
	assert.Equal(t, "150.25", acc.Lines[1].Amount.String())
	assert.Equal(t, "BRL", acc.Lines[1].CurrencyCode)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), acc.Lines[1].BookingDate)

	require.NotNil(t, res.NextCursor)
	assert.Equal(t, "2026-03-05", *res.NextCursor)
}

const twoAccountsJSON = `{
	"success": true,
	"data": [
		{"id": "acc-1", "name": "Conta Corrente", "type": "BANK", "currencyCode": "BRL"},
		{"id": "acc-2", "name": "Poupanca", "type": "BANK", "currencyCode": "BRL"}
	]
}`

func TestPullStatements_UnreadableTransactionIsolatesAccount(t *testing.T) {
	tests := []struct {
		name   string
		broken string
	}{
		{"bad amount", `{"id": "b1", "accountId": "acc-2", "amount": "abc", "date": "2026-03-03 03:00:00", "type": "DEBIT", "status": "POSTED"}`},
		{"bad date", `{"id": "b1", "accountId": "acc-2", "amount": "3.00", "date": "yesterday", "type": "DEBIT", "status": "POSTED"}`},
		{"missing id", `{"id": "  ", "accountId": "acc-2", "amount": "3.00", "date": "2026-03-03 03:00:00", "type": "DEBIT", "status": "POSTED"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.txBody = `{"success": true, "data": [
				{"id": "g1", "accountId": "acc-1", "amount": "20.00", "date": "2026-03-05 03:00:00", "type": "CREDIT", "status": "POSTED"},
				` + tt.broken + `,
				{"id": "g2", "accountId": "acc-2", "amount": "4.00", "date": "2026-03-06 03:00:00", "type": "CREDIT", "status": "POSTED"}
			]}`
			api.accounts = twoAccountsJSON
			a := newTestAdapter(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

			res, err := a.PullStatements(context.Background(), provider.PullRequest{
				Config:      map[string]any{"base_url": api.server.URL},
				Credentials: map[string]string{"api_key": "secret"},
				FromDate:    datePtr("2026-03-01"),
				ToDate:      datePtr("2026-03-10"),
			})
			require.NoError(t, err)
			require.Len(t, res.Accounts, 2)

			byID := map[string]provider.AccountStatement{}
			for _, acc := range res.Accounts {
				byID[acc.ExternalAccountID] = acc
			}

			good := byID["acc-1"]
			assert.NoError(t, good.Err)
			require.Len(t, good.Lines, 1)
			assert.Equal(t, "g1", good.Lines[0].ExternalTxnID)

			bad := byID["acc-2"]
			assert.Error(t, bad.Err)
			assert.Empty(t, bad.Lines)

			require.NotNil(t, res.NextCursor)
			assert.Equal(t, "2026-03-01", *res.NextCursor)
		})
	}
}

func TestPullStatements_CursorWins(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestAdapter(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	res, err := a.PullStatements(context.Background(), provider.PullRequest{
		Config:      map[string]any{"base_url": api.server.URL},
		Credentials: map[string]string{"api_key": "secret"},
		Cursor:      strPtr("2026-03-04"),
		FromDate:    datePtr("2026-01-01"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-03-04"}, api.startDates)
	require.Len(t, res.Accounts[0].Lines, 2)
	assert.Equal(t, "t2", res.Accounts[0].Lines[0].ExternalTxnID)
	assert.Equal(t, "2026-03-20", *res.NextCursor)
}

func TestPullStatements_DefaultWindow(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestAdapter(time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC))

	_, err := a.PullStatements(context.Background(), provider.PullRequest{
		Config:      map[string]any{"base_url": api.server.URL, "lookback_days": float64(30)},
		Credentials: map[string]string{"api_key": "secret"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-02-08"}, api.startDates)
}

func TestPullStatements_ConfigErrors(t *testing.T) {
	a := newTestAdapter(time.Now())

	tests := []struct {
		name string
		req  provider.PullRequest
	}{
		{"missing api key", provider.PullRequest{Config: map[string]any{}, Credentials: map[string]string{}}},
		{"bad lookback", provider.PullRequest{Config: map[string]any{"lookback_days": float64(0)}, Credentials: map[string]string{"api_key": "k"}}},
		{"bad cursor", provider.PullRequest{Credentials: map[string]string{"api_key": "k"}, Cursor: strPtr("page-2")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.PullStatements(context.Background(), tt.req)
			pe, ok := provider.AsError(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
			assert.True(t, pe.IsClientError())
		})
	}
}

func TestPullStatements_ProviderStatus(t *testing.T) {
	api := newFakeAPI(t)
	api.txStatus = http.StatusTooManyRequests
	a := newTestAdapter(time.Now())

	_, err := a.PullStatements(context.Background(), provider.PullRequest{
		Config:      map[string]any{"base_url": api.server.URL},
		Credentials: map[string]string{"api_key": "secret"},
	})

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "get_transactions", pe.Op)
	assert.Equal(t, "rate_limited - slow down", pe.Message)
}

func TestTestConnection(t *testing.T) {
	api := newFakeAPI(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	a := newTestAdapter(now)

	res, err := a.TestConnection(context.Background(), map[string]any{"base_url": api.server.URL}, map[string]string{"api_key": "secret"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, Code, res.ProviderCode)
	assert.Equal(t, "Banco Azul", res.RemoteBankName)
	assert.Equal(t, now, res.CheckedAt)

	res, err = a.TestConnection(context.Background(), map[string]any{"base_url": api.server.URL, "bank_name": "Override"}, map[string]string{"api_key": "secret"})
	require.NoError(t, err)
	assert.Equal(t, "Override", res.RemoteBankName)
}

func TestParseBookingDate(t *testing.T) {
	want := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2026-03-05 03:00:00", "2026-03-05T10:00:00Z", "2026-03-05"} {
		got, err := parseBookingDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got)
	}
	_, err := parseBookingDate("05/03/2026")
	assert.Error(t, err)
}
