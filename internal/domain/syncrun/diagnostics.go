package syncrun

// MaxDiagnostics bounds how many items a run payload keeps.
const MaxDiagnostics = 50

const maxDiagnosticMessage = 500

// Diagnostic codes
const (
	CodeUnmappedAccount     = "UNMAPPED_EXTERNAL_ACCOUNT"
	CodeDuplicateBatch      = "DUPLICATE_IMPORT_BATCH"
	CodeAccountImportFailed = "ACCOUNT_IMPORT_FAILED"
	CodeProviderError       = "PROVIDER_ERROR"
)

// Diagnostic is one itemized issue recorded during a run.
type Diagnostic struct {
	Code              string `json:"code"`
	ExternalAccountID string `json:"external_account_id,omitempty"`
	BankAccountID     int64  `json:"bank_account_id,omitempty"`
	LineCount         int    `json:"line_count,omitempty"`
	Message           string `json:"message"`
}

// Add appends d unless the payload already holds MaxDiagnostics items, in
// which case it only counts the drop.
func (p *Payload) Add(d Diagnostic) {
	if len(p.Diagnostics) >= MaxDiagnostics {
		p.DroppedDiagnostics++
		return
	}
	if len(d.Message) > maxDiagnosticMessage {
		d.Message = d.Message[:maxDiagnosticMessage]
	}
	p.Diagnostics = append(p.Diagnostics, d)
}
