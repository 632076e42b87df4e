package payload

import (
	"encoding/json"
	"fmt"
)

// Payload type and schema identifiers recorded on the ledger
const (
	PayloadType   = "PARLAY_GORILLA_CUSTOM"
	PayloadSchema = "pg_parlay_proof_v3"
	WebsiteTag    = "Visit ParlayGorilla.com"
)

// ProofRequest is the unit of work pulled off the queue. It is created by
// the enqueuing API and is immutable once enqueued; CreatedAtIso is fixed at
// request creation so payload construction never consults the wall clock.
type ProofRequest struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subject_id"`
	AccountNumber string `json:"account_number"`
	ContentHash   string `json:"content_hash"`
	CreatedAtIso  string `json:"created_at"`
}

// ProofPayload is the canonical object written to the ledger. Field order
// here is the serialized key order, do not reorder.
type ProofPayload struct {
	Type          string `json:"type"`
	Schema        string `json:"schema"`
	AccountNumber string `json:"account_number"`
	ParlayID      string `json:"parlay_id"`
	Hash          string `json:"hash"`
	CreatedAt     string `json:"created_at"`
	Website       string `json:"website"`
}

// Build maps a ProofRequest to its ledger payload. Pure function: two calls
// with the same request always produce the same payload.
func Build(req ProofRequest) ProofPayload {
	return ProofPayload{
		Type:          PayloadType,
		Schema:        PayloadSchema,
		AccountNumber: req.AccountNumber,
		ParlayID:      req.SubjectID,
		Hash:          req.ContentHash,
		CreatedAt:     req.CreatedAtIso,
		Website:       WebsiteTag,
	}
}

// Serialize produces the exact byte sequence transmitted to the ledger.
// Retries and crash recovery must resubmit these bytes unchanged.
func Serialize(p ProofPayload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("serializing proof payload: %w", err)
	}
	return b, nil
}
