package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Transaction is the wire payload prepared server-side, signed externally,
// and forwarded to the ledger. Signatures are carried outside the signable
// body so the prepared payload can be byte-compared at submit time.
type Transaction struct {
	Kind       string   `json:"kind" enum:"mint,delegate,transfer,swap,sale"`
	Nonce      string   `json:"nonce"`
	Identity   string   `json:"identity,omitempty"`
	Delegate   string   `json:"delegate,omitempty"`
	Legs       []Leg    `json:"legs,omitempty"`
	Payment    *Payment `json:"payment,omitempty"`
	Memo       string   `json:"memo,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

// Leg moves one asset from one wallet to another.
type Leg struct {
	Asset string `json:"asset"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// Payment moves funds between wallets as part of a sale.
type Payment struct {
	Amount int64  `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// SignableBytes returns the canonical bytes covered by signatures: the
// transaction serialized with the signature list stripped.
func (t Transaction) SignableBytes() ([]byte, error) {
	body := t
	body.Signatures = nil
	return json.Marshal(body)
}

// Sign appends a hex ed25519 signature over the signable bytes.
func (t *Transaction) Sign(priv ed25519.PrivateKey) error {
	data, err := t.SignableBytes()
	if err != nil {
		return err
	}
	sig := ed25519.Sign(priv, data)
	t.Signatures = append(t.Signatures, hex.EncodeToString(sig))
	return nil
}

// Encode serializes the transaction for storage or submission.
func (t Transaction) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored or submitted transaction payload.
func Decode(payload string) (Transaction, error) {
	var t Transaction
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return t, fmt.Errorf("invalid transaction payload: %w", err)
	}
	if t.Kind == "" {
		return t, errors.New("transaction payload missing kind")
	}
	return t, nil
}

// SignableMatches reports whether two payloads share the same signable bytes.
// Used by the submit handlers as the round-trip tamper check.
func SignableMatches(prepared, submitted string) (bool, error) {
	pt, err := Decode(prepared)
	if err != nil {
		return false, fmt.Errorf("prepared: %w", err)
	}
	st, err := Decode(submitted)
	if err != nil {
		return false, fmt.Errorf("submitted: %w", err)
	}
	pb, err := pt.SignableBytes()
	if err != nil {
		return false, err
	}
	sb, err := st.SignableBytes()
	if err != nil {
		return false, err
	}
	return string(pb) == string(sb), nil
}
