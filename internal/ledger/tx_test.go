package ledger_test

import (
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"mintline/internal/ledger"
)

func TestSignableMatchesIgnoresSignatures(t *testing.T) {
	tx := ledger.Transaction{
		Kind:  "delegate",
		Nonce: "n-1",
		Legs:  []ledger.Leg{{Asset: "asset-1", From: "w1", To: "w1"}},
	}
	prepared, err := tx.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, priv, _ := ed25519.GenerateKey(nil)
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed, _ := tx.Encode()

	match, err := ledger.SignableMatches(prepared, signed)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !match {
		t.Fatal("signed payload should match prepared payload")
	}
}

func TestSignableMatchesDetectsTamper(t *testing.T) {
	tx := ledger.Transaction{
		Kind:  "transfer",
		Nonce: "n-2",
		Legs:  []ledger.Leg{{Asset: "asset-1", From: "w1", To: "w2"}},
	}
	prepared, _ := tx.Encode()

	tx.Legs[0].To = "attacker"
	tampered, _ := tx.Encode()

	match, err := ledger.SignableMatches(prepared, tampered)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if match {
		t.Fatal("tampered payload should not match")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := ledger.Decode("not json"); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := ledger.Decode(`{"nonce":"x"}`); err == nil {
		t.Fatal("expected error for missing kind")
	}
}

func TestSignVerifies(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	tx := ledger.Transaction{Kind: "mint", Nonce: "n-3", Identity: "5"}
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(tx.Signatures) != 1 {
		t.Fatalf("signatures = %d, want 1", len(tx.Signatures))
	}
	data, _ := tx.SignableBytes()
	sig, err := hex.DecodeString(tx.Signatures[0])
	if err != nil {
		t.Fatalf("decode sig: %v", err)
	}
	if !ed25519.Verify(pub, data, sig) {
		t.Fatal("signature does not verify over signable bytes")
	}
}
