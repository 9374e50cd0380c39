package oracle_test

import (
	"context"
	"errors"
	"testing"

	"mintline/internal/oracle"
)

type stubBeacon struct {
	value     []byte
	commitErr error
	revealErr error
	closeErr  error
	calls     int
}

func (b *stubBeacon) Commit(ctx context.Context) (string, error) {
	b.calls++
	if b.commitErr != nil {
		return "", b.commitErr
	}
	return "commit-1", nil
}

func (b *stubBeacon) Reveal(ctx context.Context) ([]byte, string, error) {
	if b.revealErr != nil {
		return nil, "", b.revealErr
	}
	return b.value, "reveal-1", nil
}

func (b *stubBeacon) Close(ctx context.Context) (string, error) {
	if b.closeErr != nil {
		return "", b.closeErr
	}
	return "close-1", nil
}

func TestRandomHappyPath(t *testing.T) {
	b := &stubBeacon{value: []byte{0xde, 0xad}}
	a := &oracle.Adapter{Providers: []oracle.Beacon{b}}
	res, err := a.Random(context.Background())
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if res.RandomHex != "dead" {
		t.Fatalf("random hex = %s", res.RandomHex)
	}
	if res.CommitTxRef != "commit-1" || res.RevealTxRef != "reveal-1" || res.CloseTxRef != "close-1" {
		t.Fatalf("provenance = %+v", res)
	}
}

func TestRandomRotatesProviders(t *testing.T) {
	broken := &stubBeacon{commitErr: errors.New("provider down")}
	healthy := &stubBeacon{value: []byte{0x01}}
	a := &oracle.Adapter{Providers: []oracle.Beacon{broken, healthy}, MaxAttempts: 3}
	res, err := a.Random(context.Background())
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if res.RandomHex != "01" {
		t.Fatalf("random hex = %s", res.RandomHex)
	}
	if broken.calls != 1 {
		t.Fatalf("broken provider called %d times, want 1", broken.calls)
	}
}

func TestRandomWeakRevealFailsImmediately(t *testing.T) {
	zero := &stubBeacon{value: []byte{0x00, 0x00}}
	backup := &stubBeacon{value: []byte{0x01}}
	a := &oracle.Adapter{Providers: []oracle.Beacon{zero, backup}, MaxAttempts: 3}
	_, err := a.Random(context.Background())
	if !errors.Is(err, oracle.ErrWeakRandom) {
		t.Fatalf("got %v, want ErrWeakRandom", err)
	}
	if backup.calls != 0 {
		t.Fatal("weak reveal must not rotate to the next provider")
	}
}

func TestRandomEmptyRevealIsWeak(t *testing.T) {
	empty := &stubBeacon{value: nil}
	a := &oracle.Adapter{Providers: []oracle.Beacon{empty}}
	if _, err := a.Random(context.Background()); !errors.Is(err, oracle.ErrWeakRandom) {
		t.Fatalf("got %v, want ErrWeakRandom", err)
	}
}

func TestRandomExhaustsAttempts(t *testing.T) {
	broken := &stubBeacon{commitErr: errors.New("down")}
	a := &oracle.Adapter{Providers: []oracle.Beacon{broken}, MaxAttempts: 2}
	_, err := a.Random(context.Background())
	if !errors.Is(err, oracle.ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
	if broken.calls != 2 {
		t.Fatalf("provider called %d times, want 2", broken.calls)
	}
}

func TestRandomToleratesCloseFailure(t *testing.T) {
	b := &stubBeacon{value: []byte{0x05}, closeErr: errors.New("close failed")}
	a := &oracle.Adapter{Providers: []oracle.Beacon{b}}
	res, err := a.Random(context.Background())
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if res.CloseTxRef != "" {
		t.Fatalf("close ref = %q, want empty after close failure", res.CloseTxRef)
	}
}
