// Package draw implements the deterministic identity draw: a random value
// maps onto an ascending-sorted available set by modulus. The same inputs
// must reproduce the same output forever, so audits can replay any draw.
package draw

import (
	"encoding/hex"
	"errors"
	"math/big"
	"sort"
	"strconv"

	"mintline/internal/domain"
)

var (
	ErrNoneAvailable = errors.New("no identities available")
	ErrEmptyRandom   = errors.New("random value is empty")
	ErrBadRandomHex  = errors.New("random value is not valid hex")
	ErrAllZeroRandom = errors.New("random value is all zero")
)

// Select maps a hex random value onto the available set.
// index = bigInt(randomBytes) mod len(available).
func Select(available []string, randomHex string) (int, string, error) {
	if len(available) == 0 {
		return 0, "", ErrNoneAvailable
	}
	if randomHex == "" {
		return 0, "", ErrEmptyRandom
	}
	raw, err := hex.DecodeString(randomHex)
	if err != nil {
		return 0, "", ErrBadRandomHex
	}
	if len(raw) == 0 {
		return 0, "", ErrEmptyRandom
	}
	n := new(big.Int).SetBytes(raw)
	if n.Sign() == 0 {
		return 0, "", ErrAllZeroRandom
	}
	index := int(new(big.Int).Mod(n, big.NewInt(int64(len(available)))).Int64())
	return index, available[index], nil
}

// Available computes the ascending-sorted identity set eligible for a draw:
// everything whose minted+reserved count has not reached its cap. A cap of
// zero means uncapped.
func Available(supplies []domain.IdentitySupply) []string {
	var out []string
	for _, s := range supplies {
		if s.MaxSupply > 0 && s.Minted+s.Reserved >= s.MaxSupply {
			continue
		}
		out = append(out, s.Identity)
	}
	SortIdentities(out)
	return out
}

// SortIdentities sorts ascending, numerically when every identity parses as
// an integer, lexically otherwise.
func SortIdentities(ids []string) {
	numeric := true
	for _, id := range ids {
		if _, err := strconv.Atoi(id); err != nil {
			numeric = false
			break
		}
	}
	if numeric {
		sort.Slice(ids, func(i, j int) bool {
			a, _ := strconv.Atoi(ids[i])
			b, _ := strconv.Atoi(ids[j])
			return a < b
		})
		return
	}
	sort.Strings(ids)
}
