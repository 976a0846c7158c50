package ledger

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"ledger-engine/pkg/model"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	accountNumberPrefix = "ACC"
	accountNumberDigits = 10

	// maxNumberAttempts bounds collision retries; with 10^10 numbers a
	// collision streak this long means the random source is broken.
	maxNumberAttempts = 32
)

const (
	accountNumberSpace = 10_000_000_000
	accountNumberMask  = 1<<34 - 1
)

var errNumberSpaceExhausted = errors.New("ledger: could not generate a unique account number")

// numberGenerator issues account numbers that are unique within an accounts snapshot.
// A bloom filter of numbers already seen answers "definitely unused" without a
// scan; only a filter hit falls back to an exact check.
type numberGenerator struct {
	mu     sync.Mutex
	random io.Reader
	filter *bloom.BloomFilter
	seen   int
}

func newNumberGenerator(random io.Reader, expectedAccounts uint) *numberGenerator {
	if random == nil {
		random = rand.Reader
	}
	if expectedAccounts == 0 {
		expectedAccounts = 100_000
	}
	return &numberGenerator{
		random: random,
		filter: bloom.NewWithEstimates(expectedAccounts, 0.001),
	}
}

// next returns a number not used by any account in accounts. accounts is the
// snapshot read inside the update that will store the new account.
func (g *numberGenerator) next(accounts []model.Account) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.observe(accounts)

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		n, err := g.draw()
		if err != nil {
			return "", fmt.Errorf("ledger: account number: %w", err)
		}
		candidate := fmt.Sprintf("%s%0*d", accountNumberPrefix, accountNumberDigits, n)

		if g.filter.TestString(candidate) && numberInUse(accounts, candidate) {
			continue
		}
		g.filter.AddString(candidate)
		return candidate, nil
	}
	return "", errNumberSpaceExhausted
}

// draw returns a uniform value in [0, accountNumberSpace) by rejection sampling
// 34-bit values read from the random source.
func (g *numberGenerator) draw() (uint64, error) {
	var buf [8]byte
	for {
		if _, err := io.ReadFull(g.random, buf[3:]); err != nil {
			return 0, err
		}
		n := binary.BigEndian.Uint64(buf[:]) & accountNumberMask
		if n < accountNumberSpace {
			return n, nil
		}
	}
}

// observe adds numbers appended since the last call. Accounts are only ever
// appended, so a shorter snapshot means the store was replaced and the filter
// is rebuilt.
func (g *numberGenerator) observe(accounts []model.Account) {
	if len(accounts) < g.seen {
		g.filter.ClearAll()
		g.seen = 0
	}
	for _, a := range accounts[g.seen:] {
		g.filter.AddString(a.AccountNumber)
	}
	g.seen = len(accounts)
}

func numberInUse(accounts []model.Account, number string) bool {
	for i := range accounts {
		if accounts[i].AccountNumber == number {
			return true
		}
	}
	return false
}
