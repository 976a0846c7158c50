package ledger

import (
	"strconv"
	"testing"
)

func parseID(t *testing.T, id string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		t.Fatalf("Transaction id %q is not a snowflake: %v", id, err)
	}
	return n
}
