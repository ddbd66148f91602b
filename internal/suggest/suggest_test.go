package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBestRanksClosestMatchFirst verifies a near-miss typo ranks its
// closest candidate first.
func TestBestRanksClosestMatchFirst(t *testing.T) {
	t.Parallel()

	got := Best("biuld", []string{"build", "deploy", "test"}, 3)
	assert.NotEmpty(t, got)
	assert.Equal(t, "build", got[0])
}

// TestBestReturnsAtMostN verifies the result is capped at n candidates.
func TestBestReturnsAtMostN(t *testing.T) {
	t.Parallel()

	got := Best("tst", []string{"test", "tests", "testing", "taste"}, 2)
	assert.LessOrEqual(t, len(got), 2)
}
