package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsGarbageAndNegatives(t *testing.T) {
	_, err := Parse("not-a-number")
	assert.Error(t, err)
	_, err = Parse("-1.00")
	assert.Error(t, err)
}

func TestSumAndString(t *testing.T) {
	total, err := Sum("10.00", "15.50")
	require.NoError(t, err)
	assert.Equal(t, "25.50", String(total))

	total, err = Sum()
	require.NoError(t, err)
	assert.Equal(t, "0.00", String(total))
}

func TestMulQty(t *testing.T) {
	unit, err := Parse("2.99")
	require.NoError(t, err)
	assert.Equal(t, "5.98", String(MulQty(unit, 2)))
}

func TestCents(t *testing.T) {
	d, err := Parse("30.97")
	require.NoError(t, err)
	assert.Equal(t, int64(3097), Cents(d))
}
