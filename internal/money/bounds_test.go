package money

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInRange(t *testing.T) {
	assert.True(t, InRange(d("999999999999999999999999.99999999")))
	assert.True(t, InRange(d("-999999999999999999999999.99999999")))
	assert.False(t, InRange(d("1000000000000000000000000")))
	assert.False(t, InRange(d("999999999999999999999999.999999991").Add(d("0.00000001"))))
}

func TestSortKey(t *testing.T) {
	assert.Equal(t, "000000000000000000000010.50000000", SortKey(d("10.5")))
	assert.Equal(t, "000000000000000000000000.00000001", SortKey(d("0.000000019")))
	assert.Equal(t, "999999999999999999999999.99999999", SortKey(d("1e30")))
	assert.Equal(t, SortKey(d("0")), SortKey(d("-3")))

	values := []string{
		"9", "10", "0.1", "99999999999.99999999", "100000000000",
		"123456789.12345678", "123456789.12345679", "0.00000001",
	}
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = SortKey(d(v))
		assert.Len(t, keys[i], IntegerDigits+1+int(Scale))
	}
	sort.Strings(keys)
	sort.Slice(values, func(i, j int) bool { return d(values[i]).LessThan(d(values[j])) })
	for i, v := range values {
		assert.Equal(t, SortKey(d(v)), keys[i], "position %d", i)
	}
}
