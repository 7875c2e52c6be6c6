package fixed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoint_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		calc func() Point
		want string
	}{
		{"add", func() Point { return FromFloat64(1.1).Add(FromFloat64(2.2)) }, "3.3"},
		{"sub", func() Point { return FromFloat64(1.05).Sub(One) }, "0.05"},
		{"mul", func() Point { return FromFloat64(1.05).Mul(Hundred) }, "105.00"},
		{"div int", func() Point { return Hundred.DivInt(10) }, "10"},
		{"neg", func() Point { return FromFloat64(5).Neg() }, "-5"},
		{"weighted average", func() Point {
			// (1.00*100 + 1.10*50) / 150
			total := One.Mul(Hundred).Add(FromFloat64(1.10).Mul(FromInt(50, 0)))
			return total.DivInt(150).Rescale(4)
		}, "1.0333"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.calc().String())
		})
	}
}

func TestPoint_FromString(t *testing.T) {
	p, err := FromString("989.93")
	require.NoError(t, err)
	assert.Equal(t, "989.93", p.String())

	_, err = FromString("not-a-number")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid decimal")
}

func TestPoint_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Value Point `json:"value"`
	}

	data, err := json.Marshal(wrapper{Value: FromFloat64(1004.93)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"1004.93"}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Value.Eq(FromFloat64(1004.93)))
}

func TestPoint_Comparisons(t *testing.T) {
	assert.True(t, One.Lt(Two))
	assert.True(t, Two.Gt(One))
	assert.True(t, Ten.Gte(Ten))
	assert.True(t, Zero.IsZero())
	assert.True(t, FromFloat64(-0.5).IsNeg())
	assert.True(t, FromFloat64(1.5).IsPos())
}

func TestMath_MeanStdDev(t *testing.T) {
	points := []Point{FromInt(2, 0), FromInt(4, 0), FromInt(4, 0), FromInt(4, 0), FromInt(5, 0), FromInt(5, 0), FromInt(7, 0), FromInt(9, 0)}
	mean := Mean(points)
	assert.Equal(t, "5", mean.String())
	assert.Equal(t, "2", StdDev(points, mean).String())

	assert.True(t, Mean(nil).IsZero())
	assert.True(t, StdDev([]Point{One}, One).IsZero())
}
