package model

import "math/big"

// Result accumulates the totals of an aggregation run.
type Result struct {
	EventCount uint64
	ValueSum   *big.Int
}

// NewResult returns a zero Result.
func NewResult() Result {
	return Result{ValueSum: big.NewInt(0)}
}

// Add returns the sum of r and other. Neither operand is modified.
func (r Result) Add(other Result) Result {
	sum := new(big.Int)
	if r.ValueSum != nil {
		sum.Set(r.ValueSum)
	}
	if other.ValueSum != nil {
		sum.Add(sum, other.ValueSum)
	}
	return Result{
		EventCount: r.EventCount + other.EventCount,
		ValueSum:   sum,
	}
}

// Sum returns a copy of ValueSum, never nil.
func (r Result) Sum() *big.Int {
	if r.ValueSum == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(r.ValueSum)
}
