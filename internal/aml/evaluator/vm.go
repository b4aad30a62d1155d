// Package evaluator compiles constraints into reverse-Polish stack programs
// and evaluates function values and a CSR Jacobian for use by an external
// Newton solver. It is the second operating mode of the modeling layer: no
// objective, no Hessian, but support for conditional (piecewise)
// constraints and optional parallel partitioned evaluation.
package evaluator

import (
	"math"

	"github.com/copyleftdev/GLACIER/internal/aml"
)

// run executes one reverse-Polish program on the given stack. Non-negative
// code entries index the leaf table; negative entries are opcodes.
func run(stack []float64, code []int, leaves []aml.Leaf) (float64, error) {
	sp := 0
	for _, ndx := range code {
		if ndx >= 0 {
			stack[sp] = leaves[ndx].Value()
			sp++
			continue
		}
		var res float64
		switch ndx {
		case aml.OpAdd:
			sp -= 2
			res = stack[sp] + stack[sp+1]
		case aml.OpSub:
			sp -= 2
			res = stack[sp] - stack[sp+1]
		case aml.OpMul:
			sp -= 2
			res = stack[sp] * stack[sp+1]
		case aml.OpDiv:
			sp -= 2
			res = stack[sp] / stack[sp+1]
		case aml.OpPow:
			sp -= 2
			res = math.Pow(stack[sp], stack[sp+1])
		case aml.OpAbs:
			sp--
			res = math.Abs(stack[sp])
		case aml.OpSign:
			sp--
			if stack[sp] >= 0 {
				res = 1
			} else {
				res = -1
			}
		case aml.OpIfElse:
			sp -= 3
			if stack[sp] == 1 {
				res = stack[sp+1]
			} else {
				res = stack[sp+2]
			}
		case aml.OpInequality:
			sp -= 3
			if stack[sp] >= stack[sp+1] && stack[sp] <= stack[sp+2] {
				res = 1
			} else {
				res = 0
			}
		case aml.OpExp:
			sp--
			res = math.Exp(stack[sp])
		case aml.OpLog:
			sp--
			res = math.Log(stack[sp])
		case aml.OpNeg:
			sp--
			res = -stack[sp]
		case aml.OpSin:
			sp--
			res = math.Sin(stack[sp])
		case aml.OpCos:
			sp--
			res = math.Cos(stack[sp])
		case aml.OpTan:
			sp--
			res = math.Tan(stack[sp])
		case aml.OpAsin:
			sp--
			res = math.Asin(stack[sp])
		case aml.OpAcos:
			sp--
			res = math.Acos(stack[sp])
		case aml.OpAtan:
			sp--
			res = math.Atan(stack[sp])
		default:
			return 0, aml.NewStructureError("Evaluator.run",
				"operation %d not recognized", ndx)
		}
		stack[sp] = res
		sp++
	}
	return stack[sp-1], nil
}
