package solver

import "gonum.org/v1/gonum/mat"

// matrixPool provides a pool of reusable matrices to reduce allocations
// across interior-point iterations.
type matrixPool struct {
	densePools []*mat.Dense
	vecPools   []*mat.VecDense
	symPools   []*mat.SymDense
}

func newMatrixPool() *matrixPool {
	return &matrixPool{
		densePools: make([]*mat.Dense, 0, 8),
		vecPools:   make([]*mat.VecDense, 0, 8),
		symPools:   make([]*mat.SymDense, 0, 8),
	}
}

// getDense returns a zeroed r x c matrix from the pool or creates a new one.
func (p *matrixPool) getDense(r, c int) *mat.Dense {
	for i, m := range p.densePools {
		mr, mc := m.Dims()
		if mr == r && mc == c {
			p.densePools = append(p.densePools[:i], p.densePools[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewDense(r, c, nil)
}

// putDense returns a matrix to the pool.
func (p *matrixPool) putDense(m *mat.Dense) {
	p.densePools = append(p.densePools, m)
}

// getVecDense returns a zeroed length-n vector from the pool or creates a
// new one.
func (p *matrixPool) getVecDense(n int) *mat.VecDense {
	for i, v := range p.vecPools {
		if v.Len() == n {
			p.vecPools = append(p.vecPools[:i], p.vecPools[i+1:]...)
			v.Zero()
			return v
		}
	}
	return mat.NewVecDense(n, nil)
}

// putVecDense returns a vector to the pool.
func (p *matrixPool) putVecDense(v *mat.VecDense) {
	p.vecPools = append(p.vecPools, v)
}

// getSymDense returns a zeroed n x n symmetric matrix from the pool or
// creates a new one.
func (p *matrixPool) getSymDense(n int) *mat.SymDense {
	for i, m := range p.symPools {
		if mn, _ := m.Dims(); mn == n {
			p.symPools = append(p.symPools[:i], p.symPools[i+1:]...)
			m.Zero()
			return m
		}
	}
	return mat.NewSymDense(n, nil)
}

// putSymDense returns a symmetric matrix to the pool.
func (p *matrixPool) putSymDense(m *mat.SymDense) {
	p.symPools = append(p.symPools, m)
}
