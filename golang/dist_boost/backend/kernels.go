package backend

//RowKernel accumulates a whole histogram from row-major bin indices.
//offsets[f] is the first global bin of feature f; out holds (grad, hess, count)
//triples per global bin.
type RowKernel func(rowMajor []int32, nFeatures int, offsets []int, rows []int, grad, hess []float64, out []float64)

//ColumnKernel accumulates the histogram of one feature from its column.
//out holds (grad, hess, count) triples for the bins of this feature only.
type ColumnKernel func(column []int32, rows []int, grad, hess []float64, out []float64)

func accumulateRows(rowMajor []int32, nFeatures int, offsets []int, rows []int, grad, hess []float64, out []float64) {
	for _, row := range rows {
		g, h := grad[row], hess[row]
		binned := rowMajor[row*nFeatures : (row+1)*nFeatures]
		for f, bin := range binned {
			cell := 3 * (offsets[f] + int(bin))
			out[cell] += g
			out[cell+1] += h
			out[cell+2]++
		}
	}
}

func accumulateColumn(column []int32, rows []int, grad, hess []float64, out []float64) {
	for _, row := range rows {
		cell := 3 * int(column[row])
		out[cell] += grad[row]
		out[cell+1] += hess[row]
		out[cell+2]++
	}
}

// Same summation order as accumulateColumn, so results are bit-identical.
func accumulateColumnUnrolled(column []int32, rows []int, grad, hess []float64, out []float64) {
	n := len(rows)
	p := 0
	for ; p+4 <= n; p += 4 {
		r0, r1, r2, r3 := rows[p], rows[p+1], rows[p+2], rows[p+3]

		c := 3 * int(column[r0])
		out[c] += grad[r0]
		out[c+1] += hess[r0]
		out[c+2]++

		c = 3 * int(column[r1])
		out[c] += grad[r1]
		out[c+1] += hess[r1]
		out[c+2]++

		c = 3 * int(column[r2])
		out[c] += grad[r2]
		out[c+1] += hess[r2]
		out[c+2]++

		c = 3 * int(column[r3])
		out[c] += grad[r3]
		out[c+1] += hess[r3]
		out[c+2]++
	}
	for ; p < n; p++ {
		r := rows[p]
		c := 3 * int(column[r])
		out[c] += grad[r]
		out[c+1] += hess[r]
		out[c+2]++
	}
}
