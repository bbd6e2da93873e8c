package dbl

//FeatureRange walks the features owned by one partition: partition, partition+n, partition+2n...
type FeatureRange struct {
	pos, end, step int
}

//NewFeatureRange starts the walk over nFeatures features dealt among nPartitions partitions.
func NewFeatureRange(partition, nFeatures, nPartitions int) *FeatureRange {
	return &FeatureRange{pos: partition, end: nFeatures, step: nPartitions}
}

//Next returns the next owned feature and false once the features are exhausted.
func (r *FeatureRange) Next() (int, bool) {
	if r.step < 1 || r.pos >= r.end {
		return 0, false
	}
	f := r.pos
	r.pos += r.step
	return f, true
}

//Len is the number of features left.
func (r *FeatureRange) Len() int {
	if r.step < 1 || r.pos >= r.end {
		return 0
	}
	return (r.end-r.pos-1)/r.step + 1
}

func processedFeatures(partition, nFeatures, nPartitions int) []int {
	it := NewFeatureRange(partition, nFeatures, nPartitions)
	features := make([]int, 0, it.Len())
	for f, ok := it.Next(); ok; f, ok = it.Next() {
		features = append(features, f)
	}
	return features
}
