package codec

// Number 可做增量压缩的数值类型
type Number interface {
	~int16 | ~int32 | ~int64 | ~uint16 | ~uint32 | ~float32 | ~float64
}

// Delta 逐元素计算 current - previous，长度不同时返回 ok=false
func Delta[T Number](current, previous []T) ([]T, bool) {
	if len(current) != len(previous) {
		return nil, false
	}
	out := make([]T, len(current))
	for i := range current {
		out[i] = current[i] - previous[i]
	}
	return out, true
}

// Undelta Delta 的逆过程：previous + delta
func Undelta[T Number](delta, previous []T) ([]T, bool) {
	if len(delta) != len(previous) {
		return nil, false
	}
	out := make([]T, len(delta))
	for i := range delta {
		out[i] = previous[i] + delta[i]
	}
	return out, true
}
