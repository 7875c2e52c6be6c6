package fixed

func Mean(points []Point) Point {
	if len(points) == 0 {
		return Zero
	}
	sum := Zero
	for _, point := range points {
		sum = sum.Add(point)
	}
	return sum.DivInt(len(points))
}

func StdDev(points []Point, mean Point) Point {
	if len(points) <= 1 {
		return Zero
	}
	sum := Zero
	for _, point := range points {
		diff := point.Sub(mean)
		sum = sum.Add(diff.Mul(diff))
	}
	return sum.DivInt(len(points)).Sqrt()
}
