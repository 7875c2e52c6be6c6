package fixed

var (
	Zero = FromInt(0, 0)
	One  = FromInt(1, 0)
	Two  = FromInt(2, 0)
	Ten  = FromInt(10, 0)

	Hundred  = FromInt(100, 0)
	Thousand = FromInt(1000, 0)
)
