package orders

// Dimensions of the shipping box in centimetres.
type Dimensions struct {
	Length int `json:"length"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

var boxTiers = []struct {
	maxGrams int
	box      Dimensions
}{
	{500, Dimensions{Length: 10, Width: 10, Height: 5}},
	{2000, Dimensions{Length: 20, Width: 15, Height: 10}},
	{5000, Dimensions{Length: 30, Width: 20, Height: 15}},
}

var boxXL = Dimensions{Length: 40, Width: 30, Height: 20}

// PackageDimensions picks the box for a total weight in grams.
func PackageDimensions(weight int) Dimensions {
	for _, t := range boxTiers {
		if weight <= t.maxGrams {
			return t.box
		}
	}
	return boxXL
}
