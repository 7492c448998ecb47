package board

// DefaultCardColor is the stored color for cards created without an explicit
// palette choice.
const DefaultCardColor = "#fef08a"

// LightColors is the palette shown on the light theme.
var LightColors = []string{"#D4B8F0", "#FFCAB0", "#C4EDBA", "#C5E8EC", "#F9E9A8"}

// DarkColors holds the dark-theme variant of each light color, index-aligned.
var DarkColors = []string{"#9B7BC7", "#E8936A", "#7BC96A", "#7ABCC5", "#D4C468"}

// colorVariants maps every palette color to its counterpart on the other theme.
var colorVariants = map[string]string{
	"#D4B8F0": "#9B7BC7",
	"#FFCAB0": "#E8936A",
	"#C4EDBA": "#7BC96A",
	"#C5E8EC": "#7ABCC5",
	"#F9E9A8": "#D4C468",
	"#9B7BC7": "#D4B8F0",
	"#E8936A": "#FFCAB0",
	"#7BC96A": "#C4EDBA",
	"#7ABCC5": "#C5E8EC",
	"#D4C468": "#F9E9A8",
}

// DisplayColor maps a stored color to the variant matching the requested
// theme. Colors outside the palette pass through unchanged.
func DisplayColor(storedColor string, darkTheme bool) string {
	storedIsDark := false
	for _, dark := range DarkColors {
		if storedColor == dark {
			storedIsDark = true
			break
		}
	}
	if darkTheme == storedIsDark {
		return storedColor
	}
	if variant, ok := colorVariants[storedColor]; ok {
		return variant
	}
	return storedColor
}
