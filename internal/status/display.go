package status

// Color is a renderer-neutral color token; renderers map it to their palette.
type Color string

const (
	ColorGreen  Color = "#4caf50"
	ColorRed    Color = "#f44336"
	ColorOrange Color = "#ff9800"
	ColorGrey   Color = "#9e9e9e"
)

// Display is what every renderer shows for a state.
type Display struct {
	Color Color  `json:"color"`
	Label string `json:"label"`
}

// ToDisplay is the single state -> color/label mapping shared by all renderers.
func ToDisplay(s State) Display {
	switch s {
	case StateRunning:
		return Display{Color: ColorGreen, Label: "Running"}
	case StateError:
		return Display{Color: ColorRed, Label: "Error"}
	case StateStarting:
		return Display{Color: ColorOrange, Label: "Starting"}
	default:
		return Display{Color: ColorGrey, Label: "Stopped"}
	}
}
