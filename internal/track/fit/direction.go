package fit

// Direction is the navigation direction of a propagation pass.
type Direction int

const (
	Forward  Direction = 1
	Backward Direction = -1
)

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction { return -d }

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}
