package main

// Per-level hidden target layout, carried over from the original photo set.
// Each level hides two Andreas; a click counts as a find when it lands within
// the buffer square around a target's center. Coordinates are in the photo's
// native pixel space; clients scale them to the rendered size.

const targetBuffer = 50

type Target struct {
	ID int `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`
	W  int `json:"w"`
	H  int `json:"h"`
}

type LevelLayout struct {
	Level   int      `json:"level"`
	Targets []Target `json:"targets"`
}

func target(id, cx, cy int) Target {
	return Target{
		ID: id,
		X:  cx - targetBuffer,
		Y:  cy - targetBuffer,
		W:  targetBuffer * 2,
		H:  targetBuffer * 2,
	}
}

// Level 5 has both targets co-located; that is how the photo was laid out.
var levelLayouts = []LevelLayout{
	{Level: 1, Targets: []Target{target(1, 1271, 704), target(2, 500, 728)}},
	{Level: 2, Targets: []Target{target(1, 1099, 413), target(2, 995, 470)}},
	{Level: 3, Targets: []Target{target(1, 1226, 100), target(2, 518, 398)}},
	{Level: 4, Targets: []Target{target(1, 847, 775), target(2, 512, 737)}},
	{Level: 5, Targets: []Target{target(1, 693, 676), target(2, 693, 676)}},
}

// layoutForLevel falls back to level 1 for out-of-range levels, as the
// original did.
func layoutForLevel(level int) LevelLayout {
	for _, l := range levelLayouts {
		if l.Level == level {
			return l
		}
	}
	return levelLayouts[0]
}

// HitTarget reports which target, if any, contains the click.
func HitTarget(level, x, y int) (int, bool) {
	for _, t := range layoutForLevel(level).Targets {
		if x >= t.X && x <= t.X+t.W && y >= t.Y && y <= t.Y+t.H {
			return t.ID, true
		}
	}
	return 0, false
}
