package roomid

var colors = []string{
	"amber", "azure", "coral", "crimson", "golden", "indigo", "ivory", "jade", "lilac", "mint",
	"ochre", "olive", "pearl", "plum", "rose", "ruby", "saffron", "sage", "scarlet", "teal",
}

var moods = []string{
	"calm", "bright", "gentle", "quiet", "steady", "sunny", "brave", "kind", "clever", "merry",
	"patient", "cheerful", "mellow", "nimble", "hopeful", "tidy", "warm", "lively", "breezy", "cosy",
}

var trees = []string{
	"aspen", "birch", "cedar", "cypress", "elm", "fir", "hazel", "juniper", "larch", "linden",
	"magnolia", "maple", "oak", "olivewood", "pine", "rowan", "spruce", "sycamore", "walnut", "willow",
}

var birds = []string{
	"finch", "heron", "kestrel", "lark", "magpie", "oriole", "osprey", "owl", "plover", "puffin",
	"robin", "sparrow", "starling", "swallow", "swift", "tern", "thrush", "warbler", "wren", "kingfisher",
}

var places = []string{
	"brook", "canyon", "cove", "dune", "fjord", "glade", "harbor", "island", "lagoon", "meadow",
	"mesa", "orchard", "prairie", "reef", "ridge", "summit", "valley", "grove", "delta", "bay",
}
