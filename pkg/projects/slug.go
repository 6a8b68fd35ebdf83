package projects

import "math/rand/v2"

var (
	adjectives = []string{
		"amber", "ancient", "autumn", "billowing", "bold", "brave", "breezy", "bright",
		"calm", "clever", "cool", "crimson", "curious", "dawn", "dusty", "eager",
		"fancy", "fluffy", "fresh", "gentle", "golden", "grand", "green", "happy",
		"hidden", "icy", "jolly", "kind", "lively", "lucky", "mellow", "misty",
		"noble", "odd", "patient", "polished", "proud", "quick", "quiet", "rapid",
		"rustic", "shiny", "silent", "silver", "smooth", "snowy", "spring", "steady",
		"sunny", "swift", "tidy", "tiny", "twilight", "velvet", "vivid", "wandering",
		"warm", "wild", "wise", "witty", "young", "zany", "zesty", "zealous",
	}
	nouns = []string{
		"anchor", "apple", "badge", "bird", "blossom", "breeze", "brook", "butterfly",
		"canyon", "cloud", "comet", "coral", "dew", "dream", "ember", "falcon",
		"feather", "field", "firefly", "flower", "forest", "frost", "garden", "glade",
		"harbor", "hill", "island", "lake", "lantern", "leaf", "meadow", "moon",
		"mountain", "night", "ocean", "orchid", "owl", "paper", "pebble", "pine",
		"planet", "pond", "rain", "river", "robot", "rocket", "sea", "shadow",
		"sky", "snow", "sound", "star", "stone", "sun", "thunder", "tree",
		"valley", "violet", "water", "wave", "willow", "wind", "wolf", "yard",
	}
)

// Slug returns a random two-word kebab-case name such as "quiet-river".
func Slug() string {
	return adjectives[rand.IntN(len(adjectives))] + "-" + nouns[rand.IntN(len(nouns))]
}
