package signaling

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"brave", "calm", "swift", "quiet", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var colors = []string{
	"golden", "silver", "crimson", "emerald", "purple", "blue", "amber", "teal", "coral", "indigo",
	"ivory", "scarlet", "violet", "olive", "azure", "ruby", "jade", "copper", "cobalt", "rose",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "dolphin", "whale", "narwhal",
}

var places = []string{
	"meadow", "harbor", "canyon", "ridge", "lagoon", "valley", "grove", "summit", "island", "garden",
	"lantern", "cottage", "orbit", "nebula", "comet", "rocket", "studio", "lounge", "porch", "balcony",
}

var snacks = []string{
	"pancake", "waffle", "sushi", "ramen", "taco", "biscuit", "muffin", "cupcake", "toffee", "cocoa",
	"dumpling", "noodle", "pretzel", "samosa", "falafel", "crumble", "brownie", "cookie", "bagel", "mochi",
}

var wordLists = [][]string{adjectives, colors, animals, places, snacks}

// roomIDWords is how many words a generated room ID has.
const roomIDWords = 4

// generateRoomID creates a random, memorable room ID such as
// "cozy-teal-otter-harbor". Words are drawn from distinct lists.
// taken reports IDs that are already in use.
func generateRoomID(taken func(string) bool) string {
	for {
		lists := pickLists(roomIDWords)
		words := make([]string, 0, roomIDWords)
		for _, list := range lists {
			words = append(words, list[randomIndex(len(list))])
		}

		id := strings.Join(words, "-")
		if !taken(id) {
			return id
		}
	}
}

// pickLists returns n distinct word lists in random order.
func pickLists(n int) [][]string {
	idx := make([]int, len(wordLists))
	for i := range idx {
		idx[i] = i
	}
	// Partial Fisher-Yates shuffle.
	for i := 0; i < n; i++ {
		j := i + randomIndex(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}

	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = wordLists[idx[i]]
	}
	return out
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic(fmt.Sprintf("failed to generate random index: %v", err))
	}
	return int(n.Int64())
}

// ValidRoomID reports whether id may be used as a room name. Browsers put it in
// the URL, so only URL-safe characters are accepted.
func ValidRoomID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
