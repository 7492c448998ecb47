package board

import "math/rand"

var nameAdjectives = []string{
	"Fluffy", "Whiskers", "Purrfect", "Sleepy", "Curious",
	"Sneaky", "Cozy", "Fuzzy", "Chonky", "Sassy",
	"Zoomie", "Midnight", "Shadow", "Velvet", "Silky",
	"Ginger", "Marble", "Spotted", "Stripy", "Golden",
}

var nameNouns = []string{
	"Paws", "Meowster", "Whisker", "Mittens", "Tabby",
	"Calico", "Siamese", "Ragdoll", "Munchkin", "Bengal",
	"Sphinx", "Maine", "Persian", "Tuxedo", "Tortie",
	"Neko", "Kitty", "Furball", "Purrito", "Biscuit",
}

// GenerateUsername returns a random cat-themed display name for a new visitor.
func GenerateUsername() string {
	adjective := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return adjective + " " + noun
}

// GenerateSessionName returns a random default name for a new board.
func GenerateSessionName() string {
	adjective := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return adjective + " " + noun + " Board"
}

var avatars = []string{
	"/cat-blue.svg",
	"/cat-green.svg",
	"/cat-purple.svg",
	"/cat-yellow.svg",
}

// AvatarForActor picks a stable avatar for an identifier: the same input
// always maps to the same avatar.
func AvatarForActor(identifier string) string {
	var hash int32
	for _, r := range identifier {
		hash = hash<<5 - hash + r
	}
	if hash < 0 {
		hash = -hash
	}
	return avatars[int(hash)%len(avatars)]
}
