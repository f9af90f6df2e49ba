package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var (
	adjectives = []string{
		"amber", "bold", "brave", "bright", "calm", "clever", "cosmic", "crisp", "daring", "dusty",
		"eager", "fancy", "fluffy", "gentle", "golden", "happy", "hidden", "jolly", "kind", "lively",
		"lucky", "mellow", "misty", "noble", "odd", "polite", "proud", "quiet", "rapid", "rusty",
		"shiny", "silent", "silly", "sleepy", "sly", "snowy", "spicy", "swift", "tidy", "tiny",
		"vivid", "warm", "wild", "witty", "young", "zesty",
	}
	nouns = []string{
		"badger", "beacon", "bison", "canyon", "cactus", "comet", "cricket", "dingo", "dolphin", "falcon",
		"ferret", "gecko", "glacier", "harbor", "heron", "island", "jackal", "koala", "lantern", "lemur",
		"lynx", "maple", "meadow", "moose", "nebula", "otter", "owl", "panda", "pebble", "penguin",
		"pepper", "quokka", "raven", "river", "salmon", "spruce", "tiger", "tulip", "turtle", "valley",
		"walrus", "willow", "wombat", "yak", "zebra",
	}
	verbs = []string{
		"bakes", "builds", "climbs", "dances", "dives", "dreams", "drifts", "flies", "floats", "glows",
		"hikes", "hums", "jumps", "juggles", "laughs", "leaps", "naps", "paints", "plays", "reads",
		"roams", "runs", "sails", "sings", "skates", "sleeps", "smiles", "spins", "swims", "talks",
		"thinks", "travels", "wanders", "waves", "whistles", "wins", "writes", "yawns",
	}
)

// GenerateName: имя вида прилагательное-существительное-глагол.
func GenerateName() (string, error) {
	parts := make([]string, 0, 3)
	for _, list := range [][]string{adjectives, nouns, verbs} {
		i, err := randomIndex(len(list))
		if err != nil {
			return "", err
		}
		parts = append(parts, list[i])
	}
	return parts[0] + "-" + parts[1] + "-" + parts[2], nil
}

func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("random index: %w", err)
	}
	return int(n.Int64()), nil
}
