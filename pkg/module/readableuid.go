package module

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// readable uid adjectives/nouns are kept short and unambiguous so a
// generated module_id is easy to read aloud or paste into a terminal.
var uidAdjectives = []string{
	"amber", "brave", "calm", "dusty", "eager", "fleet", "gentle", "hardy",
	"keen", "lively", "mellow", "nimble", "opal", "plain", "quiet", "rapid",
	"sturdy", "tidy", "vivid", "wry",
}

var uidNouns = []string{
	"otter", "falcon", "harbor", "canyon", "maple", "ember", "brook", "summit",
	"meadow", "lantern", "quartz", "ridge", "willow", "cobalt", "juniper", "delta",
}

// GenerateReadableUID produces an "adjective-noun-NNNN" identifier, the Go
// analog of the bridge's generate_readable_uid utility.
func GenerateReadableUID() (string, error) {
	adj, err := randomElement(uidAdjectives)
	if err != nil {
		return "", err
	}
	noun, err := randomElement(uidNouns)
	if err != nil {
		return "", err
	}
	suffix, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", fmt.Errorf("module: generate uid suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s-%04d", adj, noun, suffix.Int64()), nil
}

func randomElement(words []string) (string, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		return "", fmt.Errorf("module: pick random word: %w", err)
	}
	return words[idx.Int64()], nil
}
