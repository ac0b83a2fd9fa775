package handlers

import (
	"fmt"
	"math/rand"
)

// challengeCaptcha is a four digit code plus decoys. The member sees all
// options as buttons; only the bot knows which one the challenge text
// named, so scripted joins that press blindly fail three times out of
// four.
type challengeCaptcha struct {
	Answer  string
	Options []string
}

func newCaptcha() challengeCaptcha {
	const variants = 4

	options := make([]string, 0, variants)
	seen := map[string]bool{}
	for len(options) < variants {
		code := fmt.Sprintf("%04d", 1000+rand.Intn(9000))
		if seen[code] {
			continue
		}
		seen[code] = true
		options = append(options, code)
	}
	return challengeCaptcha{
		Answer:  options[rand.Intn(variants)],
		Options: options,
	}
}
