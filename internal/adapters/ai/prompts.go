package ai

import "fmt"

// PromptKey selects the classification task. stance_source is used
// when the linked source's editorial bias is already known; the model
// only judges alignment of commentary against that stance.
// stance_title is used when no source bias is known; the model first
// infers the stance implied by the title, then judges alignment
// against its own inference.
type PromptKey string

const (
	KeyStanceSource PromptKey = "stance_source"
	KeyStanceTitle  PromptKey = "stance_title"
)

// DefaultPromptVersion is the active prompt revision. The version is
// part of the classification cache key, so bumping it invalidates
// previously cached results.
const DefaultPromptVersion = "v1"

var promptVersions = map[string]map[PromptKey]string{
	"v1": {
		KeyStanceSource: "You are a political discussion sentiment and editorial alignment analyzer. " +
			"Determine whether the Reddit comment aggregate aligns with the editorial stance of the ORIGINAL LINKED SOURCE. " +
			"Use the provided SOURCE_BIAS as the source stance context. " +
			"Respond with strict JSON only, using keys alignment(one of aligns|opposes|mixed|unclear), " +
			"alignment_score(number -1..1), confidence(number 0..1), reasoning(brief).",
		KeyStanceTitle: "You are a political discussion sentiment and editorial alignment analyzer. " +
			"First, infer the political/editorial stance expressed by the POST TITLE. " +
			"Then, determine whether the Reddit comment aggregate aligns with that inferred stance. " +
			"Respond with strict JSON only, using keys stance_label(one of " +
			`["Extreme-Left","Left","Left-Center","Least Biased","Right-Center","Right","Extreme-Right"] or "none"), ` +
			"stance_score(number 0..10 or null), alignment(one of aligns|opposes|mixed|unclear), " +
			"alignment_score(number -1..1), confidence(number 0..1), reasoning(brief).",
	},
}

// ResolvePrompt returns the prompt text for a key and version
func ResolvePrompt(key PromptKey, version string) (string, error) {
	v, ok := promptVersions[version]
	if !ok {
		return "", fmt.Errorf("unknown prompt version: %s", version)
	}
	p, ok := v[key]
	if !ok {
		return "", fmt.Errorf("unknown prompt key: %s", key)
	}
	return p, nil
}
