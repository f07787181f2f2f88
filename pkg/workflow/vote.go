package workflow

import (
	"sort"
	"strings"

	"github.com/codeready-toolchain/quorum/pkg/providers"
)

// voteKeywords anchor the search for the voted-for agent.
var voteKeywords = []string{"vote", "choose", "select", "prefer", "pick"}

// voteWindow is how far past a keyword a candidate mention still counts.
const voteWindow = 50

// ExtractVote finds which candidate a voter's response endorses. Self-votes
// are excluded. The first candidate identifier within voteWindow characters
// after a vote keyword wins; failing that, the first-mentioned other
// candidate anywhere in the text. The boolean is false when no other
// candidate is mentioned at all.
func ExtractVote(text string, voter providers.Provider, candidates []providers.Provider) (providers.Provider, bool) {
	lower := strings.ToLower(text)

	others := make([]providers.Provider, 0, len(candidates))
	for _, c := range candidates {
		if c != voter {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return "", false
	}

	// Keyword anchors are processed in text order, earliest first.
	for _, start := range keywordAnchors(lower) {
		end := start + voteWindow
		if end > len(lower) {
			end = len(lower)
		}
		window := lower[start:end]

		best := -1
		var bestCandidate providers.Provider
		for _, c := range others {
			pos := strings.Index(window, string(c))
			if pos < 0 {
				continue
			}
			if best < 0 || pos < best {
				best = pos
				bestCandidate = c
			}
		}
		if best >= 0 {
			return bestCandidate, true
		}
	}

	// Fallback: first-mentioned other candidate.
	best := -1
	var bestCandidate providers.Provider
	for _, c := range others {
		pos := strings.Index(lower, string(c))
		if pos < 0 {
			continue
		}
		if best < 0 || pos < best {
			best = pos
			bestCandidate = c
		}
	}
	if best >= 0 {
		return bestCandidate, true
	}
	return "", false
}

// keywordAnchors returns the position just past every vote-keyword
// occurrence, sorted ascending.
func keywordAnchors(lower string) []int {
	var anchors []int
	for _, kw := range voteKeywords {
		from := 0
		for {
			idx := strings.Index(lower[from:], kw)
			if idx < 0 {
				break
			}
			anchors = append(anchors, from+idx+len(kw))
			from += idx + len(kw)
		}
	}
	sort.Ints(anchors)
	return anchors
}

// TallyVotes counts extracted votes and returns the winner. Ties break by
// provider enumeration order.
func TallyVotes(votes map[providers.Provider]providers.Provider) (providers.Provider, bool) {
	if len(votes) == 0 {
		return "", false
	}
	counts := make(map[providers.Provider]int)
	for _, votedFor := range votes {
		counts[votedFor]++
	}
	var winner providers.Provider
	bestCount := 0
	for _, p := range providers.All() {
		if counts[p] > bestCount {
			winner = p
			bestCount = counts[p]
		}
	}
	return winner, bestCount > 0
}
