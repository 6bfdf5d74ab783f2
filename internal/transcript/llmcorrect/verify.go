package llmcorrect

import (
	"strings"
	"unicode"
)

// anchor pairs the index of a token in the original sequence with the index
// of the identical token in the proposed sequence.
type anchor struct{ orig, prop int }

// lcsAnchors returns the anchors of a longest common token subsequence of a
// and b, in order. Transcripts are a sentence or two, so the quadratic table
// is fine.
func lcsAnchors(a, b []string) []anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else {
				dp[i][j] = max(dp[i+1][j], dp[i][j+1])
			}
		}
	}

	out := make([]anchor, 0, dp[0][0])
	for i, j := 0, 0; i < m && j < n; {
		switch {
		case a[i] == b[j]:
			out = append(out, anchor{i, j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return out
}

// key normalises a span for comparison: lower case, outer punctuation
// removed.
func key(s string) string {
	return strings.ToLower(strings.TrimFunc(strings.TrimSpace(s), unicode.IsPunct))
}

// containsWords reports whether span occurs in phrase on word boundaries.
func containsWords(phrase, span string) bool {
	if span == "" {
		return false
	}
	return strings.Contains(" "+phrase+" ", " "+span+" ")
}

// verify rebuilds the proposed text from original. A differing span is
// accepted only when it lies within a declared substitution whose
// replacement is a vocabulary term; the token diff may split off words the
// two sides share, so containment rather than equality is checked. It returns
// the rebuilt text and the accepted corrections.
func verify(original, proposed string, declared []Correction, vocabulary []string) (string, []Correction) {
	if original == proposed {
		return original, nil
	}

	terms := make(map[string]struct{}, len(vocabulary))
	for _, v := range vocabulary {
		terms[key(v)] = struct{}{}
	}
	var candidates []Correction
	for _, c := range declared {
		if _, ok := terms[key(c.Corrected)]; ok {
			candidates = append(candidates, c)
		}
	}

	orig := strings.Fields(original)
	prop := strings.Fields(proposed)
	anchors := append(lcsAnchors(orig, prop), anchor{len(orig), len(prop)})

	var (
		out      []string
		accepted []Correction
		used     = make(map[int]bool)
		oi, pi   int
	)
	for _, a := range anchors {
		if oi < a.orig || pi < a.prop {
			from, to := orig[oi:a.orig], prop[pi:a.prop]
			fk, tk := key(strings.Join(from, " ")), key(strings.Join(to, " "))
			idx := -1
			for i, c := range candidates {
				if containsWords(key(c.Original), fk) && containsWords(key(c.Corrected), tk) {
					idx = i
					break
				}
			}
			if idx >= 0 {
				out = append(out, to...)
				if !used[idx] {
					used[idx] = true
					accepted = append(accepted, candidates[idx])
				}
			} else {
				out = append(out, from...)
			}
		}
		if a.orig < len(orig) {
			out = append(out, orig[a.orig])
		}
		oi, pi = a.orig+1, a.prop+1
	}
	return strings.Join(out, " "), accepted
}
