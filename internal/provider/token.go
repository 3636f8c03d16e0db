package provider

// EstimateTokens approximates the token count of text with a CJK-aware
// heuristic: CJK characters cost ~1 token each, English words ~1.3, and
// everything else (spaces, digits, punctuation) ~0.3 per character.
func EstimateTokens(text string) int {
	var total, cjk, letters, words int
	inWord := false
	for _, r := range text {
		total++
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			letters++
			if !inWord {
				words++
				inWord = true
			}
		default:
			inWord = false
		}
	}

	other := total - cjk - letters
	est := int(float64(cjk) + float64(words)*1.3 + float64(other)*0.3)
	if est < 1 {
		est = 1
	}
	return est
}

// isCJK reports whether r is a Chinese, Japanese kana or Korean character.
func isCJK(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) ||
		(r >= 0x3040 && r <= 0x30ff) ||
		(r >= 0xac00 && r <= 0xd7ff)
}
