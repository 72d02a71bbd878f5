// Package receiptscan suggests the paid amount on an uploaded receipt
// image. The suggestion is advisory for the human verifier; no workflow
// transition ever depends on it.
package receiptscan

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
	"github.com/shopspring/decimal"
)

// ExtractAmount runs Tesseract over preprocessed variants of the image at
// path and returns the best amount candidate with a rough confidence
// (share of variants agreeing). Returns ErrNoAmount when nothing
// plausible is found.
func ExtractAmount(path string) (decimal.Decimal, float64, error) {
	variants, err := renderVariants(path)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("preprocess %s: %w", path, err)
	}

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetLanguage("eng"); err != nil {
		return decimal.Zero, 0, fmt.Errorf("set ocr language: %w", err)
	}

	votes := map[string]int{}
	for _, img := range variants {
		if err := client.SetImageFromBytes(img); err != nil {
			continue
		}
		text, err := client.Text()
		if err != nil {
			continue
		}
		counted := map[string]bool{}
		for _, cand := range FindCandidates(text) {
			amt, err := ParseAmount(cand)
			if err != nil || !amt.IsPositive() || !plausible(amt) {
				continue
			}
			key := amt.String()
			if !counted[key] { // one vote per variant per amount
				counted[key] = true
				votes[key]++
			}
		}
	}
	if len(votes) == 0 {
		return decimal.Zero, 0, ErrNoAmount
	}

	best := decimal.Zero
	bestVotes := 0
	for key, n := range votes {
		amt, _ := decimal.NewFromString(key)
		if n > bestVotes || (n == bestVotes && amt.GreaterThan(best)) {
			best = amt
			bestVotes = n
		}
	}
	return best, float64(bestVotes) / float64(len(variants)), nil
}

// plausible filters OCR noise: single digits and absurdly large numbers
// are never real receipt totals.
func plausible(amt decimal.Decimal) bool {
	return amt.GreaterThanOrEqual(decimal.NewFromInt(100)) &&
		amt.LessThan(decimal.NewFromInt(1_000_000_000))
}
