package ocr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	matchPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:jumlah(?:\s+transfer)?|total(?:\s+bayar)?|total pembayaran|transfer)[:\s]*(?:Rp|IDR)?[\s]*([0-9\.,]+)`),
		regexp.MustCompile(`(?i)Rp[\s]*([0-9\.,]+)`),
		regexp.MustCompile(`(?i)IDR[\s]*([0-9\.,]+)`),
		regexp.MustCompile(`([0-9]{1,3}(?:[.,][0-9]{3})+)`),
		regexp.MustCompile(`([0-9]{5,})`),
	}
	centsRE      = regexp.MustCompile(`[.,]\d{2}$`)
	currencyRE   = regexp.MustCompile(`rp\s*([0-9]{1,3}(?:[.,][0-9]{3})+|[0-9]{5,9})`)
	flexibleRE   = regexp.MustCompile(`rp\s*([0-9\s.,]{5,15})`)
	zeroBlockRE  = regexp.MustCompile(`rp\s*([1-9])([0\s.,]{3,8})`)
	standaloneRE = regexp.MustCompile(`(?:^|\s)([1-9])([0\s.,idrl]{4,12})(?:\s|$)`)
	ribuRE       = regexp.MustCompile(`(?i)\b([1-9][0-9]{0,3})\s*[,.:;-]?\s*ribu\b`)

	ocrDigitFixer = strings.NewReplacer("o", "0", "d", "0", "s", "5")
)

// findCandidates collects amount-like substrings of text. Matches whose
// context carried Rp or IDR keep an "Rp" prefix so scoring favors them.
func findCandidates(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, re := range matchPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			s := strings.TrimSpace(m[1])
			if s == "" {
				continue
			}
			if hasCurrency(m[0]) && !hasCurrency(s) {
				s = "Rp" + s
			}
			if seen[s] {
				continue
			}
			seen[s] = true
			if isPlausibleAmount(s) {
				out = append(out, s)
			}
		}
	}
	return out
}

// isPlausibleAmount rejects phone numbers, reference numbers and ids: long
// digit runs, leading zeros and irregular mid-size values.
func isPlausibleAmount(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if hasCurrency(s) {
		return true
	}
	d := onlyDigits(s)
	if strings.ContainsAny(s, ".,") {
		return len(d) >= 3 && d[0] != '0'
	}
	switch {
	case len(d) < 2, len(d) > 7, d[0] == '0':
		return false
	case len(d) >= 5:
		return strings.HasSuffix(d, "000") || strings.HasSuffix(d, "500")
	}
	return true
}

// ParseAmount converts a matched substring to whole currency units. A
// trailing two-digit fraction ("10.000,00", "7,500.00") is dropped.
func ParseAmount(found string) (int64, error) {
	s := strings.TrimSpace(found)
	if s == "" {
		return 0, fmt.Errorf("empty match")
	}
	if centsRE.MatchString(s) {
		if i := strings.LastIndexAny(s, ".,"); i > 0 {
			s = s[:i]
		}
	}
	digits := onlyDigits(s)
	if digits == "" {
		return 0, fmt.Errorf("no digits in %q", found)
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", digits, err)
	}
	return n, nil
}

func score(raw string) int {
	s := 0
	low := strings.ToLower(raw)
	if hasCurrency(raw) {
		s += 10
	}
	if strings.Contains(low, "total") {
		s += 8
	}
	if strings.ContainsAny(raw, ".,") {
		s += 5
	}
	if strings.HasSuffix(raw, ",00") || strings.HasSuffix(raw, ".00") {
		s += 3
	}
	if len(onlyDigits(raw)) >= 4 {
		s++
	}
	return s
}

// BestAmount picks the highest scoring candidate. Ties go to the larger
// amount, then the longer match, then the lexically smaller one.
func BestAmount(matches []string) (int64, string, bool) {
	var (
		bestAmt   int64
		bestRaw   string
		bestScore = -1
	)
	for _, m := range matches {
		amt, err := ParseAmount(m)
		if err != nil || amt <= 0 {
			continue
		}
		sc := score(m)
		better := sc > bestScore
		if sc == bestScore {
			switch {
			case amt != bestAmt:
				better = amt > bestAmt
			case len(m) != len(bestRaw):
				better = len(m) > len(bestRaw)
			default:
				better = m < bestRaw
			}
		}
		if better {
			bestAmt, bestRaw, bestScore = amt, m, sc
		}
	}
	return bestAmt, bestRaw, bestScore >= 0
}

// scanCurrencyNumbers returns every Rp amount in text, normalized to
// "Rp" plus dot-grouped digits.
func scanCurrencyNumbers(text string) []string {
	low := ocrDigitFixer.Replace(strings.ToLower(text))
	var out []string
	for _, m := range currencyRE.FindAllStringSubmatch(low, -1) {
		if n, raw := toAmount(onlyDigits(m[1]), 1, 9); n > 0 {
			out = appendUnique(out, raw)
		}
	}
	return out
}

// fuzzyCurrency rebuilds the first Rp amount allowing common OCR confusions.
func fuzzyCurrency(text string) (int64, string) {
	low := strings.ToLower(text)
	i := strings.Index(low, "rp")
	if i < 0 {
		return 0, ""
	}
	window := low[i:]
	if len(window) > 120 {
		window = window[:120]
	}
	m := currencyRE.FindStringSubmatch(ocrDigitFixer.Replace(window))
	if m == nil {
		return 0, ""
	}
	return toAmount(onlyDigits(m[1]), 3, 9)
}

// flexibleCurrency handles digits split by spaces, e.g. "Rp6 0 0 . 0 0 0".
func flexibleCurrency(text string) string {
	m := flexibleRE.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return ""
	}
	_, raw := toAmount(onlyDigits(m[1]), 5, 9)
	return raw
}

// zeroBlockAfterMarker infers "Rp6 000 00" as 600000: one leading digit and
// at least three zeros.
func zeroBlockAfterMarker(text string) string {
	low := strings.ToLower(text)
	i := strings.Index(low, "rp")
	if i < 0 {
		return ""
	}
	window := low[i:]
	if len(window) > 80 {
		window = window[:80]
	}
	m := zeroBlockRE.FindStringSubmatch(window)
	if m == nil {
		return ""
	}
	zeros := strings.Count(m[2], "0")
	if zeros < 3 {
		return ""
	}
	_, raw := toAmount(m[1]+strings.Repeat("0", min(zeros, 6)), 1, 9)
	return raw
}

// standaloneZeroBlock is the last resort when the currency marker was lost:
// a lone digit followed by four to six zeros.
func standaloneZeroBlock(text string) (int64, string) {
	var best int64
	var bestRaw string
	for _, m := range standaloneRE.FindAllStringSubmatch(strings.ToLower(text), -1) {
		zeros := strings.Count(m[2], "0")
		if zeros < 4 {
			continue
		}
		if n, raw := toAmount(m[1]+strings.Repeat("0", min(zeros, 6)), 1, 7); n > best {
			best, bestRaw = n, raw+"?"
		}
	}
	return best, bestRaw
}

// ribu reads "400 ribu" as 400000.
func ribu(text string) (int64, string) {
	m := ribuRE.FindStringSubmatch(text)
	if m == nil {
		return 0, ""
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, ""
	}
	return n * 1000, m[0]
}

func toAmount(digits string, minLen, maxLen int) (int64, string) {
	if len(digits) < minLen || len(digits) > maxLen {
		return 0, ""
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, ""
	}
	return n, "Rp" + groupDigits(digits)
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// groupDigits inserts a dot every three digits from the right.
func groupDigits(ds string) string {
	if len(ds) <= 3 {
		return ds
	}
	head := len(ds) % 3
	var b strings.Builder
	b.WriteString(ds[:head])
	for i := head; i < len(ds); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(ds[i : i+3])
	}
	return b.String()
}
