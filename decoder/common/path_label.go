package common

import "strings"

// PathLabel renders a mint path such as "SOL->USDC->RAY->SOL".
func PathLabel(provider MintMetadataProvider, mints []string) string {
	parts := make([]string, len(mints))
	for i, m := range mints {
		parts[i] = Symbol(provider, m)
	}
	return strings.Join(parts, "->")
}
