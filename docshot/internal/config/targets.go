package config

// DefaultTargets returns the built-in OKX DEX API documentation pages.
func DefaultTargets() []string {
	const base = "https://www.okx.com/web3/build/docs/waas/"
	pages := []string{
		"dex-get-aggregator-supported-chains",
		"dex-get-tokens",
		"dex-get-liquidity",
		"dex-approve-transaction",
		"dex-get-quote",
		"dex-swap",
		"dex-get-supported-chains",
		"dex-crosschain-get-tokens",
		"dex-get-supported-tokens",
		"dex-get-supported-bridge-tokens-pairs",
		"dex-get-supported-bridges",
		"dex-get-route-information",
		"dex-crosschain-approve-transaction",
		"dex-crosschain-swap",
		"dex-get-transaction-status",
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = base + p
	}
	return out
}
