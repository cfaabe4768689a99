// Command capalloc manages a shared trading budget: it divides capital into
// risk tiers and per-strategy allocations, serves capital requests from
// worker processes, records realized P&L, and trips circuit breakers on
// excessive drawdown.
//
// Usage:
//
//	capalloc serve --config config.yaml
//	capalloc rebalance --config config.yaml
//	capalloc request --strategy pionex_btc_eth_grid --amount 2.50
//	capalloc close --strategy pionex_btc_eth_grid --position-id pos-1 --pnl -0.75
//	capalloc state
//	capalloc audit --max-age 72h
//
// The github store backend reads its token from GITHUB_TOKEN or GH_PAT.
package main

import (
	"log"
)

func main() {
	if err := execute(); err != nil {
		log.Fatal(err)
	}
}
