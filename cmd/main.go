// Command aitrader runs the per-symbol decision pipeline against a paper or live exchange.
//
// Usage:
//
//	aitrader setup              interactive config/local.yaml wizard
//	aitrader run [--mode live]  start the pipeline and the dashboard
//	aitrader portfolio          print the stored portfolio and trade ledger
//
// Settings come from config/default.yaml, config/local.yaml, --config and TRADER_* variables.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
