package analyze

import (
	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
)

// DetermineStrategy picks the extraction strategy for a table. It is a pure
// function of its arguments so strategy assignment is reproducible and
// testable in isolation.
//
// Decision table:
//   - no validated incremental columns          -> full_table
//   - category large                            -> incremental_chunked
//   - category medium or small                  -> incremental
//   - category tiny: incremental only when the primary incremental column is
//     on the trusted allow-list; otherwise full_table. A tiny table reloads
//     in milliseconds, so the correctness of a full refresh beats incremental
//     bookkeeping unless the tracking column is known reliable.
func DetermineStrategy(incrementalColumns []string, primary string, category Category, trusted []string) contract.Strategy {
	if len(incrementalColumns) == 0 {
		return contract.StrategyFullTable
	}

	switch category {
	case CategoryLarge:
		return contract.StrategyIncrementalChunked
	case CategoryMedium, CategorySmall:
		return contract.StrategyIncremental
	default:
		for _, t := range trusted {
			if primary == t {
				return contract.StrategyIncremental
			}
		}
		return contract.StrategyFullTable
	}
}
