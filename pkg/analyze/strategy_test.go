package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BenjaminRains/dbt-dental-clinic-sub005/pkg/contract"
)

func TestDetermineStrategy(t *testing.T) {
	trusted := []string{"DateTStamp", "SecDateTEdit"}
	cols := []string{"DateTStamp", "DateEntry"}

	tests := []struct {
		name     string
		columns  []string
		primary  string
		category Category
		want     contract.Strategy
	}{
		{"no incremental columns falls back to full table", nil, "", CategoryLarge, contract.StrategyFullTable},
		{"empty slice treated like nil", []string{}, "", CategoryMedium, contract.StrategyFullTable},
		{"large table chunks", cols, "DateTStamp", CategoryLarge, contract.StrategyIncrementalChunked},
		{"medium table incremental", cols, "DateTStamp", CategoryMedium, contract.StrategyIncremental},
		{"small table incremental", cols, "DateTStamp", CategorySmall, contract.StrategyIncremental},
		{"tiny table with trusted primary stays incremental", cols, "DateTStamp", CategoryTiny, contract.StrategyIncremental},
		{"tiny table with untrusted primary reloads fully", []string{"DateEntry"}, "DateEntry", CategoryTiny, contract.StrategyFullTable},
		{"tiny table with no primary reloads fully", []string{"DateEntry"}, "", CategoryTiny, contract.StrategyFullTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineStrategy(tt.columns, tt.primary, tt.category, trusted)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetermineStrategyIsDeterministic(t *testing.T) {
	cols := []string{"SecDateTEdit", "DateTStamp"}
	first := DetermineStrategy(cols, "SecDateTEdit", CategoryMedium, []string{"DateTStamp"})
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, DetermineStrategy(cols, "SecDateTEdit", CategoryMedium, []string{"DateTStamp"}))
	}
}
