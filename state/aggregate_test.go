package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStakeWeightedAggregateFallsBackToMeanBelowThreeStakes(t *testing.T) {
	samples := []weightedSample{{value: 0.2, stake: 10}, {value: 0.8, stake: 10}}
	got := stakeWeightedAggregate(samples)
	require.InDelta(t, 0.5, got, 1e-9)
}

func TestStakeWeightedAggregateUsesMedianWithThreeOrMoreStakes(t *testing.T) {
	samples := []weightedSample{
		{value: 0.1, stake: 10},
		{value: 0.5, stake: 20},
		{value: 0.9, stake: 30},
	}
	got := stakeWeightedAggregate(samples)
	require.InDelta(t, 0.9, got, 1e-9)
}

func TestStakeWeightedMedianCumulativeHalf(t *testing.T) {
	samples := []weightedSample{
		{value: 0.1, stake: 40},
		{value: 0.5, stake: 10},
		{value: 0.9, stake: 50},
	}
	got := stakeWeightedMedian(samples)
	require.InDelta(t, 0.5, got, 1e-9)
}

func TestStakeWeightedAggregateSingleSample(t *testing.T) {
	require.Equal(t, 0.42, stakeWeightedAggregate([]weightedSample{{value: 0.42, stake: 5}}))
}

func TestStakeWeightedAggregateZeroStakesFallsBackToPlainMean(t *testing.T) {
	samples := []weightedSample{{value: 0.2, stake: 0}, {value: 0.8, stake: 0}, {value: 0.5, stake: 0}}
	got := stakeWeightedAggregate(samples)
	require.InDelta(t, 0.5, got, 1e-9)
}
