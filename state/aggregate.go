package state

import (
	"sort"

	"github.com/PlatformNetwork/subnet-validator/ids"
)

// weightedSample is one (value, stake) contribution to an aggregation.
type weightedSample struct {
	value float64
	stake uint64
}

// stakeWeightedAggregate implements the Open Question resolution from
// spec.md §4.D and §9: stake-weighted median over all contributing votes,
// falling back to stake-weighted mean when fewer than three distinct
// stake values have voted. Used identically by per-submission score
// aggregation and final weight-vector aggregation so the rule is pinned
// down in exactly one place.
func stakeWeightedAggregate(samples []weightedSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) == 1 {
		return samples[0].value
	}

	distinctStakes := make(map[uint64]struct{}, len(samples))
	for _, s := range samples {
		distinctStakes[s.stake] = struct{}{}
	}
	if len(distinctStakes) < 3 {
		return stakeWeightedMean(samples)
	}
	return stakeWeightedMedian(samples)
}

func stakeWeightedMean(samples []weightedSample) float64 {
	var totalWeight, weightedSum float64
	for _, s := range samples {
		w := float64(s.stake)
		weightedSum += w * s.value
		totalWeight += w
	}
	if totalWeight == 0 {
		// All-zero stake: fall back to an unweighted mean so the result
		// stays defined.
		var sum float64
		for _, s := range samples {
			sum += s.value
		}
		return sum / float64(len(samples))
	}
	return weightedSum / totalWeight
}

// stakeWeightedMedian is the value at which cumulative stake first reaches
// half of the total stake, over samples sorted by value.
func stakeWeightedMedian(samples []weightedSample) float64 {
	sorted := make([]weightedSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].value < sorted[j].value })

	var totalWeight float64
	for _, s := range sorted {
		totalWeight += float64(s.stake)
	}
	if totalWeight == 0 {
		return stakeWeightedMean(samples)
	}

	half := totalWeight / 2
	var cumulative float64
	for _, s := range sorted {
		cumulative += float64(s.stake)
		if cumulative >= half {
			return s.value
		}
	}
	return sorted[len(sorted)-1].value
}

// aggregateEvaluations computes the stake-weighted aggregate score across
// all votes cast for an EvaluationRecord.
func aggregateEvaluations(rec *EvaluationRecord) float64 {
	samples := make([]weightedSample, 0, len(rec.Evaluations))
	for _, vote := range rec.Evaluations {
		samples = append(samples, weightedSample{value: vote.Score, stake: vote.Stake})
	}
	return stakeWeightedAggregate(samples)
}

// aggregateWeightVotes computes the final per-uid weight vector by applying
// stakeWeightedAggregate independently to each uid's votes across all
// participating validators.
func aggregateWeightVotes(wv *WeightVoteState, stakeOf func(ids.Hotkey) uint64) map[uint16]float64 {
	byUID := make(map[uint16][]weightedSample)
	for validator, vote := range wv.Votes {
		stake := stakeOf(validator)
		for uid, weight := range vote.Weights {
			byUID[uid] = append(byUID[uid], weightedSample{value: weight, stake: stake})
		}
	}

	final := make(map[uint16]float64, len(byUID))
	for uid, samples := range byUID {
		final[uid] = stakeWeightedAggregate(samples)
	}
	return final
}
