package recommender

import (
	"fmt"
	"math"
	"sort"

	"github.com/opscart/infra-cost-optimizer/pkg/models"
	"github.com/opscart/infra-cost-optimizer/pkg/pricing"
)

// Candidate pairs a running server with its 30-day usage. Servers without
// an aggregate never become candidates: no data means no recommendation.
type Candidate struct {
	Server     *models.Server
	Usage      *models.UsageAggregate
	DiskUsedGB float64
}

// committedMemoryGB is the memory a smaller type must still provide,
// derived from the 30-day peak.
func (c *Candidate) committedMemoryGB() float64 {
	return c.Usage.PeakMemory / 100 * c.Server.MemoryGB
}

// rightSizeIdle suggests moving each idle server to the smallest type that
// still covers its committed memory and used disk. One recommendation per
// server.
func rightSizeIdle(candidates []*Candidate, catalog *pricing.Catalog, claimed map[string]bool) []*models.Recommendation {
	var recs []*models.Recommendation

	for _, c := range candidates {
		if claimed[c.Server.ID] || c.Usage.Tier != models.TierIdle {
			continue
		}

		target, ok := catalog.SmallestFor(c.committedMemoryGB(), int(math.Ceil(c.DiskUsedGB)))
		if !ok || target.Name == c.Server.ServerType {
			continue
		}
		savings := c.Server.MonthlyCost - target.MonthlyEUR
		if savings <= 0 {
			continue
		}

		confidence := models.ConfidenceHigh
		if c.Usage.AvgMemory >= 30 {
			confidence = models.ConfidenceMedium
		}

		claimed[c.Server.ID] = true
		recs = append(recs, &models.Recommendation{
			GroupName:        c.Server.Name,
			ServerIDs:        []string{c.Server.ID},
			TargetServerType: target.Name,
			CurrentCost:      c.Server.MonthlyCost,
			ProjectedCost:    target.MonthlyEUR,
			MonthlySavings:   savings,
			Confidence:       confidence,
			Rationale: fmt.Sprintf(
				"Idle for 30 days (avg CPU %.1f%%, peak %.1f%%). Smallest type covering %.1f GB committed memory and %.0f GB used disk is %s.",
				c.Usage.AvgCPU, c.Usage.PeakCPU, c.committedMemoryGB(), c.DiskUsedGB, target.Name),
		})
	}

	return recs
}

// consolidateNonProd suggests merging each non-production group of two or
// more replicas onto one machine sized for the group's combined cores and
// memory. There is no utilization gate: sizing for the summed capacity and
// the positive-savings filter already bound the rule.
func consolidateNonProd(candidates []*Candidate, catalog *pricing.Catalog, claimed map[string]bool) []*models.Recommendation {
	groups := map[string][]*Candidate{}
	for _, c := range candidates {
		if claimed[c.Server.ID] || !IsNonProduction(c.Server) {
			continue
		}
		key := NormalizeGroupKey(c.Server.Name)
		groups[key] = append(groups[key], c)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var recs []*models.Recommendation
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			continue
		}

		var cores int
		var memoryGB, currentCost float64
		ids := make([]string, 0, len(members))
		for _, c := range members {
			cores += c.Server.Cores
			memoryGB += c.Server.MemoryGB
			currentCost += c.Server.MonthlyCost
			ids = append(ids, c.Server.ID)
		}

		target, ok := catalog.CheapestFor(cores, memoryGB)
		if !ok {
			continue
		}
		savings := currentCost - target.MonthlyEUR
		if savings <= 0 {
			continue
		}

		for _, c := range members {
			claimed[c.Server.ID] = true
		}
		recs = append(recs, &models.Recommendation{
			GroupName:        key,
			ServerIDs:        ids,
			TargetServerType: target.Name,
			CurrentCost:      currentCost,
			ProjectedCost:    target.MonthlyEUR,
			MonthlySavings:   savings,
			Confidence:       models.ConfidenceMedium,
			Rationale: fmt.Sprintf(
				"%d non-production replicas can consolidate onto one %s (%d cores, %.0f GB memory combined).",
				len(members), target.Name, cores, memoryGB),
		})
	}

	return recs
}

// downgradeLowPeak suggests stepping each server whose 30-day peak CPU
// stayed under 30% down to the next smaller type in the same family,
// provided peak memory still fits.
func downgradeLowPeak(candidates []*Candidate, catalog *pricing.Catalog, claimed map[string]bool) []*models.Recommendation {
	var recs []*models.Recommendation

	for _, c := range candidates {
		if claimed[c.Server.ID] || c.Usage.PeakCPU >= 30 {
			continue
		}

		target, ok := catalog.NextSmaller(c.Server.ServerType)
		if !ok {
			continue
		}
		if target.MemoryGB < c.committedMemoryGB() {
			continue
		}
		savings := c.Server.MonthlyCost - target.MonthlyEUR
		if savings <= 0 {
			continue
		}

		confidence := models.ConfidenceLow
		if c.Usage.PeakMemory < 30 {
			confidence = models.ConfidenceMedium
		}

		claimed[c.Server.ID] = true
		recs = append(recs, &models.Recommendation{
			GroupName:        c.Server.Name,
			ServerIDs:        []string{c.Server.ID},
			TargetServerType: target.Name,
			CurrentCost:      c.Server.MonthlyCost,
			ProjectedCost:    target.MonthlyEUR,
			MonthlySavings:   savings,
			Confidence:       confidence,
			Rationale: fmt.Sprintf(
				"Peak CPU stayed at %.1f%% over 30 days (peak memory %.1f%%). Next smaller type in the %s family is %s.",
				c.Usage.PeakCPU, c.Usage.PeakMemory, target.Family, target.Name),
		})
	}

	return recs
}
