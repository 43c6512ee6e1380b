/*
allocator.go - Worker remuneration allocation

PURPOSE:
  Splits a facility's evaluated performance across its staff. Every worker
  is classified into exactly one payout model:

  individual_lead:
    - Receives the full facility incentive total, unscaled.
    - Listed, but not added to the worker total (the facility total already
      contains it).

  team_pooled:
    - Never itemized. Their share is embedded in the facility total.

  performance_proportional:
    - Receives allocated base × facility achievement % / 100.
    - Summed into the worker total.

  Facility types listed as team-based emit no worker rows at all.

TOTALS:
  worker total = Σ performance_proportional amounts
  grand total  = indicator incentive total + worker total

SEE ALSO:
  - aggregator.go: produces FacilityPerformance
  - records.go: persists the allocation in the snapshot
*/
package engine

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Allocation is the worker split for one facility/month.
type Allocation struct {
	Workers     []WorkerRemuneration
	WorkerTotal decimal.Decimal
	GrandTotal  decimal.Decimal
	Achievement float64
	Issues      []WorkerConfigError
}

type Allocator struct {
	program ProgramConfig
}

func NewAllocator(program ProgramConfig) *Allocator {
	return &Allocator{program: program}
}

// RoleOf classifies a worker: explicit role, then designation mapping, then
// the program default.
func (al *Allocator) RoleOf(w Worker) RoleType {
	if w.Role.Valid() {
		return w.Role
	}
	if role, ok := al.program.RoleMapping[strings.ToLower(strings.TrimSpace(w.Designation))]; ok && role.Valid() {
		return role
	}
	if al.program.DefaultRole.Valid() {
		return al.program.DefaultRole
	}
	return RolePerformanceProportional
}

// Allocate splits the facility result across workers.
func (al *Allocator) Allocate(fp FacilityPerformance, workers []Worker) Allocation {
	achievement := fp.Achievement()
	out := Allocation{
		Workers:     []WorkerRemuneration{},
		WorkerTotal: decimal.Zero,
		Achievement: achievement,
		Issues:      al.ValidateWorkers(fp.Facility, workers),
	}

	if !al.program.IsTeamBased(fp.Facility.Type) {
		for _, w := range workers {
			role := al.RoleOf(w)
			row := WorkerRemuneration{
				WorkerID:      w.ID,
				Name:          w.Name,
				Designation:   w.Designation,
				Role:          role,
				AllocatedBase: w.AllocatedBase,
				Achievement:   achievement,
			}
			switch role {
			case RoleTeamPooled:
				continue
			case RoleIndividualLead:
				row.Amount = fp.IndicatorTotal
			case RolePerformanceProportional:
				row.Amount = percentOf(w.AllocatedBase, achievement)
				out.WorkerTotal = out.WorkerTotal.Add(row.Amount)
			}
			out.Workers = append(out.Workers, row)
		}
		sortWorkers(out.Workers)
	}

	out.GrandTotal = fp.IndicatorTotal.Add(out.WorkerTotal)
	return out
}

var roleRank = map[RoleType]int{
	RoleIndividualLead:          0,
	RolePerformanceProportional: 1,
	RoleTeamPooled:              2,
}

func sortWorkers(rows []WorkerRemuneration) {
	sort.SliceStable(rows, func(i, j int) bool {
		if roleRank[rows[i].Role] != roleRank[rows[j].Role] {
			return roleRank[rows[i].Role] < roleRank[rows[j].Role]
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		return rows[i].WorkerID < rows[j].WorkerID
	})
}

// =============================================================================
// WORKER CONFIGURATION VALIDATION
// =============================================================================

// ValidateWorkers checks the registry against the rule for the facility type.
// All violations are returned; none of them stop the allocation.
func (al *Allocator) ValidateWorkers(f Facility, workers []Worker) []WorkerConfigError {
	rule, ok := al.program.WorkerRules[f.Type]
	if !ok {
		return nil
	}

	var issues []WorkerConfigError
	present := make(map[RoleType]bool)
	for _, w := range workers {
		present[al.RoleOf(w)] = true
	}
	for _, role := range rule.RequiredRoles {
		if !present[role] {
			issues = append(issues, WorkerConfigError{
				FacilityID:   f.ID,
				FacilityType: f.Type,
				Issue:        WorkerIssueMissingRole,
				Role:         role,
				Count:        len(workers),
			})
		}
	}
	n := len(workers)
	if n < rule.MinWorkers || (rule.MaxWorkers > 0 && n > rule.MaxWorkers) {
		issues = append(issues, WorkerConfigError{
			FacilityID:   f.ID,
			FacilityType: f.Type,
			Issue:        WorkerIssueCount,
			Count:        n,
			Min:          rule.MinWorkers,
			Max:          rule.MaxWorkers,
		})
	}
	return issues
}
