package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/velocity"
)

func init() {
	rootCmd.AddCommand(seedSampleCmd)
}

var seedSampleCmd = &cobra.Command{
	Use:   "seed-sample",
	Short: "Load a deterministic sample dataset and rebuild its velocity profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()

		now := time.Now().UTC()
		permits, recs := buildSample(now)
		pN, err := rt.store.UpsertPermits(ctx, permits)
		if err != nil {
			return err
		}
		rN, err := rt.store.UpsertRoutingRecords(ctx, recs)
		if err != nil {
			return err
		}
		rec := velocity.NewRecomputer(rt.store, rt.cfg.CurrentWindowDays, rt.cfg.BaselineWindowDays)
		profN, err := rec.Recompute(ctx, now)
		if err != nil {
			return err
		}
		return emit(map[string]int{"permits": pN, "routingRecords": rN, "profiles": profN},
			fmt.Sprintf("Seeded %d permits, %d routing records; recomputed %d velocity profiles.", pN, rN, profN))
	},
}

var samplePaths = map[string][]string{
	"otc_alteration":   {"CPB", "ISSUED"},
	"alteration":       {"INTAKE", "BLDG", "PPC", "SFFD", "ISSUED"},
	"new_construction": {"INTAKE", "CP-ZOC", "BLDG", "SFPUC", "PPC", "ISSUED"},
}

var sampleDwells = map[string][]int{
	"otc_alteration":   {0, 0},
	"alteration":       {2, 9, 14, 6, 0},
	"new_construction": {5, 32, 21, 44, 16, 0},
}

// buildSample generates a deterministic permit mix: mostly completed runs
// spread over the past year, a handful still open mid-path, and one badly
// stuck permit for the diagnose and timeline commands to chew on.
func buildSample(now time.Time) ([]model.Permit, []model.RoutingRecord) {
	mix := []struct {
		typ string
		n   int
	}{
		{"alteration", 45},
		{"otc_alteration", 20},
		{"new_construction", 15},
	}
	hoods := []string{"Mission", "North Beach", "Pacific Heights"}
	var permits []model.Permit
	var recs []model.RoutingRecord
	seq := 0
	for _, m := range mix {
		for i := 0; i < m.n; i++ {
			seq++
			id := fmt.Sprintf("SAMPLE%06d", seq)
			filed := now.AddDate(0, 0, -(195 + (seq*5)%185))
			open := seq%9 == 0
			status := "issued"
			if open {
				status = "filed"
			}
			permits = append(permits, model.Permit{
				PermitID:     id,
				PermitType:   m.typ,
				Neighborhood: hoods[seq%len(hoods)],
				Description:  sampleDescription(m.typ),
				Status:       status,
				FiledAt:      filed,
			})

			arrive := filed
			path := samplePaths[m.typ]
			stopAt := len(path) / 2
			if stopAt == len(path)-1 {
				// Never leave a permit open at the terminal issuance station.
				stopAt--
			}
			for si, stationCode := range path {
				dwell := sampleDwells[m.typ][si] + (seq*7+si*3)%11
				rec := model.RoutingRecord{
					PermitID:     id,
					StationCode:  stationCode,
					ArriveAt:     arrive,
					ReviewResult: model.ResultApproved,
				}
				if open && si == stopAt {
					rec.ReviewResult = model.ResultInProgress
					recs = append(recs, rec)
					break
				}
				finish := arrive.Add(time.Duration(dwell) * 24 * time.Hour)
				rec.FinishAt = &finish
				if m.typ == "alteration" && stationCode == "PPC" && seq%6 == 0 {
					rec.ReviewResult = model.ResultCommentsIssued
					rec.RevisionCycle = 1 + seq%2
				}
				recs = append(recs, rec)
				arrive = finish
			}
		}
	}

	permits = append(permits, model.Permit{
		PermitID:     "SAMPLESTUCK0",
		PermitType:   "alteration",
		Neighborhood: "Mission",
		Description:  "Kitchen and bath remodel with structural work $220,000",
		Status:       "filed",
		FiledAt:      now.AddDate(0, 0, -150),
	})
	recs = append(recs, stuckFixture(now)...)
	return permits, recs
}

func stuckFixture(now time.Time) []model.RoutingRecord {
	filed := now.AddDate(0, 0, -150)
	intakeDone := filed.AddDate(0, 0, 3)
	bldgDone := filed.AddDate(0, 0, 18)
	return []model.RoutingRecord{
		{PermitID: "SAMPLESTUCK0", StationCode: "INTAKE", ArriveAt: filed, FinishAt: &intakeDone, ReviewResult: model.ResultApproved},
		{PermitID: "SAMPLESTUCK0", StationCode: "BLDG", ArriveAt: intakeDone, FinishAt: &bldgDone, ReviewResult: model.ResultCommentsIssued, RevisionCycle: 2},
		{PermitID: "SAMPLESTUCK0", StationCode: "PPC", ArriveAt: bldgDone, ReviewResult: model.ResultInProgress, RevisionCycle: 2},
	}
}

func sampleDescription(typ string) string {
	switch typ {
	case "otc_alteration":
		return "Like-for-like reroof and window replacement $35,000"
	case "new_construction":
		return "Ground-up construction of a four-unit building $1.2M"
	default:
		return "Kitchen remodel with structural upgrades $180,000"
	}
}
