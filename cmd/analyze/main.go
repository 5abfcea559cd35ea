package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

type checkStats struct {
	component string
	runs      int
	pass      int
	fail      int
	errored   int
	minMS     int64
	maxMS     int64
}

func (s *checkStats) add(r check.Result) {
	s.component = r.Component
	s.runs++
	switch r.Status {
	case check.StatusPass:
		s.pass++
	case check.StatusFail:
		s.fail++
	default:
		s.errored++
	}
	if s.runs == 1 || r.LatencyMS < s.minMS {
		s.minMS = r.LatencyMS
	}
	if r.LatencyMS > s.maxMS {
		s.maxMS = r.LatencyMS
	}
}

var latencySummary = &cobra.Command{
	Use:   "analyze [report.json ...]",
	Short: "Aggregates saved reports per check as name,component,runs,pass,fail,error,min_ms,max_ms",
	Run: func(cmd *cobra.Command, args []string) {
		component, err := cmd.Flags().GetString("component")
		if err != nil {
			log.Fatal().Err(err).Msg("parsing component flag")
		}
		if len(args) == 0 {
			args = []string{"report.json"}
		}
		byCheck := make(map[string]*checkStats)
		for _, path := range args {
			results, err := readReport(path)
			if err != nil {
				log.Fatal().Err(err).Str("report", path).Msg("reading report")
			}
			for _, r := range results {
				if component != "" && r.Component != component {
					continue
				}
				// The report rows keep the check name inside the details blob.
				name := gjson.Get(r.Details, "name").String()
				if name == "" {
					name = r.Component
				}
				s := byCheck[name]
				if s == nil {
					s = &checkStats{}
					byCheck[name] = s
				}
				s.add(r)
			}
		}
		names := make([]string, 0, len(byCheck))
		for name := range byCheck {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := byCheck[name]
			fmt.Printf("%s,%s,%d,%d,%d,%d,%d,%d\n",
				name, s.component, s.runs, s.pass, s.fail, s.errored, s.minMS, s.maxMS)
		}
	},
}

func readReport(path string) ([]check.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var results []check.Result
	if err := json.Unmarshal(b, &results); err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return results, nil
}

func init() {
	latencySummary.Flags().String("component", "", "only aggregate checks of this kind (api, db, or dns)")
}

func main() {
	if err := latencySummary.Execute(); err != nil {
		log.Fatal().Err(err).Msg("analyzing reports")
	}
}
