package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

// Summary prints the human-readable run summary: one line per check, status
// counters, the captured errors, and where the reports were saved.
func Summary(w io.Writer, results []check.Result, savedPaths ...string) {
	fmt.Fprintln(w, "=== API Connectivity Troubleshooter ===")
	var pass, fail, errored int
	var captured []string
	for _, r := range results {
		switch r.Status {
		case check.StatusPass:
			pass++
		case check.StatusFail:
			fail++
		case check.StatusError:
			errored++
			captured = append(captured, errorLine(r))
		}
		fmt.Fprintf(w, "[%-3s] %-30s %s %d ms\n",
			strings.ToUpper(r.Component), r.Name, colorStatus(r.Status), r.LatencyMS)
	}

	failStr := strconv.Itoa(fail)
	if fail > 0 {
		failStr = color.RedString(failStr)
	}
	errStr := strconv.Itoa(errored)
	if errored > 0 {
		errStr = color.YellowString(errStr)
	}
	fmt.Fprintf(w, "\nTotal: %d, Pass: %s, Fail: %s, Error: %s\n",
		len(results), color.GreenString(strconv.Itoa(pass)), failStr, errStr)

	if len(captured) > 0 {
		fmt.Fprintln(w, "\nErrors captured:")
		for _, e := range captured {
			fmt.Fprintln(w, " -", e)
		}
	}
	if len(savedPaths) > 0 {
		fmt.Fprintf(w, "\nSaved: %s\n", strings.Join(savedPaths, " and "))
	}
}

func colorStatus(s check.Status) string {
	text := fmt.Sprintf("%-5s", strings.ToUpper(string(s)))
	switch s {
	case check.StatusPass:
		return color.GreenString(text)
	case check.StatusFail:
		return color.RedString(text)
	default:
		return color.YellowString(text)
	}
}

func errorLine(r check.Result) string {
	var d struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(r.Details), &d); err != nil || d.Error == "" {
		return r.Name
	}
	return fmt.Sprintf("%s: %s", r.Name, d.Error)
}
