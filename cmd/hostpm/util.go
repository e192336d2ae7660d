package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/hostpm/hostpm/internal/process"
)

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".pypm2")
}

// nameFromScript derives a process name from a script path when --name is
// omitted: the basename with its extension stripped.
func nameFromScript(script string) string {
	base := filepath.Base(script)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// parseEnvFlags turns a repeated "--env K=V" flag slice into a map.
func parseEnvFlags(kvs []string) (map[string]string, error) {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			return nil, fmt.Errorf("invalid --env value %q, want KEY=VALUE", kv)
		}
		out[kv[:i]] = kv[i+1:]
	}
	return out, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func printTable(statuses []process.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tPID\tRESTARTS\tMEM(MB)\tCPU(%)")
	for _, st := range statuses {
		mem := "-"
		if st.MemoryMB != nil {
			mem = strconv.FormatFloat(*st.MemoryMB, 'f', 1, 64)
		}
		cpu := "-"
		if st.CPUPercent != nil {
			cpu = strconv.FormatFloat(*st.CPUPercent, 'f', 1, 64)
		}
		pid := "-"
		if st.PID > 0 {
			pid = strconv.Itoa(st.PID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", st.Name, st.State, pid, st.RestartCount, mem, cpu)
	}
}

// resolveTargets expands "all" into every registered name; otherwise
// returns a single-element slice with name.
func resolveTargets(name string, all []process.Status) []string {
	if name != "all" {
		return []string{name}
	}
	out := make([]string, 0, len(all))
	for _, st := range all {
		out = append(out, st.Name)
	}
	return out
}
