package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hupe1980/globalid/topology"
)

// TopologyCmd returns the topology command.
func TopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology [file]",
		Short: "Validate a camera topology document",
		Long: `Load a topology document, report validation errors and print its zones,
cameras and transitions. Reverse transitions that were synthesized from
declared ones are marked.

Usage:
  globalidd topology site.yaml
  globalidd topology site.yaml --sample 10 --from camA --seed 1`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTopology,
	}

	cmd.Flags().Int("sample", 0, "Draw this many successor cameras (requires --from)")
	cmd.Flags().String("from", "", "Camera to sample successors of")
	cmd.Flags().Int64("seed", 0, "Random seed for --sample (0 uses the clock)")

	return cmd
}

func runTopology(cmd *cobra.Command, args []string) error {
	path := envString("TOPOLOGY_CONFIG", "")
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return errors.New("no topology file given (argument or TOPOLOGY_CONFIG)")
	}

	samples, _ := cmd.Flags().GetInt("sample")
	from, _ := cmd.Flags().GetString("from")
	seed, _ := cmd.Flags().GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	topo, err := topology.LoadFile(path, topology.WithSeed(seed))
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", color.New(color.FgRed).Sprint("INVALID"), err)
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen).Sprint("OK"), path)
	printTopology(out, topo)

	if samples > 0 {
		if from == "" {
			return errors.New("--sample requires --from")
		}
		if _, ok := topo.ZoneOf(from); !ok {
			return fmt.Errorf("unknown camera %q", from)
		}
		fmt.Fprintf(out, "\nSamples from %s:\n", from)
		for i := 0; i < samples; i++ {
			next, ok := topo.SampleNext(from)
			if !ok {
				fmt.Fprintf(out, "  %s\n", color.New(color.FgYellow).Sprint("(no outgoing transitions)"))
				break
			}
			fmt.Fprintf(out, "  %d: %s\n", i+1, next)
		}
	}
	return nil
}

func printTopology(w io.Writer, topo *topology.Topology) {
	for _, zone := range topo.Zones() {
		fmt.Fprintf(w, "\n%s\n", color.New(color.FgCyan, color.Bold).Sprint(zone))
		for _, cam := range topo.CamerasInZone(zone) {
			uri, _ := topo.URIOf(cam)
			fmt.Fprintf(w, "  %s  %s\n", cam, uri)
			for _, e := range topo.TransitionsFrom(cam) {
				marker := ""
				if e.Synthesized {
					marker = color.New(color.FgHiMagenta).Sprint(" [reverse]")
				}
				fmt.Fprintf(w, "    -> %s %.2f%s\n", e.To, e.Weight, marker)
			}
		}
	}
}
