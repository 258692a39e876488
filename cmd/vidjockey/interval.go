package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/progrium/vidjockey/tempo"
	"tractor.dev/toolkit-go/engine/cli"
)

func intervalCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "interval <bpm> [note-length]",
		Short: "print beat intervals for a tempo",
		Args:  cli.MinArgs(1),
		Run: func(ctx *cli.Context, args []string) {
			bpm, err := tempo.ParseBPM(args[0])
			if err != nil {
				log.Fatal(err)
			}
			notes := tempo.NoteLengths()
			if len(args) > 1 {
				n, err := tempo.ParseNoteLength(args[1])
				if err != nil {
					log.Fatal(err)
				}
				notes = []tempo.NoteLength{n}
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, n := range notes {
				fmt.Fprintf(w, "%s\t%d ms\n", n.Label(), tempo.IntervalMs(bpm, n.Multiplier()))
			}
			fmt.Fprintf(w, "sub-beat\t%d ms\n", tempo.SubBeatMs(bpm))
			w.Flush()
		},
	}
	return cmd
}
