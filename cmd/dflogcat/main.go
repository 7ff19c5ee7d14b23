// Command dflogcat is a demo collaborator (§4.K, explicitly outside the
// core library): it opens a DataFlash log and prints every decoded
// message to stdout, followed by the reconstructed flight-mode timeline.
// It exists to exercise the Reader façade end to end, not as a supported
// tool.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ardupilot/dflog/codec"
	"github.com/ardupilot/dflog/diag"
	"github.com/ardupilot/dflog/dflog"
	"github.com/ardupilot/dflog/source"
)

func main() {
	nativeIndexer := flag.Bool("native-indexer", false, "request the native indexer accelerator (falls back to portable)")
	zeroTimeBase := flag.Bool("zero-timebase", false, "skip timebase discovery: timestamps are on-board clock deltas from zero instead of wall clock")
	quiet := flag.Bool("quiet", false, "suppress per-message output, print only the flight-mode timeline")
	onlyType := flag.String("type", "", "if set, print only messages of this type")
	limit := flag.Int("limit", 0, "stop after printing this many messages (0 = no limit)")

	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <logfile>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *nativeIndexer, *zeroTimeBase, *quiet, *onlyType, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, nativeIndexer, zeroTimeBase, quiet bool, onlyType string, limit int) error {
	src, err := source.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	r, err := dflog.Open(src,
		dflog.WithNativeIndexer(nativeIndexer),
		dflog.WithZeroTimeBase(zeroTimeBase),
		dflog.WithDiagSink(diag.NewStdSink()),
	)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer r.Close()

	if !quiet {
		printMessages(r, onlyType, limit)
	}

	fmt.Println()
	fmt.Println("=== Flight mode timeline ===")
	for _, span := range r.FlightModeList() {
		fmt.Printf("%-16s %10.3f -> %10.3f\n", span.Mode, span.Start, span.End)
	}

	if vt := r.VehicleType(); vt != "" {
		fmt.Printf("\nVehicle type: %s\n", vt)
	}

	return nil
}

func printMessages(r *dflog.Reader, onlyType string, limit int) {
	var types []string
	if onlyType != "" {
		types = []string{onlyType}
	}

	printed := 0

	for {
		msg, err := r.RecvMatch(types, nil, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)

			return
		}
		if msg == nil {
			return
		}

		printLine(msg)

		printed++
		if limit > 0 && printed >= limit {
			return
		}
	}
}

func printLine(msg *codec.Message) {
	fmt.Printf("%10.3f %-6s", msg.Timestamp, msg.Name())

	for _, col := range msg.Format.Columns {
		v, err := codec.GetField(msg, col)
		if err != nil {
			continue
		}
		fmt.Printf(" %s=%v", col, v)
	}
	fmt.Println()
}
