// Command vrefctl is a small operator tool for a vref Space: open it,
// vref or deref raw byte values, and bind or read named root counters.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gholt/vref"
)

type optsStruct struct {
	Dir        string `long:"dir" description:"Space directory" default:"."`
	Positional struct {
		Command string   `name:"command" description:"put|get|root-get|root-set|stats"`
		Args    []string `name:"args"`
	} `positional-args:"yes"`
}

var opts optsStruct
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	space, err := vref.Open(opts.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: open: %v\n", err)
		os.Exit(1)
	}
	defer space.Close()

	switch opts.Positional.Command {
	case "put":
		runPut(space, opts.Positional.Args)
	case "get":
		runGet(space, opts.Positional.Args)
	case "root-get":
		runRootGet(space, opts.Positional.Args)
	case "root-set":
		runRootSet(space, opts.Positional.Args)
	case "stats":
		runStats(space)
	default:
		fmt.Fprintf(os.Stderr, "vrefctl: unknown command %q\n", opts.Positional.Command)
		os.Exit(1)
	}
}

func runPut(space *vref.Space, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: vrefctl put <value>")
		os.Exit(1)
	}
	ivr, err := vref.Vref(space, vref.Bytes, []byte(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: put: %v\n", err)
		os.Exit(1)
	}
	if err := space.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: flush: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d\n", ivr.Address())
}

func runGet(space *vref.Space, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: vrefctl get <address>")
		os.Exit(1)
	}
	var addr uint64
	if _, err := fmt.Sscanf(args[0], "%d", &addr); err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: bad address %q\n", args[0])
		os.Exit(1)
	}
	v, err := vref.DerefAt(space, vref.Address(addr), vref.Bytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: get: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(v)
	fmt.Println()
}

func runRootGet(space *vref.Space, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: vrefctl root-get <name>")
		os.Exit(1)
	}
	pv, err := vref.ResolvePV(space, []byte(args[0]), vref.Int64, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: root-get: %v\n", err)
		os.Exit(1)
	}
	v, err := vref.ReadPV(pv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: root-get: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(v)
}

func runRootSet(space *vref.Space, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: vrefctl root-set <name> <int64>")
		os.Exit(1)
	}
	var n int64
	if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: bad value %q\n", args[1])
		os.Exit(1)
	}
	pv, err := vref.ResolvePV(space, []byte(args[0]), vref.Int64, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: root-set: %v\n", err)
		os.Exit(1)
	}
	err = vref.Atomically(space, true, func(tx *vref.VTx) error {
		vref.WritePVar(tx, pv, n)
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "vrefctl: root-set: %v\n", err)
		os.Exit(1)
	}
}

func runStats(space *vref.Space) {
	st := space.Stats()
	fmt.Print(st.String())
}
