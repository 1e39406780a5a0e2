// Scrawl CLI - runs SYNAPSE frames through the execution engine
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/scrawlvm/scrawl/manifest"
	"github.com/scrawlvm/scrawl/pkg/audit"
	"github.com/scrawlvm/scrawl/pkg/synapse"
	"github.com/scrawlvm/scrawl/pkg/vm"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	disasm := flag.Bool("d", false, "Disassemble the frame instead of executing it")
	logTrace := flag.Bool("log", false, "Mirror trace events to the log")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: scrawl [options] frame.syn\n\n")
		fmt.Fprintf(os.Stderr, "Decodes a SYNAPSE frame and executes its instruction batch.\n")
		fmt.Fprintf(os.Stderr, "Configuration is read from scrawl.toml if one is found.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  scrawl batch.syn        # Execute a frame\n")
		fmt.Fprintf(os.Stderr, "  scrawl -d batch.syn     # Print the decoded batch\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := vm.Config{Timeout: vm.DefaultTimeout}
	var auditPath string
	if m, err := manifest.FindAndLoad("."); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else if m != nil {
		cfg = m.SessionConfig()
		auditPath = m.AuditPath()
		if *verbose {
			fmt.Printf("Loaded %s/scrawl.toml\n", m.Dir)
		}
	}

	sess, err := vm.NewSession(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	batch, header, err := synapse.DecodeFrame(raw, sess.Table())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding frame: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		fmt.Printf("Frame seq=%d flags=0x%02X, %d instructions\n", header.Seq, header.Flags, len(batch))
	}

	if *disasm {
		for pc, in := range batch {
			fmt.Printf("%4d  %s\n", pc, in)
		}
		return
	}

	if *logTrace {
		sess.AddTraceSink(vm.NewLogSink("scrawl"))
	}
	if auditPath != "" {
		store, err := audit.Open(auditPath, sess.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		sess.AddTraceSink(store)
	}

	result, err := sess.Execute(batch)
	if err != nil {
		if result != nil && result.FailedPC >= 0 {
			fmt.Fprintf(os.Stderr, "Error at pc=%d: %v\n", result.FailedPC, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	for _, v := range result.Yielded {
		fmt.Println(v)
	}
	if *verbose {
		fmt.Printf("Executed %d instructions, final state %s\n", result.Executed, sess.State())
	}
}
