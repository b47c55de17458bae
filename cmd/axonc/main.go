// Command axonc compiles an AXON source file to IR JSON.
//
// Usage:
//
//	axonc program.axon [out.json]
//
// With no output path the IR is written to stdout. Set AXON_IR_PRETTY=false
// for compact output.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/axonlang/axon"
)

// #region main
func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: axonc <program.axon> [out.json]")
	}
	sourcePath := os.Args[1]

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		log.Fatalf("read %s: %v", sourcePath, err)
	}

	program, err := axon.Compile(string(source))
	if err != nil {
		// The compile error already carries the full diagnostic batch.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var data []byte
	if envOr("AXON_IR_PRETTY", "true") == "true" {
		data, err = program.MarshalIndent()
	} else {
		data, err = program.Marshal()
	}
	if err != nil {
		log.Fatalf("marshal ir: %v", err)
	}

	if len(os.Args) > 2 {
		if err := os.WriteFile(os.Args[2], data, 0o644); err != nil {
			log.Fatalf("write %s: %v", os.Args[2], err)
		}
		fmt.Printf("compiled %s -> %s (program %s)\n", sourcePath, os.Args[2], program.ProgramID)
		return
	}
	fmt.Println(string(data))
}

// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
