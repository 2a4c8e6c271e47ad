// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/saferwall/peemit"
	"github.com/saferwall/peemit/log"
	"github.com/spf13/cobra"
)

var (
	relocOnly bool
	logger    *log.Helper
)

func prettyPrint(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<marshal error: %s>", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "\t"); err != nil {
		return string(raw)
	}
	return out.String()
}

func dumpReloc(data []byte) {
	entries, err := peemit.ParseBaseRelocations(data)
	if err != nil {
		logger.Errorf("failed to parse .reloc: %s", err)
		return
	}
	fmt.Println(prettyPrint(entries))
}

func dump(cmd *cobra.Command, args []string) {
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		logger.Errorf("opening %s: %s", path, err)
		os.Exit(1)
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		logger.Errorf("mapping %s: %s", path, err)
		os.Exit(1)
	}
	defer data.Unmap()

	if relocOnly {
		dumpReloc(data)
		return
	}

	header, err := peemit.DeserializeCorHeader(data)
	if err != nil {
		logger.Errorf("failed to parse CLR header at offset 0: %s", err)
	} else {
		fmt.Println(prettyPrint(header))
	}
}

func main() {
	zl, err := log.NewProduction()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	logger = log.NewHelper(zl)

	var rootCmd = &cobra.Command{
		Use:   "peemit-dump",
		Short: "Inspect the .reloc/COR header output of the peemit section builder",
		Long:  "peemit-dump reads a raw .reloc byte blob (or a CorHeader blob) and prints its structure as JSON, for debugging RelocSectionEncoder and CorHeader output.",
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump <file>",
		Short: "Dump a blob produced by the section builder",
		Args:  cobra.ExactArgs(1),
		Run:   dump,
	}
	dumpCmd.Flags().BoolVarP(&relocOnly, "reloc", "", false, "parse the file as a raw .reloc byte stream")

	rootCmd.AddCommand(dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
