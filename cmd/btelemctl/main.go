// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

// Command btelemctl inspects .btlm files written by persist/file: it
// decodes the embedded schema, lists packets via the footer index, and
// verifies each packet's recorded checksum.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/JoshuaSkootsky/btelem"
	"github.com/JoshuaSkootsky/btelem/persist/file"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dumpSchemaCmd := flag.NewFlagSet("dump-schema", flag.ExitOnError)
	listPacketsCmd := flag.NewFlagSet("list-packets", flag.ExitOnError)
	verifyCmd := flag.NewFlagSet("verify", flag.ExitOnError)

	var err error
	switch os.Args[1] {
	case "dump-schema":
		dumpSchemaCmd.Parse(os.Args[2:])
		err = dumpSchema(dumpSchemaCmd.Args())
	case "list-packets":
		listPacketsCmd.Parse(os.Args[2:])
		err = listPackets(listPacketsCmd.Args())
	case "verify":
		verifyCmd.Parse(os.Args[2:])
		err = verify(verifyCmd.Args())
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "btelemctl:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`btelemctl inspects .btlm files

Usage:
  btelemctl <command> <path>

Commands:
  dump-schema    Decode and print the embedded schema blob
  list-packets   Iterate packets using the footer index
  verify         Recompute each packet's checksum and confirm the footer`)
}

func requirePath(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.New("expected exactly one file path argument")
	}
	return args[0], nil
}

func dumpSchema(args []string) error {
	path, err := requirePath(args)
	if err != nil {
		return err
	}
	r, err := file.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	decoded, err := btelem.DecodeSchemaBlob(r.SchemaBlob())
	if err != nil {
		return errors.Wrap(err, "decode schema blob")
	}

	endianName := "little"
	if decoded.Endianness == btelem.BigEndian {
		endianName = "big"
	}
	fmt.Printf("endianness: %s\n", endianName)
	fmt.Printf("schemas: %d\n", len(decoded.Descriptors))
	for _, d := range decoded.Descriptors {
		fmt.Printf("  [%d] %s (payload_size=%d, fields=%d)\n", d.ID, d.Name, d.PayloadSize, len(d.Fields))
		for _, f := range d.Fields {
			fmt.Printf("      %-16s offset=%-4d size=%-4d type=%d\n", f.Name, f.Offset, f.Size, f.Type)
			if f.Enum != nil {
				fmt.Printf("        enum labels: %v\n", f.Enum.Labels)
			}
			if f.Bitfield != nil {
				for _, b := range f.Bitfield.Bits {
					fmt.Printf("        bit %-16s start=%d width=%d\n", b.Name, b.Start, b.Width)
				}
			}
		}
	}
	return nil
}

func listPackets(args []string) error {
	path, err := requirePath(args)
	if err != nil {
		return err
	}
	r, err := file.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for i, e := range r.Entries() {
		fmt.Printf("%d: offset=%d len=%d entries=%d first_ts=%d checksum=%08x\n",
			i, e.PacketOffset, e.PacketLen, e.EntryCount, e.FirstTimestamp, e.Checksum)
	}
	return nil
}

func verify(args []string) error {
	path, err := requirePath(args)
	if err != nil {
		return err
	}
	r, err := file.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	bad := 0
	for i, e := range r.Entries() {
		packet, err := r.ReadPacket(e)
		if err != nil {
			return errors.Wrapf(err, "read packet %d", i)
		}
		if !file.VerifyChecksum(e, packet) {
			fmt.Printf("packet %d: checksum MISMATCH\n", i)
			bad++
		}
	}
	if bad > 0 {
		return errors.Errorf("%d of %d packets failed checksum verification", bad, len(r.Entries()))
	}
	fmt.Printf("ok: %d packets verified\n", len(r.Entries()))
	return nil
}
