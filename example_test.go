// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package btelem_test

import (
	"encoding/binary"
	"fmt"

	"github.com/JoshuaSkootsky/btelem"
)

func Example() {
	ctx := btelem.NewContext(64)
	defer ctx.Close()

	ctx.Register(&btelem.Descriptor{ID: 0, Name: "tick", PayloadSize: 4})

	id, err := ctx.ConsumerOpen(btelem.AcceptAll())
	if err != nil {
		fmt.Println("open failed:", err)
		return
	}
	defer ctx.ConsumerClose(id)

	for _, v := range []uint32{10, 20, 30} {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		ctx.Log(0, b)
	}

	ctx.Drain(id, func(e *btelem.Event) int {
		fmt.Println(binary.LittleEndian.Uint32(e.Bytes()))
		return 0
	})

	// Output:
	// 10
	// 20
	// 30
}
