// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clusterkm/ckm/pkg/ckm"
)

// newStatusCommand reports whether the key store is bootstrapped,
// whether a rotation is visibly in flight, and whether this process
// has the keys loaded.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current status of the cluster key manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := ckm.Status()
			fmt.Println("--- Cluster Key Manager Status ---")
			fmt.Println("Bootstrapped:", st.Bootstrapped)
			fmt.Println("Rotation In Flight:", st.RotationInFlight)
			fmt.Println("Keys Loaded:", st.Loaded)
			return nil
		},
	}
}
