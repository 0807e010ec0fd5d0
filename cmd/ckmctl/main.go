// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Command ckmctl is the operator-facing CLI for the cluster key
// manager: bootstrap a fresh key store, rotate the active key
// material, and inspect status.
package main

import (
	"fmt"
	"os"
)

func initialize() {
	rootCmd.AddCommand(newBootstrapCommand())
	rootCmd.AddCommand(newRotateCommand())
	rootCmd.AddCommand(newStatusCommand())
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	initialize()
	execute()
}
