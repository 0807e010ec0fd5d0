// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"
)

const appName = "ckmctl"

// rootCmd is the root command for the cluster key manager operator CLI.
// It performs no action itself; subcommands are registered in main.go.
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: appName + " - operate the cluster key manager",
	Long:  appName + ` drives bootstrap, rotation, and status checks for the cluster key manager.`,
}
