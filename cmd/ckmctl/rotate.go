// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/clusterkm/ckm/pkg/ckm"
)

// newRotateCommand re-wraps the cluster's existing data-encryption keys
// under a freshly derived key-encryption key and atomically commits the
// result in place of the current generation.
func newRotateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the cluster's key-encryption key",
		Long:  "Re-wraps the cluster's existing data-encryption keys under a freshly derived key-encryption key and atomically swaps the result into the primary key store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			// Rotate re-wraps the DEKs already held in the shared cache,
			// so a freshly started ckmctl process must load them first.
			if err := ckm.Startup(ctx); err != nil {
				return err
			}
			return ckm.Rotate(ctx)
		},
	}
}
