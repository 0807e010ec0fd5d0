// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/clusterkm/ckm/pkg/ckm"
)

// newBootstrapCommand initializes a brand-new key store, generating
// fresh data-encryption keys and wrapping them under the configured
// passphrase.
func newBootstrapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Initialize a new cluster key store",
		Long:  "Generates fresh data-encryption keys and commits them to the primary key store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ckm.Bootstrap(context.Background())
		},
	}
}
