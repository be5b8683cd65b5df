package main

import (
	"github.com/YAtOff/s3rsync/internal/rsync"
	"github.com/spf13/cobra"
)

// rsyncCmd exposes the delta primitives directly, mainly for debugging blobs
// pulled out of the internal bucket.
var rsyncCmd = &cobra.Command{
	Use:   "rsync",
	Short: "Run rsync primitives on local files",
}

var signatureCmd = &cobra.Command{
	Use:   "signature <base> <signature>",
	Short: "Compute the signature of a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rsync.Signature(args[0], args[1])
	},
}

var deltaCmd = &cobra.Command{
	Use:   "delta <signature> <new> <delta>",
	Short: "Compute a delta from a signature to a new file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rsync.Delta(args[0], args[1], args[2])
	},
}

var patchCmd = &cobra.Command{
	Use:   "patch <base> <delta> <out>",
	Short: "Apply a delta to a base file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rsync.Patch(args[0], args[1], args[2])
	},
}

func init() {
	rsyncCmd.AddCommand(signatureCmd, deltaCmd, patchCmd)
}
