// Command libosctl is a host-side shim standing in for the enclave
// loader: it resolves an ELF path, calls entry.Boot then entry.Run,
// and prints the resulting exit status.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"libos/src/entry"
	"libos/src/storage"
)

func main() {
	var (
		path       string
		argv       []string
		storageDir string
		verbose    bool
	)

	root := &cobra.Command{
		Use:   "libosctl",
		Short: "Boot and run a statically linked ELF binary inside the library OS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if path == "" {
				return fmt.Errorf("--path is required")
			}

			var (
				elfBuf []byte
				dev    *storage.Device
			)
			if storageDir != "" {
				dev = storage.NewDevice(storageDir, true)
			} else {
				buf, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				elfBuf = buf
			}

			if err := entry.Boot(elfBuf, path, argv, dev, nil); err != nil {
				return fmt.Errorf("boot failed: %w", err)
			}

			status, err := entry.Run()
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}

			fmt.Println("exit status:", status)
			if status != 0 {
				os.Exit(status)
			}
			return nil
		},
	}

	root.Flags().StringVar(&path, "path", "", "path of the ELF binary to boot (required)")
	root.Flags().StringArrayVar(&argv, "argv", nil, "argument to pass to the booted program (repeatable)")
	root.Flags().StringVar(&storageDir, "storage-dir", "", "resolve --path against a protected-file storage device rooted here, instead of reading it as a plain file")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(entry.ExitStatusInternalError)
	}
}
