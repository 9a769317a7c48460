package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cisentry/cisentry/internal/config"
)

// Restores the incident database from the .bak sibling written by
// db_backup, replacing whatever is at the configured path.
func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	src := cfg.DatabasePath + ".bak"
	dst := cfg.DatabasePath

	if _, err := os.Stat(src); err != nil {
		fmt.Fprintf(os.Stderr, "No backup to restore: %v\n", err)
		os.Exit(1)
	}

	n, err := copyFile(src, dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Restore error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Restored %s from %s (%d bytes)\n", dst, src, n)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}

	return n, out.Close()
}
