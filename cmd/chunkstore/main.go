// Command chunkstore saves, prints and copies chunked stores.
//
//	chunkstore save ./data/users users.json.gz
//	chunkstore cat --format pretty --limit 10 ./data/users
//	chunkstore push ./data/users backups/users
package main

import (
	"fmt"
	"os"

	"github.com/kjk/toolkit/chunkstore"
	"github.com/kjk/toolkit/log"
	"github.com/spf13/cobra"
)

type app struct {
	config *Config
}

// store returns store settings for directory dir
func (a *app) store(dir string) *chunkstore.Store {
	s := a.config.Store
	s.Dir = dir
	return &s
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "chunkstore",
		Short:         "Save and read chunked stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path of yaml config file")
	flags.Bool("verbose", false, "verbose logging")
	flags.String("log-dir", "", "directory for daily log files")
	flags.String("compression", "", "chunk compression: none, zstd, brotli or gzip")
	flags.String("target-size", "", "target size of a chunk e.g. 10MB")
	flags.Bool("overwrite", false, "allow over-writing an existing store")

	rootCmd.AddCommand(
		newSaveCmd(a),
		newCatCmd(a),
		newLenCmd(a),
		newInfoCmd(a),
		newDiffCmd(a),
		newPushCmd(a),
		newPullCmd(a),
		newPackCmd(a),
		newUnpackCmd(a),
	)
	return rootCmd
}

// setup loads config file and applies flags on top of it
func (a *app) setup(cmd *cobra.Command) error {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	c, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if flags.Changed("verbose") {
		c.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("log-dir") {
		c.LogDir, _ = flags.GetString("log-dir")
	}
	if flags.Changed("compression") {
		s, _ := flags.GetString("compression")
		if c.Store.Compression, err = chunkstore.ParseCompression(s); err != nil {
			return err
		}
	}
	if flags.Changed("target-size") {
		s, _ := flags.GetString("target-size")
		n, err := parseSize(s)
		if err != nil {
			return fmt.Errorf("--target-size: %w", err)
		}
		c.Store.TargetChunkSize = n
		c.Store.StreamTargetChunkSize = n
	}
	if flags.Changed("overwrite") {
		c.Store.AllowOverwrite, _ = flags.GetBool("overwrite")
	}
	a.config = c

	log.Verbose = c.Verbose
	log.Out = cmd.ErrOrStderr()
	if c.LogDir != "" {
		log.Init(&log.Config{
			Dir:     c.LogDir,
			Verbose: c.Verbose,
		})
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
