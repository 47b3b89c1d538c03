package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/vaultfs/pkg/config"
	"github.com/cuemby/vaultfs/pkg/engine"
	"github.com/cuemby/vaultfs/pkg/log"
	"github.com/cuemby/vaultfs/pkg/metrics"
	"github.com/cuemby/vaultfs/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vaultfs",
	Short: "vaultfs - Encrypted content-addressed blob storage",
	Long: `vaultfs stores arbitrary-sized blobs as balanced trees of
fixed-size encrypted blocks. Every block is sealed individually with an
authenticated cipher, so the backing storage only ever sees ciphertext.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vaultfs version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withEngine opens the store, runs fn and tears the store down.
func withEngine(dir string, fn func(ctx context.Context, eng *engine.Engine) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	eng, err := engine.Open(dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(context.Background()); err != nil {
			log.Errorf("store teardown failed", err)
		}
	}()

	return fn(ctx, eng)
}

var initCmd = &cobra.Command{
	Use:   "init <store-dir>",
	Short: "Initialize a new store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		cfg.Backend, _ = cmd.Flags().GetString("backend")
		cfg.Cipher, _ = cmd.Flags().GetString("cipher")
		cfg.PhysicalBlockSize, _ = cmd.Flags().GetUint64("block-size")

		if err := engine.Init(args[0], cfg); err != nil {
			return err
		}
		fmt.Printf("Initialized %s store at %s\n", cfg.Backend, args[0])
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <store-dir> <file>",
	Short: "Store a file as a new blob and print its id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		return withEngine(args[0], func(ctx context.Context, eng *engine.Engine) error {
			blob, err := eng.Blobs.Create(ctx)
			if err != nil {
				return err
			}
			if err := blob.WriteAt(ctx, content, 0); err != nil {
				return err
			}
			fmt.Println(blob.Id())
			return nil
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <store-dir> <blob-id>",
	Short: "Read a blob and write it to stdout or a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blobId, err := types.BlobIdFromString(args[1])
		if err != nil {
			return err
		}
		outPath, _ := cmd.Flags().GetString("output")

		return withEngine(args[0], func(ctx context.Context, eng *engine.Engine) error {
			blob, err := eng.Blobs.Load(ctx, blobId)
			if err != nil {
				return err
			}
			size, err := blob.NumBytes(ctx)
			if err != nil {
				return err
			}
			content := make([]byte, size)
			if _, err := blob.ReadAt(ctx, content, 0); err != nil {
				return err
			}

			var out io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("failed to create output: %w", err)
				}
				defer f.Close()
				out = f
			}
			_, err = out.Write(content)
			return err
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <store-dir> <blob-id>",
	Short: "Remove a blob and all its blocks",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		blobId, err := types.BlobIdFromString(args[1])
		if err != nil {
			return err
		}

		return withEngine(args[0], func(ctx context.Context, eng *engine.Engine) error {
			removed, err := eng.Blobs.RemoveById(ctx, blobId)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("blob %s not found", blobId)
			}
			fmt.Printf("Removed %s\n", blobId)
			return nil
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <store-dir>",
	Short: "List all block ids in the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(args[0], func(ctx context.Context, eng *engine.Engine) error {
			ch, err := eng.Blocks.AllBlocks(ctx)
			if err != nil {
				return err
			}
			for id := range ch {
				fmt.Println(id)
			}
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <store-dir>",
	Short: "Print store statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		return withEngine(args[0], func(ctx context.Context, eng *engine.Engine) error {
			if metricsAddr != "" {
				go func() {
					http.Handle("/metrics", metrics.Handler())
					if err := http.ListenAndServe(metricsAddr, nil); err != nil {
						log.Errorf("metrics server failed", err)
					}
				}()
			}

			numBlocks, err := eng.Blocks.NumBlocks(ctx)
			if err != nil {
				return err
			}
			freeBytes, err := eng.Blocks.EstimateNumFreeBytes()
			if err != nil {
				return err
			}
			blockSize, err := eng.Blocks.BlockSizeFromPhysicalBlockSize(eng.Config().PhysicalBlockSize)
			if err != nil {
				return err
			}

			fmt.Printf("Backend:              %s\n", eng.Config().Backend)
			fmt.Printf("Cipher:               %s\n", eng.Config().Cipher)
			fmt.Printf("Physical block size:  %d bytes\n", eng.Config().PhysicalBlockSize)
			fmt.Printf("Plaintext block size: %d bytes\n", blockSize)
			fmt.Printf("Blocks:               %d\n", numBlocks)
			fmt.Printf("Estimated free:       %d bytes\n", freeBytes)
			return nil
		})
	},
}

func init() {
	initCmd.Flags().String("backend", config.BackendOnDisk, "Block store backend (ondisk, boltdb, inmemory)")
	initCmd.Flags().String("cipher", "aes-256-gcm", "Block cipher (aes-256-gcm, xchacha20-poly1305)")
	initCmd.Flags().Uint64("block-size", config.DefaultPhysicalBlockSize, "Physical block size in bytes")
	getCmd.Flags().String("output", "", "Write the blob to a file instead of stdout")
	statsCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
}
