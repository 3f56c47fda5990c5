// Command compressor drives a workload through the Vulkan frame loop.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/xlab/closer"
	"gopkg.in/yaml.v3"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/vkdriver"
	"github.com/andewx/compressor/workload"
)

func init() {
	// GLFW and SDL must be called from the main thread.
	runtime.LockOSThread()
}

func main() {
	defer closer.Close()

	if err := rootCmd().Execute(); err != nil {
		closer.Fatalln(err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "compressor",
		Short:         "Run compression workloads on a Vulkan swapchain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	root.AddCommand(runCmd(), devicesCmd(), configCmd())
	return root
}

// loadConfig reads the --config file, or the defaults when none is given.
func loadConfig(cmd *cobra.Command) (*compressor.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return compressor.DefaultConfig(), nil
	}
	return compressor.LoadConfig(path)
}

func setupLogging(cfg compressor.LogConfig) error {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return errors.Wrap(err, "log.level")
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return errors.Errorf("log.format must be text or json, got %q", cfg.Format)
	}
	compressor.SetLogger(slog.New(h))
	return nil
}

func runCmd() *cobra.Command {
	var (
		frames int
		name   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open a window and run the configured workload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if name != "" && name != cfg.Workload.Name {
				cfg.Workload = compressor.WorkloadConfig{Name: name}
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, frames)
		},
	}
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "stop after this many frames, 0 runs until the window closes")
	cmd.Flags().StringVarP(&name, "workload", "w", "",
		fmt.Sprintf("workload to run (%s)", strings.Join(workload.Names(), ", ")))
	return cmd
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the Vulkan physical devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gpus, err := vkdriver.Enumerate(vkdriver.Options{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, gpu := range gpus {
				fmt.Fprintf(out, "%d: %s (%s)\n", i, gpu.Name, gpu.Type)
				fmt.Fprintf(out, "   api %s, driver %#x, %d MiB device local\n",
					gpu.APIVersion, gpu.DriverVersion, gpu.DeviceLocal>>20)
				fmt.Fprintf(out, "   swapchain: %v, %d extensions\n", gpu.Swapchain, gpu.Extensions)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
