package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/MixyLabs/vmlink/pkg/vmlink"
	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	configPath string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vmlink:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vmlink",
		Short:         "Mirror the system volume onto a Voicemeeter channel and reroute on device hotplug",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRun,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the config file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run in the background (the default)",
			Args:  cobra.NoArgs,
			RunE:  runRun,
		},
		newListCommand(),
		&cobra.Command{
			Use:   "restart",
			Short: "Restart the engine's audio processing",
			Args:  cobra.NoArgs,
			RunE:  runRestart,
		},
		&cobra.Command{
			Use:       "route present|absent",
			Short:     "Apply the toggle routing as if the watched device were present or absent",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"present", "absent"},
			RunE:      runRoute,
		},
		newDevicesCommand(),
		&cobra.Command{
			Use:   "volume [device]",
			Short: "Print the OS volume the mirror reads (default output device if none given)",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runVolume,
		},
	)

	return rootCmd
}

func newLogger() (*zap.SugaredLogger, error) {
	logger, err := vmlink.NewLogger(buildType, verbose)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	return logger, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	named := logger.Named("main")

	v, err := vmlink.NewVMLink(logger, configPath, verbose)
	if err != nil {
		named.Fatalw("Failed to create vmlink object", "error", err)
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		v.SetVersion(versionString)
	}

	if err = v.Initialize(); err != nil {
		named.Fatalw("Failed to initialize vmlink", "error", err)
	}

	return nil
}

// connect runs fn against a connected engine session and always closes it
func connect(cmd *cobra.Command, fn func(v *vmlink.VMLink) error) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	v, err := vmlink.NewVMLink(logger, configPath, verbose)
	if err != nil {
		return err
	}

	if err := v.Connect(cmd.Context()); err != nil {
		return err
	}

	fnErr := fn(v)
	closeErr := v.Close()

	_ = logger.Sync()

	if fnErr != nil {
		return fnErr
	}

	return closeErr
}

func newListCommand() *cobra.Command {
	var asYAML bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the volume and mute state of every strip and bus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connect(cmd, func(v *vmlink.VMLink) error {
				channels := v.Channels()
				out := cmd.OutOrStdout()

				if asYAML {
					encoded, err := yaml.Marshal(channels)
					if err != nil {
						return fmt.Errorf("marshal channel table: %w", err)
					}

					_, err = out.Write(encoded)
					return err
				}

				rows := make([][]string, 0, len(channels))
				for _, channel := range channels {
					rows = append(rows, []string{channel.Name,
						fmt.Sprintf("%.2f%%", channel.State.VolumePercent),
						strconv.FormatBool(channel.State.Muted)})
				}

				fmt.Fprintln(out, v.Variant().String())
				fmt.Fprintln(out, renderTable([]string{"CHANNEL", "VOLUME", "MUTED"}, rows))

				return nil
			})
		},
	}

	listCmd.Flags().BoolVar(&asYAML, "yaml", false, "print the table as YAML")

	return listCmd
}

func runRestart(cmd *cobra.Command, args []string) error {
	return connect(cmd, func(v *vmlink.VMLink) error {
		return v.RestartEngine(cmd.Context())
	})
}

func runRoute(cmd *cobra.Command, args []string) error {
	present := args[0] == "present"

	return connect(cmd, func(v *vmlink.VMLink) error {
		return v.Route(cmd.Context(), present)
	})
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}

			return cellStyle
		})

	return t.Render()
}

func newDevicesCommand() *cobra.Command {
	var (
		watch  bool
		asYAML bool
	)

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices and their ids, optionally watching for plug/unplug events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			notifier, err := vmlink.NewDeviceNotifier(logger)
			if err != nil {
				return fmt.Errorf("create device notifier: %w", err)
			}
			defer func() { _ = notifier.Release() }()

			devices, err := vmlink.ListDevices(notifier)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if asYAML {
				encoded, err := yaml.Marshal(devices)
				if err != nil {
					return fmt.Errorf("marshal device list: %w", err)
				}

				if _, err := out.Write(encoded); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(devices))
				for _, device := range devices {
					rows = append(rows, []string{string(device.Flow), device.Name, device.ID})
				}

				fmt.Fprintln(out, renderTable([]string{"FLOW", "NAME", "ID"}, rows))
			}

			if !watch {
				return nil
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			interruptChannel := util.SetupCloseHandler()
			go func() {
				select {
				case <-interruptChannel:
					cancel()
				case <-ctx.Done():
				}
			}()

			fmt.Fprintln(out, "Watching for device changes, press ctrl+C to stop")

			return vmlink.WatchDevices(ctx, notifier, out)
		},
	}

	devicesCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and print device events")
	devicesCmd.Flags().BoolVar(&asYAML, "yaml", false, "print the device list as YAML")

	return devicesCmd
}

func runVolume(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deviceID := ""
	if len(args) == 1 {
		deviceID = args[0]
	}

	key, state, err := vmlink.ReadOSVolume(logger, deviceID)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ENDPOINT", "VOLUME", "MUTED"}, [][]string{{
		key,
		fmt.Sprintf("%.2f%%", state.VolumePercent),
		strconv.FormatBool(state.Muted),
	}}))

	return nil
}
