package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aurbuild/aurbuild/pkg/client"
	"github.com/aurbuild/aurbuild/pkg/types"
)

// serverAddr is where the CLI subcommands reach a running coordinator.
var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:3200", "Coordinator address")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(addURLCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(logsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the packages the coordinator is managing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, err := client.New(serverAddr).Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(status.Packages) == 0 {
			fmt.Println("No packages are being managed")
			return nil
		}
		for _, pkg := range status.Packages {
			fmt.Println(pkg)
		}
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add <package>...",
	Short: "Track AUR packages and build them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.New(serverAddr).AddPackages(cmd.Context(), args)
		if err != nil {
			return err
		}
		if len(response.Added) > 0 {
			fmt.Println("Added", types.JoinForDisplay(response.Added))
		}
		if len(response.AlreadyTracked) > 0 {
			fmt.Println("Already tracked:", types.JoinForDisplay(response.AlreadyTracked))
		}
		if len(response.NotFound) > 0 {
			fmt.Println("Not found in the AUR:", types.JoinForDisplay(response.NotFound))
		}
		return nil
	},
}

var addURLCmd = &cobra.Command{
	Use:   "add-url <url>",
	Short: "Track a package from a clonable PKGBUILD repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.New(serverAddr).AddPackageURL(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		switch response.Status {
		case types.AddURLOk:
			fmt.Println("Added", response.Name)
		case types.AddURLAlreadyAdded:
			fmt.Println("Already tracked:", response.Name)
		default:
			return fmt.Errorf("could not add package: %s", response.Error)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <package>...",
	Short: "Stop tracking packages and drop their artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.New(serverAddr).RemovePackages(cmd.Context(), args)
		if err != nil {
			return err
		}
		if len(response.Removed) > 0 {
			fmt.Println("Removed", types.JoinForDisplay(response.Removed))
		}
		if len(response.NotTracked) > 0 {
			fmt.Println("Not tracked:", types.JoinForDisplay(response.NotTracked))
		}
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <package>...",
	Short: "Queue fresh builds for tracked packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		response, err := client.New(serverAddr).ForceRebuild(cmd.Context(), args)
		if err != nil {
			return err
		}
		if len(response.NotFound) > 0 {
			return fmt.Errorf("not tracked: %s", types.JoinForDisplay(response.NotFound))
		}
		fmt.Println("Queued", types.JoinForDisplay(args))
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs [index]",
	Short: "List failed-build logs, or print one by index",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverAddr)

		if len(args) == 1 {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid log index %q", args[0])
			}
			content, err := c.Log(cmd.Context(), index)
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		}

		logs, err := c.Logs(cmd.Context())
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("No failed builds on record")
			return nil
		}
		for i, info := range logs {
			fmt.Printf("%3d  %s  %s\n", i, info.Time, info.Package)
		}
		return nil
	},
}
