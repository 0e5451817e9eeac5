package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/firealarmweb/firealarm/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if output == "json" {
			data, _ := json.MarshalIndent(config.GetBuildInfo(), "", "  ")
			fmt.Println(string(data))
			return
		}
		fmt.Println(config.VersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
