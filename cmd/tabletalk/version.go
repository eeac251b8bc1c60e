package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tabletalk-dev/tabletalk/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of tabletalk in JSON format.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		out, err := version.Get().JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}
