package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stayware/bookingest/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample bookingest configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/bookingest/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  bookingest init

  # Initialize with custom path
  bookingest init --config /etc/bookingest/config.yaml

  # Force overwrite existing config
  bookingest init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to point at your MongoDB, Redis, RabbitMQ and S3")
	fmt.Println("  2. Start the upload API with: bookingest api")
	fmt.Println("  3. Start one or more workers with: bookingest worker")

	return nil
}
